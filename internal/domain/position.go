package domain

import "time"

// Position represents one open holding in the paper portfolio. A position
// with zero quantity is deleted, never stored. Thresholds are tri-state:
// a nil pointer means "not set" and, on updates, "leave unchanged" -- 0 is a
// legitimate price boundary and must not be conflated with unset.
type Position struct {
	Symbol       string    // Trading symbol (e.g., "BTC")
	Quantity     float64   // Size of the holding, always > 0 while stored
	AveragePrice float64   // Volume-weighted entry price
	StopLoss     *float64  // Protective floor, < AveragePrice when set
	TakeProfit   *float64  // Protective ceiling, > AveragePrice when set
	OpenedAt     time.Time // When the position was first opened
	UpdatedAt    time.Time // Last mutation (fills, threshold changes)
}

// IsArmed reports whether the position carries at least one protective
// threshold and therefore needs monitoring.
func (p *Position) IsArmed() bool {
	return p.StopLoss != nil || p.TakeProfit != nil
}

// StopLossHit reports whether the price has crossed the stop-loss floor.
func (p *Position) StopLossHit(price float64) bool {
	return p.StopLoss != nil && price <= *p.StopLoss
}

// TakeProfitHit reports whether the price has crossed the take-profit ceiling.
func (p *Position) TakeProfitHit(price float64) bool {
	return p.TakeProfit != nil && price >= *p.TakeProfit
}
