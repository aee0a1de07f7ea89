package domain

import "time"

// OrderKind distinguishes the two resting limit order types.
type OrderKind string

const (
	BuyLimit  OrderKind = "BUY_LIMIT"
	SellLimit OrderKind = "SELL_LIMIT"
)

// OrderStatus is the lifecycle state of a pending order. Terminal states
// (Filled, Cancelled) are immutable.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Sizing carries exactly one of the two sizing modes: quote-denominated for
// buys, percentage-of-position for sells.
type Sizing struct {
	AmountQuote       *float64 // Quote currency to spend, > 0
	PercentOfPosition *float64 // Share of the position to sell, (0, 100]
}

// PendingOrder is a resting instruction to buy or sell once price crosses
// the limit. IDs are opaque, unique, and never reused.
type PendingOrder struct {
	ID         string
	Kind       OrderKind
	Symbol     string
	LimitPrice float64
	Sizing     Sizing
	Status     OrderStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time // Set when the order leaves PENDING
}

// IsTerminal reports whether the order can no longer change state.
func (o *PendingOrder) IsTerminal() bool {
	return o.Status != StatusPending
}

// Triggered reports whether the current price satisfies the limit condition:
// a buy limit fires at or below the limit, a sell limit at or above.
func (o *PendingOrder) Triggered(price float64) bool {
	switch o.Kind {
	case BuyLimit:
		return price <= o.LimitPrice
	case SellLimit:
		return price >= o.LimitPrice
	default:
		return false
	}
}
