package domain

import "time"

// Quote is a normalized point-in-time price for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Change24h float64 // 24h change in percent, 0 when the feed omits it
	AsOf      time.Time
}

// PricePoint is one sample of a historical series.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// Series is an ordered (oldest first) sequence of price samples.
type Series []PricePoint

// TriggerType identifies what fired during a monitor tick.
type TriggerType string

const (
	TriggerStopLoss   TriggerType = "STOP_LOSS"
	TriggerTakeProfit TriggerType = "TAKE_PROFIT"
	TriggerBuyLimit   TriggerType = "BUY_LIMIT"
	TriggerSellLimit  TriggerType = "SELL_LIMIT"
)

// TriggerEvent is the notification payload emitted once per fired trigger.
type TriggerEvent struct {
	Type         TriggerType
	Symbol       string
	TriggerPrice float64
	PNL          *float64 // Realized profit when computable, nil otherwise
	At           time.Time
}
