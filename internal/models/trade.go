package models

import "time"

// TradeRecord represents a completed round trip. Immutable once created.
//
// Profit sign convention: for a BUY-opened position,
// profit = (closePrice - openPrice) * size; for a SELL-opened position,
// profit = (openPrice - closePrice) * size.
type TradeRecord struct {
	OpenOrderID string    `json:"open_order_id" csv:"open_order_id"`
	Side        OrderSide `json:"side" csv:"side"`
	OpenPrice   float64   `json:"open_price" csv:"open_price"`
	OpenTime    time.Time `json:"open_time" csv:"open_time"`
	ClosePrice  float64   `json:"close_price" csv:"close_price"`
	CloseTime   time.Time `json:"close_time" csv:"close_time"`
	Size        float64   `json:"size" csv:"size"`
	Profit      float64   `json:"profit" csv:"profit"`
}

// PnlSummary is a consistent read-only snapshot of realized performance,
// served to the notification/command channel.
type PnlSummary struct {
	RealizedPnl       float64
	OpenPositionCount int
	RecentTrades      []TradeRecord // last 10, chronological order
}
