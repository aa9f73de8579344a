package models

import "time"

// Order represents a limit order tracked by the ledger. The ledger owns an
// order from placement until it is filled or cancelled.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Price     float64
	Size      float64
	IsMirror  bool
	ParentID  string // set only on mirror orders; refers to the origin order
	CreatedAt time.Time
}

// PendingPosition represents an open round trip: an entry order that has
// filled and is waiting for its mirror order to fill. Keyed by the origin
// order id.
type PendingPosition struct {
	OriginOrderID string
	Side          OrderSide
	EntryPrice    float64
	EntrySize     float64
	OpenedAt      time.Time
}
