// Package history provides persistence for the realized trade history.
package history

import (
	"grid-trader/internal/models"
)

// Store defines the interface for trade history persistence. Records are
// append-only and ordered; the full sequence survives process restarts.
type Store interface {
	// Append adds a record and persists the updated history. On a
	// persistence failure the record is retained in memory and the write
	// is retried on the next Append.
	Append(record models.TradeRecord) error

	// All returns the complete ordered history.
	All() ([]models.TradeRecord, error)

	// Recent returns the last n records in chronological order.
	Recent(n int) ([]models.TradeRecord, error)

	// RealizedPnl returns the sum of profit over the whole history.
	RealizedPnl() (float64, error)

	// Lifecycle
	Close() error
}

// HistoryFileName is the name of the persisted JSON document under the data
// directory.
const HistoryFileName = "fill_history.json"
