// Package exchange provides derivatives exchange integration interfaces and
// implementations.
package exchange

import (
	"context"
	"time"

	"grid-trader/internal/models"
)

// Exchange defines the interface for exchange operations the strategy needs.
type Exchange interface {
	// Orders
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// Market Data
	GetCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error)

	// Fills (poll primitive; push delivery is provided by a FillFeed)
	ListRecentFills(ctx context.Context, symbol string) ([]models.Fill, error)
}

// FillFeed delivers fill events, at-least-once. Both the polling and the
// push implementation may re-deliver the same trade; consumers deduplicate
// by trade id.
type FillFeed interface {
	Start(ctx context.Context) error
	Stop() error
	Fills() <-chan models.Fill
}

// LimitOrderRequest represents a limit order to be placed.
type LimitOrderRequest struct {
	Symbol    string
	Side      models.OrderSide
	Price     float64
	Size      float64
	Leverage  int
	ClientOID string
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
}

// CandleRequest represents a request for recent candles.
type CandleRequest struct {
	Symbol      string
	Granularity time.Duration // candle width
	Count       int           // number of most recent candles
}
