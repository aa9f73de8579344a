package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"grid-trader/internal/models"
)

// PaperExchange implements Exchange and FillFeed for paper trading. Orders
// rest in memory and fill when the simulated (or observed) price crosses
// them; fills are delivered on the feed channel like a real push feed.
type PaperExchange struct {
	// Real exchange for market data, optional
	dataExchange Exchange

	orders       map[string]LimitOrderRequest
	orderCounter int
	tradeCounter int
	lastPrice    float64

	fills chan models.Fill
	mu    sync.Mutex
}

// PaperExchangeConfig holds configuration for the paper exchange.
type PaperExchangeConfig struct {
	DataExchange Exchange
	StartPrice   float64
}

// NewPaperExchange creates a new paper trading exchange.
func NewPaperExchange(cfg PaperExchangeConfig) *PaperExchange {
	startPrice := cfg.StartPrice
	if startPrice == 0 {
		startPrice = 50000
	}
	return &PaperExchange{
		dataExchange: cfg.DataExchange,
		orders:       make(map[string]LimitOrderRequest),
		lastPrice:    startPrice,
		fills:        make(chan models.Fill, 256),
	}
}

// PlaceLimitOrder simulates order placement.
func (p *PaperExchange) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)
	p.orders[orderID] = req

	return &OrderResult{OrderID: orderID, Status: "open"}, nil
}

// CancelOrder removes a resting simulated order.
func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(p.orders, orderID)
	return nil
}

// GetCandles delegates to the data exchange when configured, otherwise
// synthesizes a random walk around the last simulated price.
func (p *PaperExchange) GetCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	if p.dataExchange != nil {
		return p.dataExchange.GetCandles(ctx, req)
	}

	p.mu.Lock()
	price := p.lastPrice
	p.mu.Unlock()

	candles := make([]models.Candle, req.Count)
	now := time.Now()
	for i := range candles {
		drift := price * 0.002 * (rand.Float64() - 0.5)
		open := price
		price += drift
		high := open
		if price > high {
			high = price
		}
		low := open
		if price < low {
			low = price
		}
		candles[i] = models.Candle{
			Timestamp: now.Add(-time.Duration(req.Count-i) * req.Granularity),
			Open:      open,
			High:      high * 1.001,
			Low:       low * 0.999,
			Close:     price,
			Volume:    rand.Float64() * 100,
		}
	}

	p.mu.Lock()
	p.lastPrice = price
	p.mu.Unlock()

	return candles, nil
}

// ListRecentFills returns nothing; the paper exchange delivers fills over
// its push channel only.
func (p *PaperExchange) ListRecentFills(ctx context.Context, symbol string) ([]models.Fill, error) {
	return nil, nil
}

// SetPrice moves the simulated price and fills any crossed resting orders:
// buys fill at or below the new price, sells at or above.
func (p *PaperExchange) SetPrice(price float64) {
	p.mu.Lock()
	p.lastPrice = price

	var filled []models.Fill
	for id, order := range p.orders {
		crossed := (order.Side == models.OrderSideBuy && price <= order.Price) ||
			(order.Side == models.OrderSideSell && price >= order.Price)
		if !crossed {
			continue
		}
		delete(p.orders, id)
		p.tradeCounter++
		filled = append(filled, models.Fill{
			TradeID:   fmt.Sprintf("PAPERTRADE_%d", p.tradeCounter),
			OrderID:   id,
			Side:      order.Side,
			Price:     order.Price,
			Size:      order.Size,
			Timestamp: time.Now(),
		})
	}
	p.mu.Unlock()

	for _, fill := range filled {
		p.fills <- fill
	}
}

// OpenOrderCount returns the number of resting simulated orders.
func (p *PaperExchange) OpenOrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Fills returns the simulated fill channel.
func (p *PaperExchange) Fills() <-chan models.Fill {
	return p.fills
}

// Start is a no-op; the paper feed is always live.
func (p *PaperExchange) Start(ctx context.Context) error {
	return nil
}

// Stop is a no-op for paper trading.
func (p *PaperExchange) Stop() error {
	return nil
}
