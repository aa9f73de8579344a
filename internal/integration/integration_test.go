// Package integration contains end-to-end tests exercising the full
// strategy loop against the paper exchange and the JSON history store.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	"grid-trader/internal/exchange"
	"grid-trader/internal/grid"
	"grid-trader/internal/history"
	"grid-trader/internal/models"
	"grid-trader/internal/notify"
)

func testConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Symbol:         "BTCUSDT",
		Mode:           "paper",
		Leverage:       10,
		GridSize:       4,
		AdjustInterval: 60,
		ATRWindow:      14,
		TakeProfit:     0.02,
		Budget:         1000,
		PollInterval:   1,
		FeedMode:       "push",
	}
}

// steadyMarket implements just enough of the exchange interface to
// give the paper exchange deterministic candles.
type steadyMarket struct {
	price float64
	tr    float64
}

func (m *steadyMarket) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.OrderResult, error) {
	return nil, nil
}

func (m *steadyMarket) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (m *steadyMarket) GetCandles(ctx context.Context, req exchange.CandleRequest) ([]models.Candle, error) {
	candles := make([]models.Candle, req.Count)
	base := time.Now().Add(-time.Duration(req.Count) * req.Granularity)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * req.Granularity),
			Open:      m.price,
			High:      m.price + m.tr/2,
			Low:       m.price - m.tr/2,
			Close:     m.price,
			Volume:    100,
		}
	}
	return candles, nil
}

func (m *steadyMarket) ListRecentFills(ctx context.Context, symbol string) ([]models.Fill, error) {
	return nil, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// TestPaperRoundTrip drives a full cycle: grid placement, an entry fill
// on a price dip, the mirror fill on the bounce, and the persisted
// trade record.
func TestPaperRoundTrip(t *testing.T) {
	market := &steadyMarket{price: 1000, tr: 10}
	paper := exchange.NewPaperExchange(exchange.PaperExchangeConfig{
		DataExchange: market,
		StartPrice:   1000,
	})

	dataDir := t.TempDir()
	store, err := history.NewJSONStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	strategy := grid.NewStrategy(testConfig(), paper, paper, store, notify.NewNoOpNotifier(), zerolog.Nop())

	if err := strategy.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer strategy.Stop()

	// ATR 10 around mid 1000 with grid size 4 puts the ladder on
	// 980..1020 in steps of 10.
	if got := paper.OpenOrderCount(); got != 5 {
		t.Fatalf("expected 5 resting orders, got %d", got)
	}

	// Dip to the first buy level.
	paper.SetPrice(990)

	waitFor(t, 3*time.Second, func() bool {
		return strategy.Ledger().OpenPositionCount() == 1
	}, "entry fill opens a position")
	waitFor(t, 3*time.Second, func() bool {
		return len(strategy.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")

	mirror := strategy.Ledger().MirrorOrders()[0]
	if mirror.Side != models.OrderSideBuy.Opposite() {
		t.Errorf("expected SELL mirror, got %s", mirror.Side)
	}

	// Bounce through the take-profit price.
	paper.SetPrice(mirror.Price + 1)

	waitFor(t, 3*time.Second, func() bool {
		n, _ := store.RealizedPnl()
		return n > 0
	}, "round trip recorded with positive pnl")
	waitFor(t, 3*time.Second, func() bool {
		return strategy.Ledger().OpenPositionCount() == 2
	}, "sell entries filled on the bounce")

	summary, err := strategy.PnlSummary()
	if err != nil {
		t.Fatalf("pnl summary failed: %v", err)
	}
	if len(summary.RecentTrades) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(summary.RecentTrades))
	}
	// The bounce through the mirror also fills the resting sell
	// entries at 1000 and 1010, opening two fresh positions.
	if summary.OpenPositionCount != 2 {
		t.Errorf("expected 2 open positions after the bounce, got %d", summary.OpenPositionCount)
	}

	trade := summary.RecentTrades[0]
	if trade.Side != models.OrderSideBuy {
		t.Errorf("expected BUY round trip, got %s", trade.Side)
	}
	// Entry at 990, take profit 2% above.
	wantProfit := (990*1.02 - 990) * trade.Size
	if diff := trade.Profit - wantProfit; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected profit %f, got %f", wantProfit, trade.Profit)
	}

	// History survives a restart.
	reopened, err := history.NewJSONStore(dataDir)
	if err != nil {
		t.Fatalf("reopening history failed: %v", err)
	}
	all, _ := reopened.All()
	if len(all) != 1 {
		t.Errorf("expected 1 persisted trade, got %d", len(all))
	}
}

// TestRebuildKeepsProtectiveExit opens a position, forces a rebuild,
// and checks the mirror is still resting afterwards.
func TestRebuildKeepsProtectiveExit(t *testing.T) {
	market := &steadyMarket{price: 1000, tr: 10}
	paper := exchange.NewPaperExchange(exchange.PaperExchangeConfig{
		DataExchange: market,
		StartPrice:   1000,
	})

	store, err := history.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	strategy := grid.NewStrategy(testConfig(), paper, paper, store, notify.NewNoOpNotifier(), zerolog.Nop())
	if err := strategy.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer strategy.Stop()

	paper.SetPrice(990)
	waitFor(t, 3*time.Second, func() bool {
		return len(strategy.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")
	mirrorID := strategy.Ledger().MirrorOrders()[0].ID

	strategy.Rebuild(context.Background())

	mirrors := strategy.Ledger().MirrorOrders()
	if len(mirrors) != 1 || mirrors[0].ID != mirrorID {
		t.Fatalf("mirror lost across rebuild: %+v", mirrors)
	}
	// Fresh full ladder plus the surviving mirror.
	if got := strategy.Ledger().OrderCount(); got != 6 {
		t.Errorf("expected 6 tracked orders after rebuild, got %d", got)
	}

	// The mirror still fills and completes the round trip.
	paper.SetPrice(mirrors[0].Price + 1)
	waitFor(t, 3*time.Second, func() bool {
		n, _ := store.RealizedPnl()
		return n > 0
	}, "mirror filled after rebuild")
}
