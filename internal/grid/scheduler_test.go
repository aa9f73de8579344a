package grid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	"grid-trader/internal/exchange"
	"grid-trader/internal/models"
	"grid-trader/internal/notify"
)

// stubExchange is a deterministic in-memory exchange for strategy
// tests.
type stubExchange struct {
	mu         sync.Mutex
	nextID     int
	placed     []exchange.LimitOrderRequest
	cancelled  []string
	failCancel map[string]bool
	candles    []models.Candle

	// When set, GetCandles signals candlesEntered and then blocks
	// until candleGate is closed.
	candleGate     chan struct{}
	candlesEntered chan struct{}
}

func newStubExchange(candles []models.Candle) *stubExchange {
	return &stubExchange{
		failCancel: make(map[string]bool),
		candles:    candles,
	}
}

func (s *stubExchange) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.placed = append(s.placed, req)
	return &exchange.OrderResult{OrderID: fmt.Sprintf("EX_%d", s.nextID), Status: "open"}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCancel[orderID] {
		return fmt.Errorf("cancel rejected for %s", orderID)
	}
	s.cancelled = append(s.cancelled, orderID)
	return nil
}

func (s *stubExchange) GetCandles(ctx context.Context, req exchange.CandleRequest) ([]models.Candle, error) {
	s.mu.Lock()
	gate, entered := s.candleGate, s.candlesEntered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return s.candles, nil
}

func (s *stubExchange) ListRecentFills(ctx context.Context, symbol string) ([]models.Fill, error) {
	return nil, nil
}

func (s *stubExchange) placedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placed)
}

func (s *stubExchange) cancelledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cancelled))
	copy(out, s.cancelled)
	return out
}

// stubFeed is a hand-driven fill feed.
type stubFeed struct {
	ch chan models.Fill
}

func newStubFeed() *stubFeed {
	return &stubFeed{ch: make(chan models.Fill, 16)}
}

func (f *stubFeed) Start(ctx context.Context) error { return nil }
func (f *stubFeed) Stop() error                     { return nil }
func (f *stubFeed) Fills() <-chan models.Fill       { return f.ch }

// memStore is an in-memory history store.
type memStore struct {
	mu      sync.Mutex
	records []models.TradeRecord

	// When set, Append signals appendEntered and then blocks until
	// appendGate is closed.
	appendGate    chan struct{}
	appendEntered chan struct{}
}

func (m *memStore) Append(r models.TradeRecord) error {
	m.mu.Lock()
	gate, entered := m.appendGate, m.appendEntered
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) All() ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memStore) Recent(n int) ([]models.TradeRecord, error) {
	all, _ := m.All()
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memStore) RealizedPnl() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, r := range m.records {
		sum += r.Profit
	}
	return sum, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// flatCandles builds candles with a constant true range of 10 around a
// constant close, so the volatility estimate is exactly 10.
func flatCandles(n int, price float64) []models.Candle {
	candles := make([]models.Candle, n)
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 5,
			Low:       price - 5,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

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
		FeedMode:       "poll",
	}
}

func newTestStrategy(t *testing.T, ex *stubExchange) (*Strategy, *stubFeed, *memStore) {
	t.Helper()
	feed := newStubFeed()
	store := &memStore{}
	s := NewStrategy(testConfig(), ex, feed, store, notify.NewNoOpNotifier(), zerolog.Nop())
	return s, feed, store
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestStrategy_StartPlacesFullGrid(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, _, _ := newTestStrategy(t, ex)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	if got := s.Ledger().OrderCount(); got != 5 {
		t.Errorf("expected 5 tracked orders, got %d", got)
	}
	if ex.placedCount() != 5 {
		t.Errorf("expected 5 placements, got %d", ex.placedCount())
	}
	if s.State() != StateGridActive {
		t.Errorf("expected grid_active, got %s", s.State())
	}
}

func TestStrategy_FillFlowToTradeRecord(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, feed, store := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	var buyEntry models.Order
	for _, o := range s.Ledger().EntryOrders() {
		if o.Side == models.OrderSideBuy {
			buyEntry = o
			break
		}
	}
	if buyEntry.ID == "" {
		t.Fatal("no buy entry placed")
	}

	feed.ch <- models.Fill{
		TradeID: "t1", OrderID: buyEntry.ID, Side: models.OrderSideBuy,
		Price: buyEntry.Price, Size: buyEntry.Size, Timestamp: time.Now(),
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(s.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")

	mirror := s.Ledger().MirrorOrders()[0]
	if mirror.Side != models.OrderSideSell {
		t.Errorf("expected SELL mirror, got %s", mirror.Side)
	}
	if mirror.ParentID != buyEntry.ID {
		t.Errorf("mirror parent mismatch: %s", mirror.ParentID)
	}

	feed.ch <- models.Fill{
		TradeID: "t2", OrderID: mirror.ID, Side: mirror.Side,
		Price: mirror.Price, Size: mirror.Size, Timestamp: time.Now(),
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.count() == 1
	}, "trade recorded")

	summary, err := s.PnlSummary()
	if err != nil {
		t.Fatalf("pnl summary failed: %v", err)
	}
	if summary.OpenPositionCount != 0 {
		t.Errorf("expected no open positions, got %d", summary.OpenPositionCount)
	}
	if summary.RealizedPnl <= 0 {
		t.Errorf("take-profit close should realize a gain, got %f", summary.RealizedPnl)
	}
	if len(summary.RecentTrades) != 1 {
		t.Errorf("expected one recent trade, got %d", len(summary.RecentTrades))
	}
}

func TestStrategy_DuplicateFillsIgnored(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, feed, _ := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	entry := s.Ledger().EntryOrders()[0]
	fill := models.Fill{
		TradeID: "t1", OrderID: entry.ID, Side: entry.Side,
		Price: entry.Price, Size: entry.Size, Timestamp: time.Now(),
	}
	feed.ch <- fill
	feed.ch <- fill
	feed.ch <- fill

	waitFor(t, 2*time.Second, func() bool {
		return len(s.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")

	// Give the duplicates time to drain, then confirm nothing extra
	// happened.
	time.Sleep(50 * time.Millisecond)
	if got := len(s.Ledger().MirrorOrders()); got != 1 {
		t.Errorf("expected exactly one mirror, got %d", got)
	}
	if ex.placedCount() != 6 {
		t.Errorf("expected 6 placements total, got %d", ex.placedCount())
	}
}

func TestStrategy_RebuildSparesMirrors(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, feed, _ := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	entry := s.Ledger().EntryOrders()[0]
	feed.ch <- models.Fill{
		TradeID: "t1", OrderID: entry.ID, Side: entry.Side,
		Price: entry.Price, Size: entry.Size, Timestamp: time.Now(),
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(s.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")
	mirrorID := s.Ledger().MirrorOrders()[0].ID

	s.Rebuild(context.Background())

	for _, id := range ex.cancelledIDs() {
		if id == mirrorID {
			t.Fatal("rebuild cancelled a mirror order")
		}
	}

	mirrors := s.Ledger().MirrorOrders()
	if len(mirrors) != 1 || mirrors[0].ID != mirrorID {
		t.Errorf("mirror lost across rebuild: %+v", mirrors)
	}
	// Entry ladder fully replaced.
	if got := len(s.Ledger().EntryOrders()); got != 5 {
		t.Errorf("expected 5 fresh entries after rebuild, got %d", got)
	}
}

func TestStrategy_FailedCancelKeepsOrderTracked(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, _, _ := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	stuck := s.Ledger().EntryOrders()[0]
	ex.mu.Lock()
	ex.failCancel[stuck.ID] = true
	ex.mu.Unlock()

	s.cancelEntries(context.Background())

	found := false
	for _, o := range s.Ledger().EntryOrders() {
		if o.ID == stuck.ID {
			found = true
		}
	}
	if !found {
		t.Error("order with failed cancel was dropped from the ledger")
	}
	if got := len(s.Ledger().EntryOrders()); got != 1 {
		t.Errorf("expected only the stuck entry to remain, got %d", got)
	}
}

func TestStrategy_StopIsIdempotent(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, _, _ := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	s.Stop()
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	// Stop never cancels resting orders.
	if len(ex.cancelledIDs()) != 0 {
		t.Errorf("stop cancelled orders: %v", ex.cancelledIDs())
	}
}

func TestStrategy_StopDuringRebuildStaysStopped(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, _, _ := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	entered := make(chan struct{})
	gate := make(chan struct{})
	ex.mu.Lock()
	ex.candlesEntered = entered
	ex.candleGate = gate
	ex.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.Rebuild(context.Background())
		close(done)
	}()

	// The rebuild is held inside its plan computation when Stop runs.
	<-entered
	s.Stop()
	close(gate)
	<-done

	if got := s.State(); got != StateStopped {
		t.Errorf("rebuild finishing after stop revived the strategy: %s", got)
	}
}

func TestStrategy_PnlSnapshotSeesInFlightClose(t *testing.T) {
	ex := newStubExchange(flatCandles(60, 1000))
	s, feed, store := newTestStrategy(t, ex)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	entry := s.Ledger().EntryOrders()[0]
	feed.ch <- models.Fill{
		TradeID: "t1", OrderID: entry.ID, Side: entry.Side,
		Price: entry.Price, Size: entry.Size, Timestamp: time.Now(),
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(s.Ledger().MirrorOrders()) == 1
	}, "mirror order placed")
	mirror := s.Ledger().MirrorOrders()[0]

	entered := make(chan struct{})
	gate := make(chan struct{})
	store.mu.Lock()
	store.appendEntered = entered
	store.appendGate = gate
	store.mu.Unlock()

	feed.ch <- models.Fill{
		TradeID: "t2", OrderID: mirror.ID, Side: mirror.Side,
		Price: mirror.Price, Size: mirror.Size, Timestamp: time.Now(),
	}
	// The close is now mid-flight: the position has left the ledger but
	// the trade record has not reached the store.
	<-entered

	type result struct {
		summary models.PnlSummary
		err     error
	}
	res := make(chan result, 1)
	go func() {
		summary, err := s.PnlSummary()
		res <- result{summary, err}
	}()

	select {
	case <-res:
		t.Fatal("summary returned while a close was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	r := <-res
	if r.err != nil {
		t.Fatalf("pnl summary failed: %v", r.err)
	}
	if r.summary.OpenPositionCount != 0 || len(r.summary.RecentTrades) != 1 {
		t.Errorf("closed round trip missing from snapshot: open=%d trades=%d",
			r.summary.OpenPositionCount, len(r.summary.RecentTrades))
	}
	if r.summary.RealizedPnl <= 0 {
		t.Errorf("take-profit close should realize a gain, got %f", r.summary.RealizedPnl)
	}
}
