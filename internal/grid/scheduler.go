package grid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/exchange"
	"grid-trader/internal/history"
	"grid-trader/internal/models"
	"grid-trader/internal/notify"
	"grid-trader/pkg/utils"
)

// State represents the strategy lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateGridActive State = "grid_active"
	StateRebuilding State = "rebuilding"
	StateStopped    State = "stopped"
)

// Strategy runs the adaptive grid: it builds the initial grid, ingests
// fills from the feed, and rebuilds the entry ladder on a fixed
// interval. Mirror orders are protective exits and are never cancelled
// by a rebuild.
type Strategy struct {
	cfg        config.StrategyConfig
	planner    *Planner
	ledger     *Ledger
	reconciler *Reconciler
	ex         exchange.Exchange
	feed       exchange.FillFeed
	store      history.Store
	notifier   notify.Notifier
	logger     zerolog.Logger
	retry      utils.RetryConfig

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// snapMu serializes fill handling against PnL snapshots, so a
	// closed position is never missing from both the ledger and the
	// store at the moment a summary is taken.
	snapMu sync.Mutex

	recentTradeCount int
}

// NewStrategy wires the strategy from its collaborators.
func NewStrategy(cfg config.StrategyConfig, ex exchange.Exchange, feed exchange.FillFeed, store history.Store, notifier notify.Notifier, logger zerolog.Logger) *Strategy {
	ledger := NewLedger(cfg.TakeProfit)
	return &Strategy{
		cfg:              cfg,
		planner:          NewPlanner(cfg, ex, logger),
		ledger:           ledger,
		reconciler:       NewReconciler(cfg, ledger, ex, store, notifier, logger),
		ex:               ex,
		feed:             feed,
		store:            store,
		notifier:         notifier,
		logger:           logger.With().Str("component", "strategy").Logger(),
		retry:            utils.DefaultRetryConfig(),
		state:            StateIdle,
		recentTradeCount: 10,
	}
}

// State returns the current lifecycle state.
func (s *Strategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState advances the lifecycle. Stopped is terminal: a rebuild that
// finishes after Stop must not revive the strategy.
func (s *Strategy) setState(state State) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = state
	}
	s.mu.Unlock()
}

// Ledger exposes the order ledger, mainly for tests and status output.
func (s *Strategy) Ledger() *Ledger {
	return s.ledger
}

// Start builds the first grid and launches the fill-ingestion and
// rebuild loops. A configuration problem surfaces immediately; a thin
// market does not, the first rebuild tick tries again.
func (s *Strategy) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return apperrors.ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.buildGrid(runCtx); err != nil {
		if errors.Is(err, apperrors.ErrInvalidGrid) {
			cancel()
			return err
		}
		// Not enough candles yet. Keep running and let the rebuild
		// ticker retry.
		s.logger.Warn().Err(err).Msg("initial grid build deferred")
	}

	if err := s.feed.Start(runCtx); err != nil {
		cancel()
		return apperrors.Wrap(err, "starting fill feed")
	}

	s.setState(StateGridActive)

	s.wg.Add(2)
	go s.ingestLoop(runCtx)
	go s.rebuildLoop(runCtx)

	s.logger.Info().
		Str("symbol", s.cfg.Symbol).
		Dur("adjust_interval", s.cfg.AdjustIntervalDuration()).
		Msg("strategy started")

	return nil
}

// Stop halts rebuilds and fill processing. Resting orders, mirrors
// included, are left on the exchange; closing them is an operator
// decision.
func (s *Strategy) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.feed.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("stopping fill feed")
	}
	s.wg.Wait()

	s.logger.Info().Msg("strategy stopped")
}

// ingestLoop consumes the fill feed, deduplicating by trade id. Both
// feed implementations may re-deliver a trade; dedup here makes poll
// and push behave identically downstream.
func (s *Strategy) ingestLoop(ctx context.Context) {
	defer s.wg.Done()

	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-s.feed.Fills():
			if !ok {
				return
			}
			if fill.TradeID != "" {
				if _, dup := seen[fill.TradeID]; dup {
					continue
				}
				seen[fill.TradeID] = struct{}{}
			}
			s.snapMu.Lock()
			s.reconciler.HandleFill(ctx, fill)
			s.snapMu.Unlock()
		}
	}
}

// rebuildLoop replaces the entry ladder every adjust interval. The
// ticker channel races ctx.Done, so a stop takes effect within one
// tick.
func (s *Strategy) rebuildLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AdjustIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rebuild(ctx)
		}
	}
}

// Rebuild recomputes the grid and replaces the entry orders. The new
// plan is computed first; when the estimate fails the current grid is
// left in place untouched.
func (s *Strategy) Rebuild(ctx context.Context) {
	s.setState(StateRebuilding)
	defer s.setState(StateGridActive)

	plan, err := s.planner.Plan(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientData) {
			s.logger.Warn().Err(err).Msg("rebuild skipped, keeping current grid")
			return
		}
		s.logger.Error().Err(err).Msg("grid plan failed")
		_ = s.notifier.SendError(ctx, err, "grid rebuild")
		return
	}

	s.cancelEntries(ctx)

	placed, err := s.planner.Place(ctx, plan)
	if err != nil {
		s.logger.Error().Err(err).Msg("grid placement failed")
		_ = s.notifier.SendError(ctx, err, "grid placement")
		return
	}

	for _, order := range placed {
		if err := s.ledger.Register(order); err != nil {
			s.logger.Error().Err(err).Str("order_id", order.ID).Msg("registering grid order failed")
		}
	}

	_ = s.notifier.SendGridBuild(ctx, plan)
}

// buildGrid computes and places a grid from scratch.
func (s *Strategy) buildGrid(ctx context.Context) error {
	plan, err := s.planner.Plan(ctx)
	if err != nil {
		return err
	}

	placed, err := s.planner.Place(ctx, plan)
	if err != nil {
		return err
	}

	for _, order := range placed {
		if err := s.ledger.Register(order); err != nil {
			s.logger.Error().Err(err).Str("order_id", order.ID).Msg("registering grid order failed")
		}
	}

	_ = s.notifier.SendGridBuild(ctx, plan)
	return nil
}

// cancelEntries cancels the live entry orders on the exchange, one by
// one. An order whose cancel fails stays tracked; a later fill on it
// is still honored.
func (s *Strategy) cancelEntries(ctx context.Context) {
	for _, order := range s.ledger.EntryOrders() {
		orderID := order.ID
		err := utils.Retry(ctx, s.retry, func() error {
			return s.ex.CancelOrder(ctx, s.cfg.Symbol, orderID)
		})
		if err != nil {
			s.logger.Warn().Err(err).
				Str("order_id", orderID).
				Msg("cancel failed, order stays tracked")
			continue
		}
		s.ledger.Remove(orderID)
	}
}

// PnlSummary builds a profit-and-loss snapshot from the history store
// and the ledger. It waits for any in-flight fill to settle, so a
// round trip mid-close shows up as either an open position or a
// recorded trade, never neither.
func (s *Strategy) PnlSummary() (models.PnlSummary, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	realized, err := s.store.RealizedPnl()
	if err != nil {
		return models.PnlSummary{}, err
	}
	recent, err := s.store.Recent(s.recentTradeCount)
	if err != nil {
		return models.PnlSummary{}, err
	}

	return models.PnlSummary{
		RealizedPnl:       realized,
		OpenPositionCount: s.ledger.OpenPositionCount(),
		RecentTrades:      recent,
	}, nil
}
