package grid

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/exchange"
	"grid-trader/internal/history"
	"grid-trader/internal/logging"
	"grid-trader/internal/models"
	"grid-trader/internal/notify"
	"grid-trader/pkg/utils"
)

// Reconciler consumes fill outcomes: it places mirror orders for
// filled entries and records completed round trips in the history
// store.
type Reconciler struct {
	cfg      config.StrategyConfig
	ledger   *Ledger
	ex       exchange.Exchange
	store    history.Store
	notifier notify.Notifier
	logger   zerolog.Logger
	retry    utils.RetryConfig
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg config.StrategyConfig, ledger *Ledger, ex exchange.Exchange, store history.Store, notifier notify.Notifier, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		ledger:   ledger,
		ex:       ex,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		retry:    utils.DefaultRetryConfig(),
	}
}

// HandleFill resolves a single fill against the ledger and performs
// the follow-up work. Errors are logged and notified; a bad fill never
// stops the ingestion loop.
func (r *Reconciler) HandleFill(ctx context.Context, fill models.Fill) {
	outcome := r.ledger.ResolveFill(fill)

	switch outcome.Kind {
	case OutcomeEntryFilled:
		r.placeMirror(ctx, fill, *outcome.Mirror)

	case OutcomePositionClosed:
		r.recordTrade(ctx, outcome.Trade)

	case OutcomeOrphanMirror:
		r.logger.Warn().
			Str("order_id", fill.OrderID).
			Msg("mirror filled with no pending position, ignoring")

	default:
		// Unknown order ids cover duplicate deliveries and fills from
		// before a restart.
		r.logger.Debug().
			Str("order_id", fill.OrderID).
			Str("trade_id", fill.TradeID).
			Msg("fill for untracked order, ignoring")
	}
}

// placeMirror submits the closing order for a freshly filled entry and
// registers it. A position left without a mirror is reported loudly;
// the strategy keeps running.
func (r *Reconciler) placeMirror(ctx context.Context, fill models.Fill, mirror models.Order) {
	result, err := utils.RetryWithResult(ctx, r.retry, func() (*exchange.OrderResult, error) {
		return r.ex.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
			Symbol:   mirror.Symbol,
			Side:     mirror.Side,
			Price:    mirror.Price,
			Size:     mirror.Size,
			Leverage: r.cfg.Leverage,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).
			Str("parent_id", mirror.ParentID).
			Float64("price", mirror.Price).
			Msg("placing mirror order failed, position has no protective exit")
		_ = r.notifier.SendError(ctx, err, "mirror order placement")
		return
	}

	mirror.ID = result.OrderID
	if err := r.ledger.Register(mirror); err != nil {
		r.logger.Error().Err(err).
			Str("order_id", mirror.ID).
			Msg("registering mirror order failed")
		return
	}

	logging.LogOrder(r.logger, mirror.ID, mirror.Symbol, string(mirror.Side), mirror.Price, mirror.Size)
	r.logger.Debug().
		Str("order_id", mirror.ID).
		Str("parent_id", mirror.ParentID).
		Float64("entry_price", fill.Price).
		Msg("mirror linked to entry")
}

// recordTrade appends a completed round trip to the history store.
// Persistence failures keep the record in memory for the next flush,
// so they are logged and notified but not escalated.
func (r *Reconciler) recordTrade(ctx context.Context, trade *models.TradeRecord) {
	logging.LogTrade(r.logger, trade.OpenOrderID, string(trade.Side),
		trade.OpenPrice, trade.ClosePrice, trade.Size, trade.Profit)

	if err := r.store.Append(*trade); err != nil {
		var perr *apperrors.PersistenceError
		if errors.As(err, &perr) {
			r.logger.Error().Err(err).
				Str("path", perr.Path).
				Msg("persisting trade failed, record retained in memory")
		} else {
			r.logger.Error().Err(err).Msg("persisting trade failed")
		}
		_ = r.notifier.SendError(ctx, err, "trade persistence")
	}

	_ = r.notifier.SendTradeClosed(ctx, trade)
}
