// Package grid implements the adaptive grid strategy: planning the
// order ladder from a volatility estimate, tracking fills through the
// order ledger, and rebuilding the grid on a schedule.
package grid

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/exchange"
	"grid-trader/internal/indicators"
	"grid-trader/internal/logging"
	"grid-trader/internal/models"
)

// Planner turns a volatility estimate into a grid of limit orders.
type Planner struct {
	cfg    config.StrategyConfig
	ex     exchange.Exchange
	logger zerolog.Logger
}

// NewPlanner creates a Planner bound to the given exchange.
func NewPlanner(cfg config.StrategyConfig, ex exchange.Exchange, logger zerolog.Logger) *Planner {
	logger = logging.WithSymbol(logger, cfg.Symbol)
	return &Planner{
		cfg:    cfg,
		ex:     ex,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// ComputePlan derives grid bounds and sizing from a volatility
// estimate. The grid spans mid ± atr*gridSize/2 with gridSize+1 levels
// spaced one step apart.
func ComputePlan(est indicators.VolatilityEstimate, gridSize int, budget float64) (models.GridPlan, error) {
	if gridSize <= 0 || gridSize%2 != 0 {
		return models.GridPlan{}, apperrors.Wrapf(apperrors.ErrInvalidGrid,
			"grid size must be a positive even number, got %d", gridSize)
	}
	if budget <= 0 {
		return models.GridPlan{}, apperrors.Wrapf(apperrors.ErrInvalidGrid,
			"budget must be positive, got %f", budget)
	}
	if est.ATR <= 0 || est.LastClose <= 0 || math.IsNaN(est.ATR) || math.IsNaN(est.LastClose) {
		return models.GridPlan{}, apperrors.Wrapf(apperrors.ErrInsufficientData,
			"degenerate volatility estimate (atr=%f, close=%f)", est.ATR, est.LastClose)
	}

	mid := est.LastClose
	halfSpan := est.ATR * float64(gridSize) / 2

	plan := models.GridPlan{
		LowerBound:   mid - halfSpan,
		UpperBound:   mid + halfSpan,
		MidPrice:     mid,
		Step:         est.ATR,
		SizePerOrder: budget / mid,
		LevelCount:   gridSize + 1,
	}

	if plan.LowerBound <= 0 {
		return models.GridPlan{}, apperrors.Wrapf(apperrors.ErrInvalidGrid,
			"grid lower bound %f is not positive; volatility too large for price %f",
			plan.LowerBound, mid)
	}

	return plan, nil
}

// Levels enumerates the grid's price levels in ascending order. Levels
// in the lower half are buys, the upper half sells.
func Levels(plan models.GridPlan) []models.GridLevel {
	n := plan.LevelCount - 1
	levels := make([]models.GridLevel, 0, plan.LevelCount)
	for i := 0; i < plan.LevelCount; i++ {
		side := models.OrderSideBuy
		if i >= n/2 {
			side = models.OrderSideSell
		}
		levels = append(levels, models.GridLevel{
			Index: i,
			Price: plan.LowerBound + float64(i)*plan.Step,
			Side:  side,
		})
	}
	return levels
}

// Plan fetches recent candles and computes a grid plan from them.
func (p *Planner) Plan(ctx context.Context) (models.GridPlan, error) {
	candles, err := p.ex.GetCandles(ctx, exchange.CandleRequest{
		Symbol:      p.cfg.Symbol,
		Granularity: time.Minute,
		Count:       p.cfg.ATRWindow * 4,
	})
	if err != nil {
		return models.GridPlan{}, apperrors.Wrap(err, "fetching candles for grid plan")
	}

	est, err := indicators.Estimate(candles, p.cfg.ATRWindow)
	if err != nil {
		return models.GridPlan{}, err
	}

	return ComputePlan(est, p.cfg.GridSize, p.cfg.Budget)
}

// Place submits limit orders for every level of the plan and returns
// the orders that were accepted by the exchange. Rejected levels are
// logged and skipped; an empty grid is reported as an error.
func (p *Planner) Place(ctx context.Context, plan models.GridPlan) ([]models.Order, error) {
	levels := Levels(plan)
	placed := make([]models.Order, 0, len(levels))

	for _, lvl := range levels {
		result, err := p.ex.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
			Symbol:   p.cfg.Symbol,
			Side:     lvl.Side,
			Price:    lvl.Price,
			Size:     plan.SizePerOrder,
			Leverage: p.cfg.Leverage,
		})
		if err != nil {
			p.logger.Error().Err(err).
				Int("level", lvl.Index).
				Float64("price", lvl.Price).
				Str("side", string(lvl.Side)).
				Msg("placing grid order failed")
			continue
		}

		logging.LogOrder(p.logger, result.OrderID, p.cfg.Symbol, string(lvl.Side), lvl.Price, plan.SizePerOrder)
		placed = append(placed, models.Order{
			ID:        result.OrderID,
			Symbol:    p.cfg.Symbol,
			Side:      lvl.Side,
			Price:     lvl.Price,
			Size:      plan.SizePerOrder,
			CreatedAt: time.Now(),
		})
	}

	if len(placed) == 0 {
		return nil, fmt.Errorf("no grid orders were accepted by the exchange")
	}

	logging.LogGridBuild(p.logger, plan.LowerBound, plan.UpperBound, plan.Step, plan.SizePerOrder, len(placed))
	return placed, nil
}
