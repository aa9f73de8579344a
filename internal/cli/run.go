package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grid-trader/internal/exchange"
	"grid-trader/internal/grid"
	"grid-trader/internal/history"
	"grid-trader/internal/notify"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the grid trading strategy",
		Long: `Run builds the initial order grid and trades it until interrupted.

In paper mode orders fill against a simulated price walk; in live mode
the strategy trades on KuCoin Futures with the configured credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStrategy(cmd, app)
		},
	}
	return cmd
}

func runStrategy(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.Data.HistoryBackend, cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("opening trade history: %w", err)
	}
	defer store.Close()

	ex, feed, paperEx, err := buildExchange(app)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewNoOpNotifier()
	if cfg.Notifications.Enabled {
		notifier = notify.NewMultiNotifier(&cfg.Notifications)
	}

	strategy := grid.NewStrategy(cfg.Strategy, ex, feed, store, notifier, app.Logger)

	if err := strategy.Start(ctx); err != nil {
		return fmt.Errorf("starting strategy: %w", err)
	}

	_ = notifier.Send(ctx, notify.Notification{
		Severity: notify.SeverityInfo,
		Title:    "🚀 Bot Started",
		Message: fmt.Sprintf("%s | %s mode | grid %d | sandbox: %t",
			cfg.Strategy.Symbol, cfg.Strategy.Mode, cfg.Strategy.GridSize,
			cfg.Credentials.KuCoin.Sandbox),
		Timestamp: time.Now(),
	})

	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.Commands {
		listener := notify.NewCommandListener(cfg.Notifications.Telegram, strategy, app.Logger)
		go listener.Run(ctx)
	}

	if paperEx != nil {
		go driftPaperPrice(ctx, paperEx, cfg.Strategy.PollIntervalDuration())
	}

	realized, _ := store.RealizedPnl()
	output.Bold("grid-trader v%s", Version)
	output.Info("%s | %s mode | grid %d | rebuild every %s",
		cfg.Strategy.Symbol, cfg.Strategy.Mode, cfg.Strategy.GridSize,
		cfg.Strategy.AdjustIntervalDuration())
	output.Printf("Realized PnL so far: %s\n", output.FormatPnl(realized))
	output.Dim("Press Ctrl+C to stop. Resting orders stay on the exchange.")

	<-ctx.Done()
	output.Println()
	output.Info("Shutting down...")
	strategy.Stop()

	summary, err := strategy.PnlSummary()
	if err == nil {
		output.Printf("Realized PnL: %s  Open positions: %d\n",
			output.FormatPnl(summary.RealizedPnl), summary.OpenPositionCount)
		// The run context is already cancelled at this point.
		_ = notifier.Send(context.Background(), notify.Notification{
			Severity: notify.SeverityInfo,
			Title:    "🛑 Bot Stopped",
			Message: fmt.Sprintf("Realized PnL: %+.4f | Open positions: %d",
				summary.RealizedPnl, summary.OpenPositionCount),
			Timestamp: time.Now(),
		})
	}
	output.Success("Stopped.")
	return nil
}

// buildExchange assembles the exchange and fill feed for the configured
// mode. The paper exchange is returned separately so the caller can
// drive its simulated price.
func buildExchange(app *App) (exchange.Exchange, exchange.FillFeed, *exchange.PaperExchange, error) {
	cfg := app.Config

	var kucoin *exchange.KuCoinExchange
	if cfg.Credentials.KuCoin.APIKey != "" {
		kucoin = exchange.NewKuCoinExchange(exchange.KuCoinConfig{
			APIKey:     cfg.Credentials.KuCoin.APIKey,
			APISecret:  cfg.Credentials.KuCoin.APISecret,
			Passphrase: cfg.Credentials.KuCoin.Passphrase,
			Sandbox:    cfg.Credentials.KuCoin.Sandbox,
			Logger:     app.Logger,
		})
	}

	if cfg.Strategy.Mode == "paper" {
		paperCfg := exchange.PaperExchangeConfig{}
		if kucoin != nil {
			// Real market data, simulated fills.
			paperCfg.DataExchange = kucoin
		}
		paper := exchange.NewPaperExchange(paperCfg)
		return paper, paper, paper, nil
	}

	if kucoin == nil {
		return nil, nil, nil, fmt.Errorf("live mode requires KuCoin credentials")
	}

	if cfg.Strategy.FeedMode == "push" {
		feed := exchange.NewKuCoinFillFeed(exchange.KuCoinFillFeedConfig{
			Exchange: kucoin,
			Symbol:   cfg.Strategy.Symbol,
			Logger:   app.Logger,
		})
		return kucoin, feed, nil, nil
	}

	feed := exchange.NewPollingFillFeed(exchange.PollingFillFeedConfig{
		Exchange: kucoin,
		Symbol:   cfg.Strategy.Symbol,
		Interval: cfg.Strategy.PollIntervalDuration(),
		Logger:   app.Logger,
	})
	return kucoin, feed, nil, nil
}

// driftPaperPrice walks the simulated price so resting paper orders get
// a chance to fill.
func driftPaperPrice(ctx context.Context, paper *exchange.PaperExchange, interval time.Duration) {
	candles, err := paper.GetCandles(ctx, exchange.CandleRequest{Granularity: time.Minute, Count: 1})
	if err != nil || len(candles) == 0 {
		return
	}
	price := candles[len(candles)-1].Close

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price *= 1 + 0.004*(rand.Float64()-0.5)
			paper.SetPrice(price)
		}
	}
}
