package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/models"
)

// PollingFillFeed implements FillFeed by polling ListRecentFills on a fixed
// interval. Delivery is at-least-once: consecutive polls re-observe recent
// trades, and consumers deduplicate by trade id.
type PollingFillFeed struct {
	exchange Exchange
	symbol   string
	interval time.Duration
	logger   zerolog.Logger

	fills   chan models.Fill
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

// PollingFillFeedConfig holds configuration for the polling feed.
type PollingFillFeedConfig struct {
	Exchange Exchange
	Symbol   string
	Interval time.Duration
	Logger   zerolog.Logger
}

// NewPollingFillFeed creates a new polling fill feed.
func NewPollingFillFeed(cfg PollingFillFeedConfig) *PollingFillFeed {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &PollingFillFeed{
		exchange: cfg.Exchange,
		symbol:   cfg.Symbol,
		interval: interval,
		logger:   cfg.Logger,
		fills:    make(chan models.Fill, 256),
		done:     make(chan struct{}),
	}
}

// Fills returns the channel fills are delivered on.
func (f *PollingFillFeed) Fills() <-chan models.Fill {
	return f.fills
}

// Start begins the poll loop. It returns immediately; fills arrive on the
// Fills channel until Stop is called or the context is cancelled.
func (f *PollingFillFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	go f.loop(ctx)
	return nil
}

func (f *PollingFillFeed) loop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fills, err := f.exchange.ListRecentFills(ctx, f.symbol)
			if err != nil {
				f.logger.Warn().Err(err).Msg("Fill poll failed")
				continue
			}
			for _, fill := range fills {
				select {
				case f.fills <- fill:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Stop stops the poll loop and waits for it to exit.
func (f *PollingFillFeed) Stop() error {
	f.mu.Lock()
	cancel := f.cancel
	started := f.started
	f.mu.Unlock()

	if !started {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	<-f.done
	return nil
}
