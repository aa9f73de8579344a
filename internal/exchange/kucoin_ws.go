package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
	"grid-trader/pkg/utils"
)

// KuCoinFillFeed implements FillFeed over the KuCoin private WebSocket. It
// subscribes to the trade-orders topic and forwards match events as fills.
// Delivery is at-least-once: on reconnect the exchange may replay recent
// events, and consumers deduplicate by trade id.
type KuCoinFillFeed struct {
	exchange *KuCoinExchange
	symbol   string
	logger   zerolog.Logger

	maxRetries int
	baseDelay  time.Duration

	fills   chan models.Fill
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

// KuCoinFillFeedConfig holds configuration for the WebSocket fill feed.
type KuCoinFillFeedConfig struct {
	Exchange   *KuCoinExchange
	Symbol     string
	MaxRetries int
	BaseDelay  time.Duration
	Logger     zerolog.Logger
}

// NewKuCoinFillFeed creates a new WebSocket fill feed.
func NewKuCoinFillFeed(cfg KuCoinFillFeedConfig) *KuCoinFillFeed {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &KuCoinFillFeed{
		exchange:   cfg.Exchange,
		symbol:     cfg.Symbol,
		logger:     cfg.Logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		fills:      make(chan models.Fill, 256),
		done:       make(chan struct{}),
	}
}

// Fills returns the channel fills are delivered on.
func (f *KuCoinFillFeed) Fills() <-chan models.Fill {
	return f.fills
}

// Start connects and begins delivering fills. The connection is supervised:
// on failure it reconnects with exponential backoff up to MaxRetries
// consecutive attempts.
func (f *KuCoinFillFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	go f.supervise(ctx)
	return nil
}

// healthyConnAge is how long a connection must survive before the
// reconnect budget resets. The budget limits consecutive failures;
// drops spread out over hours are network noise, not a dead endpoint.
const healthyConnAge = 30 * time.Second

func (f *KuCoinFillFeed) supervise(ctx context.Context) {
	defer close(f.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connectedAt := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}
		attempt = nextAttempt(attempt, time.Since(connectedAt))
		if err != nil {
			f.logger.Warn().Err(err).Int("attempt", attempt).Msg("Fill feed connection lost")
		}

		if attempt > f.maxRetries {
			f.logger.Error().Int("attempts", attempt).Msg("Fill feed gave up reconnecting")
			return
		}

		delay := utils.CalculateBackoff(attempt, f.baseDelay, time.Minute, 2.0)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextAttempt advances the consecutive-failure counter. A connection
// that survived long enough counts as healthy and restarts the budget.
func nextAttempt(attempt int, connectedFor time.Duration) int {
	if connectedFor >= healthyConnAge {
		return 1
	}
	return attempt + 1
}

// runConnection performs one token negotiation, connect, subscribe, read
// cycle. It returns when the connection drops or the context is cancelled.
func (f *KuCoinFillFeed) runConnection(ctx context.Context) error {
	endpoint, token, pingInterval, err := f.exchange.bulletToken(ctx)
	if err != nil {
		return err
	}

	connectID := strconv.FormatInt(time.Now().UnixNano(), 10)
	url := fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, token, connectID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNotConnected, err.Error())
	}
	defer conn.Close()

	// Subscribe to private order change events for the symbol
	sub := map[string]interface{}{
		"id":             connectID,
		"type":           "subscribe",
		"topic":          "/contractMarket/tradeOrders:" + convertSymbol(f.symbol),
		"privateChannel": true,
		"response":       true,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	f.logger.Info().Str("symbol", f.symbol).Msg("Fill feed connected")

	// Ping loop keeps the connection alive
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteJSON(map[string]string{
					"id":   strconv.FormatInt(time.Now().UnixNano(), 10),
					"type": "ping",
				})
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	// Close the connection when the context is cancelled so ReadMessage unblocks.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *KuCoinFillFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg struct {
		Type    string `json:"type"`
		Subject string `json:"subject"`
		Data    struct {
			Type       string `json:"type"` // open, match, filled, canceled
			OrderID    string `json:"orderId"`
			TradeID    string `json:"tradeId"`
			Side       string `json:"side"`
			MatchPrice string `json:"matchPrice"`
			MatchSize  string `json:"matchSize"`
			Ts         int64  `json:"ts"` // nanoseconds
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Debug().Err(err).Msg("Skipping unparseable feed message")
		return
	}
	if msg.Type != "message" || msg.Subject != "orderChange" || msg.Data.Type != "match" {
		return
	}

	price, _ := strconv.ParseFloat(msg.Data.MatchPrice, 64)
	size, _ := strconv.ParseFloat(msg.Data.MatchSize, 64)

	side := models.OrderSideBuy
	if strings.EqualFold(msg.Data.Side, "sell") {
		side = models.OrderSideSell
	}

	fill := models.Fill{
		TradeID:   msg.Data.TradeID,
		OrderID:   msg.Data.OrderID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.Unix(0, msg.Data.Ts),
	}

	select {
	case f.fills <- fill:
	case <-ctx.Done():
	}
}

// Stop disconnects and waits for the supervisor to exit.
func (f *KuCoinFillFeed) Stop() error {
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
