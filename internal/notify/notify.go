// Package notify provides notification functionality for the grid trader.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"grid-trader/internal/config"
	"grid-trader/internal/models"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendGridBuild(ctx context.Context, plan models.GridPlan) error
	SendTradeClosed(ctx context.Context, trade *models.TradeRecord) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Severity  Severity
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Severity orders notifications for the minimum-level filter.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityError
)

// ParseSeverity maps a config level string to a Severity. Unknown
// strings fall back to SeverityInfo.
func ParseSeverity(level string) Severity {
	switch strings.ToLower(level) {
	case "debug":
		return SeverityDebug
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// MultiNotifier sends notifications to multiple channels, dropping
// anything below its minimum severity.
type MultiNotifier struct {
	channels []NotificationChannel
	minLevel Severity
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in
// the configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		minLevel: ParseSeverity(cfg.Level),
	}

	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Terminal.Enabled {
		mn.channels = append(mn.channels, NewTerminalNotifier())
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Severity < mn.minLevel {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendGridBuild sends a notification describing a freshly placed grid.
func (mn *MultiNotifier) SendGridBuild(ctx context.Context, plan models.GridPlan) error {
	title := "📐 Grid Rebuilt"
	message := fmt.Sprintf(
		"Range: %.2f – %.2f\nMid: %.2f\nStep: %.2f\nLevels: %d\nSize/Order: %.4f",
		plan.LowerBound, plan.UpperBound, plan.MidPrice,
		plan.Step, plan.LevelCount, plan.SizePerOrder,
	)

	return mn.Send(ctx, Notification{
		Severity: SeverityInfo,
		Title:    title,
		Message:  message,
		Data: map[string]interface{}{
			"lower_bound":    plan.LowerBound,
			"upper_bound":    plan.UpperBound,
			"mid_price":      plan.MidPrice,
			"step":           plan.Step,
			"level_count":    plan.LevelCount,
			"size_per_order": plan.SizePerOrder,
		},
	})
}

// SendTradeClosed sends a notification for a completed round trip.
func (mn *MultiNotifier) SendTradeClosed(ctx context.Context, trade *models.TradeRecord) error {
	emoji := "✅"
	if trade.Profit < 0 {
		emoji = "❌"
	}

	title := fmt.Sprintf("%s Position Closed: %s", emoji, trade.Side)
	message := fmt.Sprintf(
		"Side: %s\nEntry: %.2f\nExit: %.2f\nSize: %.4f\nProfit: %+.4f",
		trade.Side, trade.OpenPrice, trade.ClosePrice, trade.Size, trade.Profit,
	)

	return mn.Send(ctx, Notification{
		Severity: SeverityInfo,
		Title:    title,
		Message:  message,
		Data: map[string]interface{}{
			"side":        string(trade.Side),
			"open_price":  trade.OpenPrice,
			"close_price": trade.ClosePrice,
			"size":        trade.Size,
			"profit":      trade.Profit,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Severity: SeverityError,
		Title:    title,
		Message:  message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"severity":  n.Severity.String(),
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GridTrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NoOpNotifier is a notifier that does nothing (for paper runs with
// notifications disabled, and for tests).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendGridBuild does nothing.
func (n *NoOpNotifier) SendGridBuild(ctx context.Context, plan models.GridPlan) error {
	return nil
}

// SendTradeClosed does nothing.
func (n *NoOpNotifier) SendTradeClosed(ctx context.Context, trade *models.TradeRecord) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
