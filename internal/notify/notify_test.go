package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"grid-trader/internal/config"
	"grid-trader/internal/models"
)

// recordingChannel captures notifications for assertions.
type recordingChannel struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingChannel) Name() string    { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }

func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestMultiNotifier_SeverityFilter(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Level: "info"})
	rec := &recordingChannel{}
	mn.AddChannel(rec)

	ctx := context.Background()
	_ = mn.Send(ctx, Notification{Severity: SeverityDebug, Title: "debug"})
	_ = mn.Send(ctx, Notification{Severity: SeverityInfo, Title: "info"})
	_ = mn.Send(ctx, Notification{Severity: SeverityError, Title: "error"})

	if rec.count() != 2 {
		t.Errorf("expected 2 notifications past the info filter, got %d", rec.count())
	}

	errOnly := NewMultiNotifier(&config.NotificationConfig{Level: "error"})
	rec2 := &recordingChannel{}
	errOnly.AddChannel(rec2)

	_ = errOnly.Send(ctx, Notification{Severity: SeverityInfo, Title: "info"})
	_ = errOnly.SendError(ctx, context.DeadlineExceeded, "test")

	if rec2.count() != 1 {
		t.Errorf("expected only the error through, got %d", rec2.count())
	}
}

func TestMultiNotifier_TradeClosedPayload(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Level: "debug"})
	rec := &recordingChannel{}
	mn.AddChannel(rec)

	trade := &models.TradeRecord{
		Side: models.OrderSideBuy, OpenPrice: 100, ClosePrice: 102,
		Size: 0.5, Profit: 1.0,
	}
	if err := mn.SendTradeClosed(context.Background(), trade); err != nil {
		t.Fatalf("SendTradeClosed failed: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected one notification, got %d", rec.count())
	}
	n := rec.sent[0]
	if n.Data["profit"] != 1.0 {
		t.Errorf("expected profit in payload, got %v", n.Data["profit"])
	}
	if !strings.Contains(n.Title, "✅") {
		t.Errorf("winning trade should carry the win marker: %s", n.Title)
	}
}

func TestTelegramNotifier_SendMessage(t *testing.T) {
	var got struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottoken123/sendMessage") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier(config.TelegramConfig{
		Enabled: true, BotToken: "token123", ChatID: "42",
	})
	tn.SetBaseURL(srv.URL)

	err := tn.Send(context.Background(), Notification{
		Severity: SeverityInfo,
		Title:    "Grid <Rebuilt>",
		Message:  "range & step",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got.ChatID != "42" {
		t.Errorf("expected chat id 42, got %s", got.ChatID)
	}
	if got.ParseMode != "HTML" {
		t.Errorf("expected HTML parse mode, got %s", got.ParseMode)
	}
	if !strings.Contains(got.Text, "&lt;Rebuilt&gt;") {
		t.Errorf("title not escaped: %s", got.Text)
	}
	if !strings.Contains(got.Text, "&amp;") {
		t.Errorf("message not escaped: %s", got.Text)
	}
}

func TestTelegramNotifier_DisabledWithoutCredentials(t *testing.T) {
	tn := NewTelegramNotifier(config.TelegramConfig{Enabled: true})
	if tn.IsEnabled() {
		t.Error("notifier enabled without token and chat id")
	}
	if err := tn.Send(context.Background(), Notification{Title: "x"}); err != nil {
		t.Errorf("disabled send must be a no-op, got %v", err)
	}
}

func TestFormatPnlSummary(t *testing.T) {
	s := models.PnlSummary{
		RealizedPnl:       3.25,
		OpenPositionCount: 2,
		RecentTrades: []models.TradeRecord{
			{Side: models.OrderSideBuy, OpenPrice: 100, ClosePrice: 102, Profit: 1.0},
			{Side: models.OrderSideSell, OpenPrice: 200, ClosePrice: 196, Profit: 2.25},
		},
	}

	msg := FormatPnlSummary(s)
	if !strings.Contains(msg, "+3.2500") {
		t.Errorf("missing realized pnl: %s", msg)
	}
	if !strings.Contains(msg, "Open positions: 2") {
		t.Errorf("missing open position count: %s", msg)
	}
	if !strings.Contains(msg, "Last 2 trades") {
		t.Errorf("missing trade list: %s", msg)
	}

	empty := FormatPnlSummary(models.PnlSummary{})
	if !strings.Contains(empty, "No closed trades yet") {
		t.Errorf("missing empty marker: %s", empty)
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"debug":   SeverityDebug,
		"info":    SeverityInfo,
		"error":   SeverityError,
		"ERROR":   SeverityError,
		"":        SeverityInfo,
		"unknown": SeverityInfo,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}
