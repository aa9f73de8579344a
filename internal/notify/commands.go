package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grid-trader/internal/config"
	"grid-trader/internal/models"
)

// PnlProvider supplies the profit-and-loss snapshot answered to /pnl.
type PnlProvider interface {
	PnlSummary() (models.PnlSummary, error)
}

// CommandListener long-polls the Telegram getUpdates API and answers
// bot commands sent to the configured chat.
type CommandListener struct {
	notifier *TelegramNotifier
	provider PnlProvider
	chatID   string
	logger   zerolog.Logger
	client   *http.Client

	pollTimeout int // seconds, passed to getUpdates
	offset      int64
}

// NewCommandListener creates a listener bound to the given Telegram
// credentials and summary provider.
func NewCommandListener(cfg config.TelegramConfig, provider PnlProvider, logger zerolog.Logger) *CommandListener {
	return &CommandListener{
		notifier:    NewTelegramNotifier(cfg),
		provider:    provider,
		chatID:      cfg.ChatID,
		logger:      logger.With().Str("component", "telegram_commands").Logger(),
		pollTimeout: 30,
		client: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// Run polls for commands until the context is cancelled.
func (cl *CommandListener) Run(ctx context.Context) {
	if !cl.notifier.IsEnabled() {
		cl.logger.Debug().Msg("telegram commands disabled, listener not started")
		return
	}

	cl.logger.Info().Msg("telegram command listener started")

	for {
		select {
		case <-ctx.Done():
			cl.logger.Info().Msg("telegram command listener stopped")
			return
		default:
		}

		updates, err := cl.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cl.logger.Warn().Err(err).Msg("fetching telegram updates failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			cl.offset = u.UpdateID + 1
			cl.handleUpdate(ctx, u)
		}
	}
}

// fetchUpdates performs one long-poll round against getUpdates.
func (cl *CommandListener) fetchUpdates(ctx context.Context) ([]telegramUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		cl.notifier.baseURL, cl.notifier.botToken, cl.pollTimeout, cl.offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating getUpdates request: %w", err)
	}

	resp, err := cl.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling telegram updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	var parsed getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding telegram updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram API responded not ok")
	}

	return parsed.Result, nil
}

// handleUpdate dispatches a single inbound message.
func (cl *CommandListener) handleUpdate(ctx context.Context, u telegramUpdate) {
	if u.Message == nil {
		return
	}

	// Only the configured chat may issue commands.
	if fmt.Sprintf("%d", u.Message.Chat.ID) != cl.chatID {
		return
	}

	cmd := strings.TrimSpace(u.Message.Text)
	switch {
	case strings.HasPrefix(cmd, "/pnl"):
		cl.handlePnl(ctx)
	case strings.HasPrefix(cmd, "/start"), strings.HasPrefix(cmd, "/help"):
		_ = cl.notifier.sendMessage(ctx, "Commands:\n/pnl - realized profit and open positions")
	}
}

// handlePnl answers with the current realized PnL summary.
func (cl *CommandListener) handlePnl(ctx context.Context) {
	summary, err := cl.provider.PnlSummary()
	if err != nil {
		cl.logger.Error().Err(err).Msg("building pnl summary failed")
		_ = cl.notifier.sendMessage(ctx, fmt.Sprintf("⚠️ PnL unavailable: %v", err))
		return
	}

	_ = cl.notifier.sendMessage(ctx, FormatPnlSummary(summary))
}

// FormatPnlSummary renders a PnL snapshot as a Telegram message.
func FormatPnlSummary(s models.PnlSummary) string {
	var sb strings.Builder
	sb.WriteString("📊 <b>PnL Report</b>\n")
	sb.WriteString(fmt.Sprintf("Realized PnL: %+.4f\n", s.RealizedPnl))
	sb.WriteString(fmt.Sprintf("Open positions: %d\n", s.OpenPositionCount))

	if len(s.RecentTrades) == 0 {
		sb.WriteString("No closed trades yet")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Last %d trades:\n", len(s.RecentTrades)))
	for _, t := range s.RecentTrades {
		sb.WriteString(fmt.Sprintf("  %s %.2f → %.2f  %+.4f\n",
			t.Side, t.OpenPrice, t.ClosePrice, t.Profit))
	}
	return sb.String()
}
