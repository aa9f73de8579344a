package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Grid Trader Configuration

[strategy]
# Contract symbol, generic form (converted to the exchange's native symbol)
symbol = "BTCUSDT"
# Trading mode: "live" or "paper"
mode = "paper"
# Leverage applied to every limit order
leverage = 10
# Number of grid intervals N (even, positive); the grid places N+1 orders
grid_size = 10
# Minutes between grid rebuilds
adjust_interval = 15
# ATR lookback window in candles
atr_window = 14
# Mirror order offset as a fraction of entry price
take_profit = 0.02
# Reserved risk parameter, fraction of entry price
stop_loss = 0.01
# Total quote-currency notional spread over the grid
budget = 1000.0
# Seconds between fill polls (feed_mode = "poll")
poll_interval = 5
# Fill feed mode: "poll" or "push"
feed_mode = "poll"

[data]
# Directory for the persisted trade history
dir = "./data"
# Trade history backend: "json" or "sqlite"
history_backend = "json"

[notifications]
# Enable notifications
enabled = false
# Minimum severity forwarded to channels: debug, info, error
level = "info"

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
# Answer /pnl queries over the same bot
commands = true

[notifications.webhook]
enabled = false
url = ""

[notifications.terminal]
enabled = true
`

const credentialsTemplate = `# Grid Trader Credentials
# This file contains sensitive data. Keep permissions restrictive.

[kucoin]
api_key = ""
api_secret = ""
passphrase = ""
# Use the KuCoin Futures sandbox environment
sandbox = false
`

// createTemplateConfig writes a template config.toml and reports it.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	fmt.Printf("Created template config at %s — review it before running live.\n", path)
	return nil
}

// createTemplateCredentials writes a template credentials.toml with
// restrictive permissions.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	fmt.Printf("Created template credentials at %s — fill in your API keys.\n", path)
	return nil
}
