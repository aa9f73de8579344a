package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"grid-trader/internal/history"
	"grid-trader/internal/models"
)

func newPnlCmd(app *App) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Show realized profit and loss",
		Long:  "Show realized PnL and the most recent closed trades from the local history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			store, err := history.Open(app.Config.Data.HistoryBackend, app.Config.Data.Dir)
			if err != nil {
				return fmt.Errorf("opening trade history: %w", err)
			}
			defer store.Close()

			realized, err := store.RealizedPnl()
			if err != nil {
				return err
			}
			trades, err := store.Recent(recent)
			if err != nil {
				return err
			}
			all, err := store.All()
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"realized_pnl":  realized,
					"total_trades":  len(all),
					"recent_trades": trades,
				})
			}

			output.Bold("Realized PnL")
			output.Printf("  Total:  %s over %d trades\n", output.FormatPnl(realized), len(all))
			output.Println()

			if len(trades) == 0 {
				output.Dim("No closed trades yet.")
				return nil
			}

			output.Bold("Recent Trades")
			renderTrades(output, trades)
			return nil
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent trades to show")
	return cmd
}

func renderTrades(output *Output, trades []models.TradeRecord) {
	table := NewTable(output, "CLOSED", "SIDE", "ENTRY", "EXIT", "SIZE", "PROFIT")
	for _, t := range trades {
		table.AddRow(
			t.CloseTime.Local().Format(time.DateTime),
			string(t.Side),
			fmt.Sprintf("%.2f", t.OpenPrice),
			fmt.Sprintf("%.2f", t.ClosePrice),
			fmt.Sprintf("%.4f", t.Size),
			output.FormatPnl(t.Profit),
		)
	}
	table.Render()
}
