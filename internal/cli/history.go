package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"grid-trader/internal/history"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Trade history",
		Long:  "Inspect and export the recorded trade history.",
	}

	cmd.AddCommand(newHistoryShowCmd(app))
	cmd.AddCommand(newHistoryExportCmd(app))
	return cmd
}

func newHistoryShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the complete trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			store, err := history.Open(app.Config.Data.HistoryBackend, app.Config.Data.Dir)
			if err != nil {
				return fmt.Errorf("opening trade history: %w", err)
			}
			defer store.Close()

			trades, err := store.All()
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No closed trades yet.")
				return nil
			}

			renderTrades(output, trades)
			return nil
		},
	}
}

func newHistoryExportCmd(app *App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the trade history to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			store, err := history.Open(app.Config.Data.HistoryBackend, app.Config.Data.Dir)
			if err != nil {
				return fmt.Errorf("opening trade history: %w", err)
			}
			defer store.Close()

			n, err := history.ExportCSV(store, out)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"file": out, "records": n})
			}
			output.Success("Exported %d trades to %s", n, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "trades.csv", "output CSV file")
	return cmd
}
