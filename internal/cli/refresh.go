package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tickerhub/tickerd/internal/control"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the cache for all configured tickers once and exit",
	Long:  `Fetches every data source for every configured ticker with interactive semantics, regardless of the serving mode. Meant to be invoked from cron.`,
	Run:   runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	refresher, store, err := control.NewRefresher(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize refresher", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	refresher.RunOnce(context.Background())
}
