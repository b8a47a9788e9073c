package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tickerhub/tickerd/internal/control"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete cache records older than the configured max age",
	Run:   runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store, err := control.NewStore(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize cache store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	deleted, err := store.Cleanup(context.Background(), cfg.Cache.MaxAge())
	if err != nil {
		slog.Error("Cleanup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Cleanup complete", "deleted", deleted, "max_age", cfg.Cache.MaxAge())
}
