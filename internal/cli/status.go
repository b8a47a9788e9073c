package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tickerhub/tickerd/internal/infra/cache"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached records and their ages",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if cfg.Cache.Backend != "" && cfg.Cache.Backend != "file" {
		slog.Error("status only supports the file backend", "backend", cfg.Cache.Backend)
		os.Exit(1)
	}

	entries, err := os.ReadDir(cfg.Cache.File.Dir)
	if err != nil {
		slog.Error("Failed to read cache dir", "dir", cfg.Cache.File.Dir, "error", err)
		os.Exit(1)
	}

	ttl := cfg.Cache.TTL()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tKEY\tAGE\tSTATE")

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.Cache.File.Dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec cache.Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.StoredAt.IsZero() {
			continue
		}
		age := time.Since(rec.StoredAt)
		state := "fresh"
		if age >= ttl {
			state = "stale"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Namespace, rec.Key, cache.FormatAge(age), state)
	}
	_ = w.Flush()
}
