// Command focusvoice runs the voice command and feedback service and offers
// a few offline tools for checking a configuration.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/app"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "focusvoice",
		Short:        "Voice commands, dictation and spoken feedback for the focus app",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(serveCmd(), interpretCmd(), voicesCmd(), formsCmd())
	return root
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
