package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/config"
)

var (
	cfgPath string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "leadpulse",
	Short: "LeadPulse - behavioral personalization and A/B testing for marketing sites",
	Long: `LeadPulse scores visitor engagement, assigns deterministic A/B test
variants, recommends the highest-value call-to-action, and drives
time-boxed email nurture sequences.

Running without a subcommand starts the server (same as 'leadpulse serve').`,
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("LP_CONFIG"), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("LP_DB_PATH", ""), "sqlite database path (overrides config)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadConfig layers the --db flag over the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Store.Backend = "sqlite"
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
