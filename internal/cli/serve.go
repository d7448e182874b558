package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/cta"
	"github.com/leadpulse/leadpulse/internal/email"
	"github.com/leadpulse/leadpulse/internal/experiment"
	"github.com/leadpulse/leadpulse/internal/nurture"
	"github.com/leadpulse/leadpulse/internal/server"
	"github.com/leadpulse/leadpulse/internal/session"
	"github.com/leadpulse/leadpulse/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the nurture scheduler",
	Long: `Start the leadpulse HTTP server.

The server provides:
  - Beacon endpoint for tracking sessions, events, and interactions
  - Recommendation, context, and results query APIs
  - Subscribe/unsubscribe endpoints for nurture sequences
  - Health check and Prometheus metrics

A cron trigger invokes the nurture scheduler on the configured cadence.

Example:
  leadpulse serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 0
	if p := os.Getenv("LP_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg.Log)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	tracker := session.NewTracker(st.Sessions())
	experiments := experiment.NewService(st.Tests(), st.Interactions())

	catalog := cta.DefaultCatalog()
	for ctaType, variants := range cfg.CTA.Variants {
		out := make([]store.Variant, len(variants))
		for i, v := range variants {
			out[i] = store.Variant{ID: v.ID, Payload: v.Payload}
		}
		catalog[ctaType] = out
	}
	engine := cta.NewEngine(cta.DefaultRules(), catalog, experiments)
	for _, p := range cfg.CTA.UnderTest {
		engine.PutUnderTest(p.Page, p.Position, p.Test)
	}

	sender := &email.RetrySender{Inner: &email.ConsoleSender{Log: log}}
	scheduler := nurture.NewScheduler(st.Subscriptions(), sender, nurture.DefaultLibrary(), log)

	// The scheduling trigger: a single cron entry, so Tick invocations
	// never overlap from this process.
	c := cron.New()
	if _, err := c.AddFunc(cfg.Nurture.TickSchedule, func() {
		sent, err := scheduler.Tick(context.Background(), time.Now())
		if err != nil {
			log.Error("nurture tick failed", "error", err)
			return
		}
		if sent > 0 {
			log.Info("nurture tick", "sent", sent)
		}
	}); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", cfg.Nurture.TickSchedule, err)
	}
	c.Start()
	defer c.Stop()

	listenPort := cfg.Server.Port
	if port > 0 {
		listenPort = port
	}
	srv := server.New(tracker, experiments, engine, scheduler, st.Tests(), log, listenPort)
	return srv.Start()
}
