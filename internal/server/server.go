package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadpulse/leadpulse/internal/cta"
	"github.com/leadpulse/leadpulse/internal/experiment"
	"github.com/leadpulse/leadpulse/internal/nurture"
	"github.com/leadpulse/leadpulse/internal/session"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Server exposes the ingestion and query surfaces over HTTP.
type Server struct {
	tracker     *session.Tracker
	experiments *experiment.Service
	engine      *cta.Engine
	scheduler   *nurture.Scheduler
	tests       store.TestRepo
	log         *slog.Logger
	port        int
	router      *http.ServeMux
	startTime   time.Time
}

func New(tracker *session.Tracker, experiments *experiment.Service, engine *cta.Engine,
	scheduler *nurture.Scheduler, tests store.TestRepo, log *slog.Logger, port int) *Server {

	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		tracker:     tracker,
		experiments: experiments,
		engine:      engine,
		scheduler:   scheduler,
		tests:       tests,
		log:         log,
		port:        port,
		router:      http.NewServeMux(),
		startTime:   time.Now(),
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/t", s.handleBeacon)
	s.router.HandleFunc("/api/recommendation", s.handleRecommendation)
	s.router.HandleFunc("/api/context", s.handleContext)
	s.router.HandleFunc("/api/results", s.handleResults)
	s.router.HandleFunc("/api/subscribe", s.handleSubscribe)
	s.router.HandleFunc("/api/unsubscribe", s.handleUnsubscribe)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("leadpulse listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}
