package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/leadpulse/leadpulse/internal/cta"
	"github.com/leadpulse/leadpulse/internal/experiment"
	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/nurture"
	"github.com/leadpulse/leadpulse/internal/session"
	"github.com/leadpulse/leadpulse/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tests, err := s.tests.List(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// BeaconRequest is one fire-and-forget tracking event from the client.
type BeaconRequest struct {
	SessionID string `json:"sid"`
	Type      string `json:"type"` // start | pageview | scroll | event | interaction

	// start
	TrafficSource string            `json:"traffic_source,omitempty"`
	UTM           map[string]string `json:"utm,omitempty"`
	Device        string            `json:"device,omitempty"`

	// pageview
	Page string `json:"page,omitempty"`
	URL  string `json:"url,omitempty"`

	// scroll
	Depth int `json:"depth,omitempty"`

	// event
	Event      string            `json:"event,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`

	// interaction
	Test    string `json:"test,omitempty"`
	Variant string `json:"variant,omitempty"`
	Action  string `json:"action,omitempty"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	// Beacons arrive cross-origin from the marketing site.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "Missing session id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	switch req.Type {
	case "start":
		err = s.tracker.StartSession(ctx, req.SessionID, session.SourceInfo{
			TrafficSource: req.TrafficSource,
			UTM:           req.UTM,
			Device:        store.DeviceClass(req.Device),
		})
	case "pageview":
		err = s.tracker.RecordPageView(ctx, req.SessionID, req.Page, req.URL)
	case "scroll":
		err = s.tracker.RecordScrollDepth(ctx, req.SessionID, req.Depth)
	case "event":
		if req.Event == "" {
			http.Error(w, "Missing event name", http.StatusBadRequest)
			return
		}
		err = s.tracker.RecordEvent(ctx, req.SessionID, req.Event, req.Properties)
	case "interaction":
		err = s.experiments.Track(ctx, req.SessionID, req.Test, req.Variant, req.Action)
		// Malformed test/variant references are the client's fault;
		// store failures fall through to the 500 below.
		if errors.Is(err, experiment.ErrInvalidInteraction) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Invalid beacon type", http.StatusBadRequest)
		return
	}

	if err != nil {
		s.log.Error("beacon failed", "type", req.Type, "sid", req.SessionID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	metrics.EventsTracked.WithLabelValues(req.Type).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sid := r.URL.Query().Get("session")
	if sid == "" {
		http.Error(w, "Missing session", http.StatusBadRequest)
		return
	}

	sctx, err := s.tracker.Context(r.Context(), sid)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	rec := s.engine.Recommend(r.Context(), sctx, cta.PageContext{
		Page:     r.URL.Query().Get("page"),
		Position: r.URL.Query().Get("position"),
	})
	writeJSON(w, rec)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sid := r.URL.Query().Get("session")
	if sid == "" {
		http.Error(w, "Missing session", http.StatusBadRequest)
		return
	}
	sctx, err := s.tracker.Context(r.Context(), sid)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sctx)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	testID := r.URL.Query().Get("test")
	if testID == "" {
		http.Error(w, "Missing test", http.StatusBadRequest)
		return
	}
	results, err := s.experiments.Results(r.Context(), testID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	// Unknown tests report as null, not as an error.
	writeJSON(w, results)
}

type SubscribeRequest struct {
	Email     string            `json:"email"`
	Sequence  string            `json:"sequence"`
	LeadScore int               `json:"lead_score,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Sequence == "" {
		http.Error(w, "Missing email or sequence", http.StatusBadRequest)
		return
	}

	sub, err := s.scheduler.Enroll(r.Context(), req.Email, req.Sequence, req.LeadScore, req.Payload)
	switch {
	case errors.Is(err, nurture.ErrAlreadySubscribed):
		http.Error(w, "Already subscribed", http.StatusConflict)
		return
	case errors.Is(err, nurture.ErrUnknownSequence):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.log.Error("enrollment failed", "email", req.Email, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sub)
}

type UnsubscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "Missing email", http.StatusBadRequest)
		return
	}
	n, err := s.scheduler.Unsubscribe(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"unsubscribed": n})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
