package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/cta"
	"github.com/leadpulse/leadpulse/internal/experiment"
	"github.com/leadpulse/leadpulse/internal/nurture"
	"github.com/leadpulse/leadpulse/internal/scoring"
	"github.com/leadpulse/leadpulse/internal/server"
	"github.com/leadpulse/leadpulse/internal/session"
	"github.com/leadpulse/leadpulse/internal/store"
)

// nullSender drops every email, for request-path tests that only care
// about enrollment state.
type nullSender struct{}

func (nullSender) Send(context.Context, string, string, string) error { return nil }

func newTestServer(t *testing.T) (*server.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.DiscardHandler)
	tracker := session.NewTracker(st.Sessions())
	experiments := experiment.NewService(st.Tests(), st.Interactions())
	engine := cta.NewEngine(cta.DefaultRules(), cta.DefaultCatalog(), experiments)
	scheduler := nurture.NewScheduler(st.Subscriptions(), nullSender{}, nurture.DefaultLibrary(), log)

	srv := server.New(tracker, experiments, engine, scheduler, st.Tests(), log, 0)
	return srv, st
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sendBeacon(t *testing.T, h http.Handler, beacon server.BeaconRequest) {
	t.Helper()
	w := postJSON(t, h, "/t", beacon)
	if w.Code != http.StatusNoContent {
		t.Fatalf("beacon %q returned %d: %s", beacon.Type, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := get(t, srv.Handler(), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	var resp server.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestBeacon_TrackingFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "start",
		TrafficSource: "google", Device: "desktop"})
	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "pageview",
		Page: "pricing", URL: "https://example.com/pricing"})
	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "scroll", Depth: 80})
	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "event",
		Event: "calculator_used"})

	w := get(t, h, "/api/context?session=s1")
	if w.Code != http.StatusOK {
		t.Fatalf("context returned %d", w.Code)
	}
	var sctx scoring.Context
	if err := json.Unmarshal(w.Body.Bytes(), &sctx); err != nil {
		t.Fatalf("failed to parse context: %v", err)
	}
	if sctx.PageViews != 1 {
		t.Errorf("page views = %d", sctx.PageViews)
	}
	if sctx.ScrollDepth != 80 {
		t.Errorf("scroll depth = %d", sctx.ScrollDepth)
	}
	if !sctx.HasUsedCalculator {
		t.Error("calculator flag not set")
	}
	if sctx.Score == 0 {
		t.Error("score should reflect the calculator signal")
	}
}

func TestBeacon_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name   string
		beacon server.BeaconRequest
		want   int
	}{
		{"missing session", server.BeaconRequest{Type: "start"}, http.StatusBadRequest},
		{"bad type", server.BeaconRequest{SessionID: "s1", Type: "nope"}, http.StatusBadRequest},
		{"event without name", server.BeaconRequest{SessionID: "s1", Type: "event"}, http.StatusBadRequest},
		{"interaction for unknown test", server.BeaconRequest{SessionID: "s1", Type: "interaction",
			Test: "nope", Variant: "v", Action: "click"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, h, "/t", tc.beacon)
			if w.Code != tc.want {
				t.Errorf("got %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("{nope"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("got %d", w.Code)
		}
	})
}

func TestBeacon_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/t", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestRecommendation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "start"})
	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "event",
		Event: "calculator_used"})

	w := get(t, h, "/api/recommendation?session=s1&page=pricing&position=hero")
	if w.Code != http.StatusOK {
		t.Fatalf("recommendation returned %d: %s", w.Code, w.Body.String())
	}
	var rec cta.Recommendation
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to parse recommendation: %v", err)
	}
	if rec.CTAType != cta.TypeConsultation {
		t.Errorf("calculator user should get consultation, got %s", rec.CTAType)
	}
	if rec.Variant == nil {
		t.Error("expected a variant")
	}

	// An unknown session still gets a recommendation from zero context.
	w = get(t, h, "/api/recommendation?session=never-seen&page=blog")
	if w.Code != http.StatusOK {
		t.Fatalf("recommendation for unknown session returned %d", w.Code)
	}

	if w := get(t, h, "/api/recommendation"); w.Code != http.StatusBadRequest {
		t.Errorf("missing session should 400, got %d", w.Code)
	}
}

func TestResults(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	err := st.Tests().Create(ctx, &store.Test{
		ID:            "hero",
		Variants:      []store.Variant{{ID: "control"}, {ID: "b"}},
		Status:        store.StatusRunning,
		TrafficPct:    100,
		MinSampleSize: 10,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "interaction",
			Test: "hero", Variant: "control", Action: store.ActionImpression})
	}
	sendBeacon(t, h, server.BeaconRequest{SessionID: "s1", Type: "interaction",
		Test: "hero", Variant: "control", Action: store.ActionConversion})

	w := get(t, h, "/api/results?test=hero")
	if w.Code != http.StatusOK {
		t.Fatalf("results returned %d", w.Code)
	}
	var results experiment.Results
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("failed to parse results: %v", err)
	}
	if results.TestID != "hero" || len(results.Variants) != 2 {
		t.Errorf("unexpected results: %+v", results)
	}

	// Unknown test reports null, not an error.
	w = get(t, h, "/api/results?test=nope")
	if w.Code != http.StatusOK {
		t.Fatalf("results for unknown test returned %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "null" {
		t.Errorf("expected null body, got %q", w.Body.String())
	}
}

func TestSubscribe(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := postJSON(t, h, "/api/subscribe", server.SubscribeRequest{
		Email: "lead@example.com", Sequence: nurture.SeqQuickWin, LeadScore: 55,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe returned %d: %s", w.Code, w.Body.String())
	}
	var sub store.Subscription
	if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
		t.Fatalf("failed to parse subscription: %v", err)
	}
	if sub.Status != store.SubActive || sub.CurrentOffset != 0 {
		t.Errorf("unexpected subscription: %+v", sub)
	}

	// Enrolling again conflicts.
	w = postJSON(t, h, "/api/subscribe", server.SubscribeRequest{
		Email: "lead@example.com", Sequence: nurture.SeqQuickWin,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate subscribe returned %d", w.Code)
	}

	w = postJSON(t, h, "/api/subscribe", server.SubscribeRequest{
		Email: "lead@example.com", Sequence: "winback",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown sequence returned %d", w.Code)
	}

	w = postJSON(t, h, "/api/subscribe", server.SubscribeRequest{Email: "lead@example.com"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sequence returned %d", w.Code)
	}
}

func TestUnsubscribe(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	postJSON(t, h, "/api/subscribe", server.SubscribeRequest{
		Email: "lead@example.com", Sequence: nurture.SeqQuickWin,
	})
	postJSON(t, h, "/api/subscribe", server.SubscribeRequest{
		Email: "lead@example.com", Sequence: nurture.SeqReengage,
	})

	w := postJSON(t, h, "/api/unsubscribe", server.UnsubscribeRequest{Email: "lead@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("unsubscribe returned %d", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["unsubscribed"] != 2 {
		t.Errorf("unsubscribed = %d", resp["unsubscribed"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{"/health", "/api/recommendation", "/api/context", "/api/results"} {
		if w := postJSON(t, h, path, struct{}{}); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s returned %d", path, w.Code)
		}
	}
	if w := get(t, h, "/api/subscribe"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/subscribe returned %d", w.Code)
	}
}
