//go:build integration

package healer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pacts/internal/browser"
	"pacts/internal/cache"
	"pacts/internal/model"
	"pacts/internal/pom"
	"pacts/internal/profile"
	"pacts/internal/store"
)

// TestHealRecoversAfterSelectorChurn rehearses spec.md §4.5's reveal →
// reprobe → stabilize cycle: the page first hides the submit button's
// aria-label (so the cached/discovered selector goes stale), then a single
// Heal call must find it again via a lower-tier strategy and clear Failure.
func TestHealRecoversAfterSelectorChurn(t *testing.T) {
	var churned bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label := `aria-label="Submit form"`
		if churned {
			label = `data-testid="submit-form"`
		}
		w.Write([]byte(`<!doctype html><html><body>
			<button id="submit-btn" ` + label + ` onclick="document.body.innerHTML += '<p>Thanks</p>'">Submit</button>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := browser.Connect(ctx, browser.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	c := cache.New(s)
	builder := pom.NewBuilder(d, c)
	if err := builder.EnsureNavigated(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	rs := model.NewRunState("req-1", []model.Intent{
		{ElementName: "Submit form", Action: model.ActionClick, Outcome: "page_contains_text:Thanks"},
	}, "hash", 3)

	rec, _, err := builder.Resolve(ctx, rs.Plan[0], srv.URL)
	if err != nil {
		t.Fatalf("initial resolve: %v", err)
	}
	rs.SetDiscovered(0, rec)

	// Simulate the page changing out from under the run: the aria-label
	// strategy the initial resolve used no longer matches anything.
	churned = true
	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("re-navigate: %v", err)
	}
	rs.Failure = model.FailureDiscoveryMissing

	h := New(d, c)
	budget := profile.BudgetFor(profile.Static)
	if err := h.Heal(ctx, rs, builder, srv.URL, budget); err != nil {
		t.Fatalf("heal: %v", err)
	}

	if rs.HealRound != 1 {
		t.Errorf("heal_round = %d, want 1", rs.HealRound)
	}
	if len(rs.HealEvents) != 1 {
		t.Fatalf("heal_events length = %d, want 1", len(rs.HealEvents))
	}
	if !rs.HealEvents[0].Success {
		t.Errorf("expected heal to succeed via a lower tier, got failure: %s", rs.HealEvents[0].Reason)
	}
	if rs.Failure != model.FailureNone {
		t.Errorf("failure = %s, want none after a successful heal", rs.Failure)
	}
}

// TestHealReportsFailureWhenElementGoneEntirely exercises the failing path:
// no amount of reprobing finds an element that was actually removed.
func TestHealReportsFailureWhenElementGoneEntirely(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body><p>nothing here</p></body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := browser.Connect(ctx, browser.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	c := cache.New(s)
	builder := pom.NewBuilder(d, c)
	if err := builder.EnsureNavigated(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	rs := model.NewRunState("req-1", []model.Intent{
		{ElementName: "Ghost button", Action: model.ActionClick},
	}, "hash", 3)
	rs.Failure = model.FailureDiscoveryMissing

	h := New(d, c)
	budget := profile.BudgetFor(profile.Static)
	if err := h.Heal(ctx, rs, builder, srv.URL, budget); err != nil {
		t.Fatalf("heal: %v", err)
	}

	if rs.HealRound != 1 {
		t.Errorf("heal_round = %d, want 1", rs.HealRound)
	}
	if rs.HealEvents[0].Success {
		t.Error("expected heal to fail for an element that doesn't exist")
	}
	if rs.Failure != model.FailureDiscoveryMissing {
		t.Errorf("failure = %s, want unchanged discovery_missing", rs.Failure)
	}
}
