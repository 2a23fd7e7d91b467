//go:build integration

package executor

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

func TestRunStepFillAndClick(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body>
			<label for="email">Email address</label>
			<input id="email" name="email">
			<button aria-label="Submit form" onclick="document.body.innerHTML += '<p>Thanks for signing up</p>'">Submit</button>
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

	builder := pom.NewBuilder(d, cache.New(s))
	if err := builder.EnsureNavigated(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	rs := model.NewRunState("req-1", []model.Intent{
		{ElementName: "Email address", Action: model.ActionFill, Value: "a@b.com", Outcome: "field_populated"},
		{ElementName: "Submit form", Action: model.ActionClick, Outcome: "page_contains_text:Thanks for signing up"},
	}, "hash", 3)

	budget := profile.BudgetFor(profile.Static)

	if err := RunStep(ctx, d, rs, builder, srv.URL, budget); err != nil {
		t.Fatalf("run step 1: %v", err)
	}
	if rs.Failure != model.FailureNone {
		t.Fatalf("step 1 failure = %s", rs.Failure)
	}
	if rs.StepIdx != 1 {
		t.Fatalf("step_idx = %d, want 1", rs.StepIdx)
	}

	if err := RunStep(ctx, d, rs, builder, srv.URL, budget); err != nil {
		t.Fatalf("run step 2: %v", err)
	}
	if rs.Failure != model.FailureNone {
		t.Fatalf("step 2 failure = %s", rs.Failure)
	}
	if rs.StepIdx != 2 {
		t.Fatalf("step_idx = %d, want 2", rs.StepIdx)
	}
	if len(rs.ExecutedSteps) != 2 {
		t.Fatalf("executed_steps = %d, want 2", len(rs.ExecutedSteps))
	}
}
