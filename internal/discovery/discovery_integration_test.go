//go:build integration

package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pacts/internal/browser"
	"pacts/internal/model"
)

// TestDiscoverWaterfallAgainstRealDOM drives a real headless browser against
// a local fixture page, the same httptest+headless-rod pattern the teacher
// repo uses for browser-driving tests so `go test ./...` never needs a
// browser by default.
func TestDiscoverWaterfallAgainstRealDOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body>
			<form>
				<label for="email-input">Email address</label>
				<input id="email-input" name="email" type="text">
				<button aria-label="Sign in">Go</button>
				<div data-testid="signup-cta">Sign up</div>
			</form>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := browser.DefaultConfig()
	d, err := browser.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	t.Run("label_for", func(t *testing.T) {
		rec, err := Discover(ctx, d, model.Intent{ElementName: "Email address", Action: model.ActionFill}, "")
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if rec.Strategy != model.StrategyLabelFor {
			t.Errorf("strategy = %s, want %s", rec.Strategy, model.StrategyLabelFor)
		}
	})

	t.Run("aria_label", func(t *testing.T) {
		rec, err := Discover(ctx, d, model.Intent{ElementName: "Sign in", Action: model.ActionClick}, "")
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if rec.Strategy != model.StrategyAriaLabel {
			t.Errorf("strategy = %s, want %s", rec.Strategy, model.StrategyAriaLabel)
		}
	})

	t.Run("data_testid", func(t *testing.T) {
		rec, err := Discover(ctx, d, model.Intent{ElementName: "Sign up", Action: model.ActionClick}, "")
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if rec.Strategy != model.StrategyDataTestAttr {
			t.Errorf("strategy = %s, want %s", rec.Strategy, model.StrategyDataTestAttr)
		}
	})
}

// TestDiscoverPrefersExactMatchOverEarlierSubstring pins the tie-break: an
// exact aria-label later in the document must beat a merely-fuzzy one that
// appears first.
func TestDiscoverPrefersExactMatchOverEarlierSubstring(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body>
			<button id="fuzzy-search" aria-label="Search box controls">A</button>
			<button id="exact-search" aria-label="Search box">B</button>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d, err := browser.Connect(ctx, browser.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	rec, err := Discover(ctx, d, model.Intent{ElementName: "Search box", Action: model.ActionClick}, "")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if rec.Selector != "#exact-search" {
		t.Errorf("selector = %q, want the exact match #exact-search over the earlier fuzzy one", rec.Selector)
	}
}

// TestDiscoverOrdinalBeyondCountFallsThrough covers the boundary where the
// requested ordinal exceeds the available elements: the positional tier
// comes up empty and discovery must continue down the waterfall rather than
// fail outright.
func TestDiscoverOrdinalBeyondCountFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body>
			<a href="/a" role="link">one</a>
			<a href="/b" role="link">two</a>
			<button id="watch-later" aria-label="Watch later">WL</button>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d, err := browser.Connect(ctx, browser.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	ordinal := 5

	t.Run("waterfall_recovers", func(t *testing.T) {
		intent := model.Intent{
			ElementName:     "Watch later",
			ElementTypeHint: "link",
			Action:          model.ActionClick,
			Ordinal:         &ordinal,
		}
		rec, err := Discover(ctx, d, intent, "")
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if rec.Strategy != model.StrategyAriaLabel {
			t.Errorf("strategy = %s, want aria_label via waterfall fall-through", rec.Strategy)
		}
	})

	t.Run("exhaustion", func(t *testing.T) {
		intent := model.Intent{
			ElementName:     "sixth video result",
			ElementTypeHint: "video result",
			Action:          model.ActionClick,
			Ordinal:         &ordinal,
		}
		if _, err := Discover(ctx, d, intent, ""); err == nil {
			t.Fatal("expected discovery exhaustion when neither the ordinal tier nor the waterfall matches")
		}
	})
}

// TestDiscoverOrdinalTierAgainstRealDOM mirrors spec.md §8 scenario 2 ("first
// video result" on a results page): the type hint must map to the link role
// rather than be used as a literal CSS selector, and the match must be the
// first anchor in document order, never cached.
func TestDiscoverOrdinalTierAgainstRealDOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html><body>
			<div id="results">
				<a href="/watch?v=1" role="link">First tutorial video</a>
				<a href="/watch?v=2" role="link">Second tutorial video</a>
			</div>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := browser.DefaultConfig()
	d, err := browser.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	ordinal := 0
	intent := model.Intent{
		ElementName:     "first video result",
		ElementTypeHint: "video result",
		Action:          model.ActionClick,
		Ordinal:         &ordinal,
	}
	rec, err := Discover(ctx, d, intent, "")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if rec.Strategy != model.StrategyOrdinal {
		t.Errorf("strategy = %s, want %s", rec.Strategy, model.StrategyOrdinal)
	}
	if rec.Stable {
		t.Errorf("ordinal selector must not be stable")
	}
	if rec.Meta.MatchedText == "Second tutorial video" {
		t.Errorf("matched the second anchor, want the first")
	}
}
