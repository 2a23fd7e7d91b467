// Package readiness implements the three-stage readiness gate (spec.md
// §4.6): DOM idle, element ready, and an optional app-ready hook the page
// under test can expose. It runs before discovery re-probes an element and
// before the actionability gate (internal/readiness/gate.go) checks it.
package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"pacts/internal/logging"
	"pacts/internal/profile"
)

// Driver is the slice of *browser.Driver readiness needs.
type Driver interface {
	WaitIdle(ctx context.Context, budget time.Duration)
	EvalJSON(ctx context.Context, js string, out any, args ...any) error
	Element(ctx context.Context, selector string) (*rod.Element, error)
}

// appReadyJS invokes the page's optional readiness hook. Pages that don't
// define window.__pactsAppReady are treated as always ready (spec.md §12
// app-ready hook convention): the hook is opt-in, not a requirement.
const appReadyJS = `() => {
	if (typeof window.__pactsAppReady === "function") {
		try { return !!window.__pactsAppReady(); } catch (e) { return false; }
	}
	return true;
}`

// WaitDOMIdle is stage 1: wait for the network to settle, within budget.
// Soft-fail — a timeout here only logs, it never blocks the run (spec.md §4.6).
func WaitDOMIdle(ctx context.Context, d Driver, budget profile.Budget) {
	timer := logging.StartTimer(logging.CategoryReadiness, "dom_idle")
	d.WaitIdle(ctx, budget.DOMIdleTimeout)
	timer.StopWithThreshold(budget.DOMIdleTimeout)
}

// WaitAppReady is stage 3: poll the app-ready hook until it returns true or
// the settle-delay budget elapses.
func WaitAppReady(ctx context.Context, d Driver, budget profile.Budget) error {
	deadline := time.Now().Add(budget.SettleDelay)
	if budget.SettleDelay <= 0 {
		deadline = time.Now().Add(500 * time.Millisecond)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		var ready bool
		if err := d.EvalJSON(ctx, appReadyJS, &ready); err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			logging.ReadinessDebug("app-ready hook did not settle within %s, proceeding anyway", budget.SettleDelay)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitElementReady is stage 2: poll for the element to exist in the DOM.
func WaitElementReady(ctx context.Context, d Driver, selector string, budget profile.Budget) (*rod.Element, error) {
	tctx, cancel := context.WithTimeout(ctx, budget.NavigationBudget)
	defer cancel()

	ticker := time.NewTicker(budget.ActionabilityPoll)
	defer ticker.Stop()

	for {
		el, err := d.Element(tctx, selector)
		if err == nil && el != nil {
			return el, nil
		}
		select {
		case <-tctx.Done():
			return nil, fmt.Errorf("element %q not ready within %s: %w", selector, budget.NavigationBudget, tctx.Err())
		case <-ticker.C:
		}
	}
}

// Gate runs all three readiness stages in order for one selector.
func Gate(ctx context.Context, d Driver, selector string, budget profile.Budget) (*rod.Element, error) {
	WaitDOMIdle(ctx, d, budget)
	el, err := WaitElementReady(ctx, d, selector, budget)
	if err != nil {
		return nil, err
	}
	if err := WaitAppReady(ctx, d, budget); err != nil {
		return nil, err
	}
	return el, nil
}
