package executor

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/profile"
)

const outcomePollInterval = 100 * time.Millisecond

// verifyOutcome implements spec.md §4.3 step 4. An empty or unrecognized
// outcome token is treated as success implied by the action primitive not
// raising (the third bullet of step 4).
func verifyOutcome(ctx context.Context, d Driver, el *rod.Element, intent model.Intent, budget profile.Budget) (bool, error) {
	switch {
	case intent.Outcome == "field_populated":
		return verifyFieldPopulated(el, intent.Value)

	case strings.HasPrefix(intent.Outcome, "navigates_to:"):
		target := strings.TrimPrefix(intent.Outcome, "navigates_to:")
		return raceNavigationOutcome(ctx, d, target, budget)

	case strings.HasPrefix(intent.Outcome, "page_contains_text:"):
		target := strings.TrimPrefix(intent.Outcome, "page_contains_text:")
		return waitForPageText(ctx, d, target, budget.NavigationBudget)

	default:
		return true, nil
	}
}

func verifyFieldPopulated(el *rod.Element, want string) (bool, error) {
	if el == nil {
		return false, nil
	}
	res, err := el.Eval(`() => this.value ?? this.textContent ?? ""`)
	if err != nil {
		return false, err
	}
	got := res.Value.Str()
	return got == want, nil
}

const pageContainsTextJS = `(needle) => document.body && document.body.innerText.toLowerCase().includes(String(needle).toLowerCase())`

func waitForPageText(ctx context.Context, d Driver, needle string, budget time.Duration) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(outcomePollInterval)
	defer ticker.Stop()

	for {
		var found bool
		if err := d.EvalJSON(tctx, pageContainsTextJS, &found, needle); err == nil && found {
			return true, nil
		}
		select {
		case <-tctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

// raceNavigationOutcome implements spec.md §4.4's SPA navigation race: a
// navigation-complete waiter (URL changes) races a DOM-success-token
// waiter (page_contains_text target), first to resolve within budget wins.
func raceNavigationOutcome(ctx context.Context, d Driver, target string, budget profile.Budget) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, budget.NavigationBudget)
	defer cancel()

	startURL, err := d.PageURL(tctx)
	if err != nil {
		startURL = d.CurrentURL()
	}
	result := make(chan bool, 2)

	go func() {
		ticker := time.NewTicker(outcomePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				cur, err := d.PageURL(tctx)
				if err == nil && cur != startURL {
					select {
					case result <- true:
					default:
					}
					return
				}
			}
		}
	}()

	go func() {
		ok, _ := waitForPageText(tctx, d, target, budget.NavigationBudget)
		if ok {
			select {
			case result <- true:
			default:
			}
		}
	}()

	select {
	case <-result:
		return true, nil
	case <-tctx.Done():
		logging.ExecWarn("navigation race for %q did not resolve within %s", target, budget.NavigationBudget)
		return false, nil
	}
}
