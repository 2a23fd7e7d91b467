package discovery

import (
	"context"
	"fmt"

	"pacts/internal/logging"
)

// containerSelectors are the landmark roles/elements scope resolution
// considers, in priority order: an open dialog first (it usually shadows
// the rest of the page), then a form, then a named region (spec.md §4.2
// scope resolution).
var containerSelectors = []string{
	`[role="dialog"]`, `[role="alertdialog"]`, "dialog[open]",
	"form",
	`[role="region"]`, "section", "main",
}

// ResolveScope finds the CSS selector for the container named by hint (e.g.
// "checkout dialog", "shipping form"), searching dialogs, then forms, then
// regions for one whose accessible name fuzzy-matches hint. Returns "" if
// hint is empty or nothing matches closely enough to be worth scoping to —
// callers fall back to document-wide discovery rather than treating a scope
// miss as fatal (spec.md §4.2).
func ResolveScope(ctx context.Context, q Querier, hint string) (string, error) {
	if hint == "" {
		return "", nil
	}

	tctx, cancel := context.WithTimeout(ctx, tierProbeTimeout)
	defer cancel()

	js := fmt.Sprintf(`() => {
		const guard = %s;
		const match = %s;
		const accName = (el) => el.getAttribute("aria-label") || el.getAttribute("aria-labelledby") && document.getElementById(el.getAttribute("aria-labelledby"))?.textContent || (el.querySelector("h1,h2,h3,legend") || {}).textContent || el.getAttribute("name") || "";
		const selectors = %s;
		for (const sel of selectors) {
			const candidates = Array.from(document.querySelectorAll(sel));
			for (const el of candidates) {
				if (!guard(el)) continue;
				if (match(accName(el), %s)) return el;
			}
		}
		return null;
	}`, guardJS, matchJS, jsSelectorList(containerSelectors), jsString(hint))

	el, err := q.ElementByJS(tctx, js)
	if err != nil || el == nil {
		logging.DiscoveryDebug("scope hint %q resolved to nothing, falling back to document scope", hint)
		return "", nil
	}
	res, err := el.Eval(selectorForJS)
	if err != nil {
		return "", fmt.Errorf("compute scope selector: %w", err)
	}
	sel := res.Value.Str()
	logging.DiscoveryDebug("scope hint %q -> %s", hint, sel)
	return sel, nil
}

func jsSelectorList(selectors []string) string {
	out := "["
	for i, s := range selectors {
		if i > 0 {
			out += ", "
		}
		out += jsString(s)
	}
	return out + "]"
}

// PropagatingScope tracks a resolved scope and how many remaining intents it
// auto-applies to (spec.md §4.2: a scope hint on one intent propagates to
// the immediately following intents until a new hint or explicit reset).
type PropagatingScope struct {
	Selector  string
	Remaining int
}

// Apply returns the currently propagating scope selector, if any budget
// remains, consuming one unit. Callers check intent.ScopeHint separately
// and call Reset (after resolving it) instead of Apply when one is present.
func (p *PropagatingScope) Apply() string {
	if p.Remaining > 0 {
		p.Remaining--
		return p.Selector
	}
	return ""
}

// Reset installs a newly resolved scope selector with a fresh propagation
// budget.
func (p *PropagatingScope) Reset(selector string, propagateFor int) {
	p.Selector = selector
	p.Remaining = propagateFor
}
