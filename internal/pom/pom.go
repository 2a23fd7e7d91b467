// Package pom implements the POMBuilder (spec.md §4.2): it drives one
// navigation per run, resolves each intent to a SelectorRecord through the
// cache-first/drift-checked/tier-walk protocol, and reuses the last
// successful record across consecutive intents naming the same element.
package pom

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"pacts/internal/cache"
	"pacts/internal/discovery"
	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/profile"
	"pacts/internal/readiness"
)

// scopePropagation is how many intents after a scope-opening step continue
// to resolve within that scope (spec.md §4.2 "auto-propagate to the next N
// intents").
const scopePropagation = 3

// Driver is the slice of *browser.Driver the builder needs — a superset of
// discovery.Querier and readiness.Driver so one driver satisfies all three
// packages.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	HTML(ctx context.Context) (string, error)
	WaitIdle(ctx context.Context, budget time.Duration)
	EvalJSON(ctx context.Context, js string, out any, args ...any) error
	Element(ctx context.Context, selector string) (*rod.Element, error)
	Elements(ctx context.Context, selector string) (rod.Elements, error)
	ElementByJS(ctx context.Context, js string, args ...any) (*rod.Element, error)
}

// Builder is the POMBuilder: one per run, holding the navigation state,
// the active scope propagation budget, and the last-resolved element for
// same-element reuse (spec.md §4.2 step 3).
type Builder struct {
	d      Driver
	cache  *cache.Cache
	budget profile.Budget

	scope discovery.PropagatingScope

	lastElementName string
	lastRecord      model.SelectorRecord
	lastScope       string
	navigated       bool
}

// NewBuilder constructs a POMBuilder over a connected driver and cache.
func NewBuilder(d Driver, c *cache.Cache) *Builder {
	return &Builder{d: d, cache: c, budget: profile.BudgetFor(profile.Static)}
}

// EnsureNavigated drives the browser to url exactly once per run, then runs
// the readiness gate's DOM-idle stage and classifies the page's profile
// from its rendered HTML (spec.md §4.2 step 1, §4.6).
func (b *Builder) EnsureNavigated(ctx context.Context, url string) error {
	if b.navigated && b.d.CurrentURL() == url {
		return nil
	}
	if err := b.d.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	b.navigated = true

	html, err := b.d.HTML(ctx)
	if err != nil {
		logging.DiscoveryWarn("could not read HTML for profile detection: %v", err)
	} else {
		b.budget = profile.BudgetFor(profile.Detect(profile.DetectionInput{URL: url, HTML: html}))
		logging.Discovery("page %s classified %s", url, b.budget.Profile)
	}

	readiness.WaitDOMIdle(ctx, b.d, b.budget)
	return nil
}

// Resolve produces a SelectorRecord for one intent (spec.md §4.2 step 2-3):
// same-element reuse, then cache lookup with drift check, then the
// discovery tier walk on a miss or drift, admitting stable results back
// into the cache. The second return value reports whether a drift
// invalidation happened during this call (spec.md §4.8, §4.10 RCA rule) —
// the caller (internal/executor) records it onto RunState.DriftEvents.
func (b *Builder) Resolve(ctx context.Context, intent model.Intent, pageURL string) (model.SelectorRecord, bool, error) {
	if !intent.IsOrdinal() && intent.ElementName != "" && intent.ElementName == b.lastElementName {
		logging.DiscoveryDebug("reusing last selector for consecutive intent on %q", intent.ElementName)
		return b.lastRecord, false, nil
	}

	scope := b.resolveScope(ctx, intent)

	if intent.IsOrdinal() {
		rec, err := discovery.Discover(ctx, b.d, intent, scope)
		if err != nil {
			return model.SelectorRecord{}, false, err
		}
		if _, err := readiness.WaitElementReady(ctx, b.d, rec.Selector, b.budget); err != nil {
			return model.SelectorRecord{}, false, err
		}
		b.remember(intent.ElementName, *rec)
		return *rec, false, nil
	}

	drifted := false
	key := model.NewCacheKey(pageURL, intent.ElementName, intent.Action)
	if entry, ok, err := b.cache.Lookup(ctx, key); err != nil {
		return model.SelectorRecord{}, false, err
	} else if ok {
		currentHash := b.fingerprintOf(ctx, entry.Selector)
		if !b.cache.CheckDrift(entry, currentHash, b.budget) {
			rec := model.SelectorRecord{
				Selector: entry.Selector, Score: entry.Score, Strategy: entry.Strategy,
				Stable: entry.Stable, FromCache: true,
			}
			b.remember(intent.ElementName, rec)
			return rec, false, nil
		}
		drifted = true
		logging.CacheWarn("drift detected for %q, invalidating and re-discovering", intent.ElementName)
		if err := b.cache.Invalidate(ctx, key); err != nil {
			logging.CacheWarn("invalidate after drift: %v", err)
		}
	}

	rec, err := discovery.Discover(ctx, b.d, intent, scope)
	if err != nil {
		return model.SelectorRecord{}, drifted, err
	}

	if _, err := readiness.WaitElementReady(ctx, b.d, rec.Selector, b.budget); err != nil {
		return model.SelectorRecord{}, drifted, err
	}

	if rec.Cacheable() {
		hash := b.fingerprintOf(ctx, rec.Selector)
		if err := b.cache.Admit(ctx, *rec, key, hash); err != nil {
			logging.CacheWarn("admit failed for %q: %v", intent.ElementName, err)
		}
	}

	b.remember(intent.ElementName, *rec)
	return *rec, drifted, nil
}

// Budget returns the timeout budget classified for the current page
// (spec.md §4.6), so the orchestrator's Executor and Healer nodes share the
// same profile-derived budget the builder resolved at navigation time.
func (b *Builder) Budget() profile.Budget {
	return b.budget
}

func (b *Builder) remember(elementName string, rec model.SelectorRecord) {
	b.lastElementName = elementName
	b.lastRecord = rec
}

// Scope returns the CSS selector of the container the current step's
// discovery resolved to, or "" for document scope. The Executor's
// actionability gate and the Healer's stabilize pass use this — never the
// raw human-readable scope_hint, which is a name, not a selector.
func (b *Builder) Scope() string {
	return b.lastScope
}

// CommitHealed installs a selector the Healer proved actionable as the
// last-known record for elementName, so the Executor's same-element reuse
// path resumes on the healed selector instead of the one that failed
// (spec.md §4.5 step 3 "commit the new SelectorRecord").
func (b *Builder) CommitHealed(elementName string, rec model.SelectorRecord) {
	b.remember(elementName, rec)
}

// RecordStepOutcome feeds the cache's consecutive-failure invalidation rule
// (spec.md §4.7): a step driven by a cache-sourced selector reports its
// executor outcome here. Non-cached selectors are ignored.
func (b *Builder) RecordStepOutcome(ctx context.Context, intent model.Intent, pageURL string, rec model.SelectorRecord, ok bool) {
	if !rec.FromCache {
		return
	}
	key := model.NewCacheKey(pageURL, intent.ElementName, intent.Action)
	if ok {
		b.cache.RecordSuccess(key)
		return
	}
	if err := b.cache.RecordFailure(ctx, key); err != nil {
		logging.CacheWarn("record failure for %q: %v", intent.ElementName, err)
	}
}

// resolveScope resolves a fresh scope_hint, or falls back to whatever scope
// is still propagating from a prior step (spec.md §4.2 scope resolution).
func (b *Builder) resolveScope(ctx context.Context, intent model.Intent) string {
	if intent.ScopeHint == "" {
		b.lastScope = b.scope.Apply()
		return b.lastScope
	}
	resolved, err := discovery.ResolveScope(ctx, b.d, intent.ScopeHint)
	if err != nil {
		logging.DiscoveryWarn("scope resolution for %q failed: %v", intent.ScopeHint, err)
		b.lastScope = b.scope.Apply()
		return b.lastScope
	}
	b.scope.Reset(resolved, scopePropagation)
	b.lastScope = resolved
	return resolved
}

// fingerprintJS extracts the token material Fingerprint needs for the
// element currently matching selector: its tag, its attribute map, and the
// tag-name path of its three nearest ancestors (spec.md §4.8, SPEC_FULL.md
// §12).
const fingerprintJS = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return null;
	const attrs = {};
	for (const a of el.attributes) attrs[a.name] = a.value;
	const ancestors = [];
	let p = el.parentElement;
	for (let i = 0; i < 3 && p; i++) {
		ancestors.push(p.tagName.toLowerCase());
		p = p.parentElement;
	}
	return {tag: el.tagName.toLowerCase(), attrs, ancestors};
}`

type fingerprintShape struct {
	Tag       string            `json:"tag"`
	Attrs     map[string]string `json:"attrs"`
	Ancestors []string          `json:"ancestors"`
}

// fingerprintOf computes the DOM fingerprint for a selector, or "" if the
// element can no longer be found. An empty current hash skips the drift
// comparison: the cached selector is still returned, and it is the gate's
// job to fail it so the Healer (not a silent re-discovery) replaces it.
func (b *Builder) fingerprintOf(ctx context.Context, selector string) string {
	return Fingerprint(ctx, b.d, selector)
}

// Fingerprint computes the DOM fingerprint for selector against d, exported
// so OracleHealer (internal/healer) can re-fingerprint a healed selector
// before re-admitting it to the cache without duplicating the probe JS.
func Fingerprint(ctx context.Context, d Driver, selector string) string {
	var shape fingerprintShape
	if err := d.EvalJSON(ctx, fingerprintJS, &shape, selector); err != nil {
		logging.DiscoveryDebug("fingerprint eval failed for %q: %v", selector, err)
		return ""
	}
	if shape.Tag == "" {
		return ""
	}
	return cache.Fingerprint(shape.Tag, shape.Attrs, shape.Ancestors)
}
