package cache

import (
	"context"
	"testing"

	"pacts/internal/model"
	"pacts/internal/profile"
)

type fakeDurable struct {
	entries     map[model.CacheKey]model.CacheEntry
	ledger      map[string][]model.HealLedgerEntry
	invalidated []model.CacheKey
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		entries: make(map[model.CacheKey]model.CacheEntry),
		ledger:  make(map[string][]model.HealLedgerEntry),
	}
}

func (f *fakeDurable) GetSelectorCache(_ context.Context, key model.CacheKey) (model.CacheEntry, bool, error) {
	e, ok := f.entries[key]
	return e, ok, nil
}

func (f *fakeDurable) UpsertSelectorCache(_ context.Context, e model.CacheEntry) error {
	f.entries[e.Key] = e
	return nil
}

func (f *fakeDurable) InvalidateSelectorCache(_ context.Context, key model.CacheKey) error {
	delete(f.entries, key)
	f.invalidated = append(f.invalidated, key)
	return nil
}

func (f *fakeDurable) RecordHealOutcome(_ context.Context, urlPattern, elementName string, strategy model.Strategy, success bool) error {
	k := urlPattern + "|" + elementName
	for i, e := range f.ledger[k] {
		if e.Strategy == strategy {
			if success {
				f.ledger[k][i].SuccessCount++
			} else {
				f.ledger[k][i].FailureCount++
			}
			return nil
		}
	}
	e := model.HealLedgerEntry{URLPattern: urlPattern, ElementNameLower: elementName, Strategy: strategy}
	if success {
		e.SuccessCount = 1
	} else {
		e.FailureCount = 1
	}
	f.ledger[k] = append(f.ledger[k], e)
	return nil
}

func (f *fakeDurable) HealLedgerFor(_ context.Context, urlPattern, elementName string) ([]model.HealLedgerEntry, error) {
	return f.ledger[urlPattern+"|"+elementName], nil
}

func TestAdmitRefusesUnstable(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)
	rec := model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyOrdinal, Stable: false}

	if err := c.Admit(context.Background(), rec, key, "abc"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(d.entries) != 0 {
		t.Fatalf("expected no durable write, got %d entries", len(d.entries))
	}
}

func TestAdmitAndLookupWarmsFastTier(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)
	rec := model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}

	if err := c.Admit(context.Background(), rec, key, "fingerprint1"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	entry, ok, err := c.Lookup(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.Selector != "#submit" {
		t.Errorf("selector = %q, want #submit", entry.Selector)
	}

	// second lookup should be served from the fast tier without touching
	// the durable entry count again.
	if _, ok, err := c.Lookup(context.Background(), key); err != nil || !ok {
		t.Fatalf("second lookup: ok=%v err=%v", ok, err)
	}
}

func TestAdmitRefusesLowerScoreDifferentStrategy(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)

	best := model.SelectorRecord{Selector: "[aria-label=\"Submit\"]", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(context.Background(), best, key, "fp1"); err != nil {
		t.Fatalf("admit best: %v", err)
	}

	worse := model.SelectorRecord{Selector: "#submit-3", Strategy: model.StrategyIDClass, Stable: true, Score: 0.70}
	if err := c.Admit(context.Background(), worse, key, "fp2"); err != nil {
		t.Fatalf("admit worse: %v", err)
	}

	entry, ok, err := c.Lookup(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.Strategy != model.StrategyAriaLabel || entry.Selector != best.Selector {
		t.Errorf("lower-score different-strategy admission clobbered the existing entry: got strategy=%s selector=%s",
			entry.Strategy, entry.Selector)
	}
}

func TestAdmitAcceptsStrictlyHigherScoreDifferentStrategy(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)

	worse := model.SelectorRecord{Selector: "#submit-3", Strategy: model.StrategyIDClass, Stable: true, Score: 0.70}
	if err := c.Admit(context.Background(), worse, key, "fp1"); err != nil {
		t.Fatalf("admit worse: %v", err)
	}

	better := model.SelectorRecord{Selector: "[aria-label=\"Submit\"]", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(context.Background(), better, key, "fp2"); err != nil {
		t.Fatalf("admit better: %v", err)
	}

	entry, ok, err := c.Lookup(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.Strategy != model.StrategyAriaLabel || entry.Selector != better.Selector {
		t.Errorf("strictly-higher-score admission should have replaced the entry: got strategy=%s selector=%s",
			entry.Strategy, entry.Selector)
	}
}

func TestAdmitAllowsSameStrategyRefreshRegardlessOfScore(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)

	first := model.SelectorRecord{Selector: "[aria-label=\"Submit\"]", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(context.Background(), first, key, "fp1"); err != nil {
		t.Fatalf("admit first: %v", err)
	}

	refreshed := model.SelectorRecord{Selector: "[aria-label=\"Submit order\"]", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(context.Background(), refreshed, key, "fp2"); err != nil {
		t.Fatalf("admit refreshed: %v", err)
	}

	entry, ok, err := c.Lookup(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.Selector != refreshed.Selector {
		t.Errorf("same-strategy refresh should always overwrite: got selector=%s", entry.Selector)
	}
}

func TestRecordFailureInvalidatesOnSecondConsecutive(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	key := model.NewCacheKey("https://example.com/login", "submit", model.ActionClick)
	rec := model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyAriaLabel, Stable: true}
	_ = c.Admit(context.Background(), rec, key, "fp")

	if err := c.RecordFailure(context.Background(), key); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if _, ok, _ := c.Lookup(context.Background(), key); !ok {
		t.Fatal("expected entry to survive a single failure")
	}

	if err := c.RecordFailure(context.Background(), key); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if _, ok, _ := c.Lookup(context.Background(), key); ok {
		t.Fatal("expected entry invalidated after second consecutive failure")
	}
}

func TestCheckDriftRespectsProfileThreshold(t *testing.T) {
	c := New(newFakeDurable())
	entry := model.CacheEntry{DOMHashSnapshot: Fingerprint("button", map[string]string{"id": "submit"}, []string{"form", "div"})}
	same := Fingerprint("button", map[string]string{"id": "submit"}, []string{"form", "div"})
	changed := Fingerprint("button", map[string]string{"id": "submit-v2", "class": "new-layout"}, []string{"section", "main"})

	if c.CheckDrift(entry, same, profile.BudgetFor(profile.Static)) {
		t.Error("identical fingerprint should not drift")
	}
	if !c.CheckDrift(entry, changed, profile.BudgetFor(profile.Static)) {
		t.Error("substantially changed fingerprint should drift under the static threshold")
	}
}

func TestBestStrategiesRanksBySuccessRate(t *testing.T) {
	d := newFakeDurable()
	c := New(d)
	ctx := context.Background()
	_ = c.RecordHealOutcome(ctx, "example.com/login", "submit", model.StrategyAriaLabel, true)
	_ = c.RecordHealOutcome(ctx, "example.com/login", "submit", model.StrategyAriaLabel, true)
	_ = c.RecordHealOutcome(ctx, "example.com/login", "submit", model.StrategyIDClass, false)

	ranked, err := c.BestStrategies(ctx, "example.com/login", "submit")
	if err != nil {
		t.Fatalf("best strategies: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranked))
	}
	if ranked[0].Strategy != model.StrategyAriaLabel {
		t.Errorf("expected aria_label ranked first, got %s", ranked[0].Strategy)
	}
}
