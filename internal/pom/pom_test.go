package pom

import (
	"context"
	"testing"

	"pacts/internal/cache"
	"pacts/internal/model"
)

type fakeDurable struct {
	entries map[model.CacheKey]model.CacheEntry
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: make(map[model.CacheKey]model.CacheEntry)}
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
	return nil
}
func (f *fakeDurable) RecordHealOutcome(_ context.Context, urlPattern, elementName string, strategy model.Strategy, success bool) error {
	return nil
}
func (f *fakeDurable) HealLedgerFor(_ context.Context, urlPattern, elementName string) ([]model.HealLedgerEntry, error) {
	return nil, nil
}

func TestResolveReusesLastElementForConsecutiveIntents(t *testing.T) {
	b := NewBuilder(nil, cache.New(newFakeDurable()))
	b.lastElementName = "Submit"
	b.lastRecord = model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyAriaLabel}

	rec, _, err := b.Resolve(context.Background(), model.Intent{ElementName: "Submit", Action: model.ActionClick}, "https://example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Selector != "#submit" {
		t.Errorf("expected reuse of last selector, got %q", rec.Selector)
	}
}

func TestCommitHealedReplacesReusedRecord(t *testing.T) {
	b := NewBuilder(nil, cache.New(newFakeDurable()))
	b.lastElementName = "Submit"
	b.lastRecord = model.SelectorRecord{Selector: "#input-339", Strategy: model.StrategyIDClass}

	healed := model.SelectorRecord{Selector: "#input-373", Strategy: model.StrategyNameAttr, Stable: true}
	b.CommitHealed("Submit", healed)

	rec, _, err := b.Resolve(context.Background(), model.Intent{ElementName: "Submit", Action: model.ActionClick}, "https://example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Selector != "#input-373" {
		t.Errorf("resumed executor got %q, want the healed selector", rec.Selector)
	}
}

func TestRecordStepOutcomeInvalidatesCachedSelectorAfterTwoFailures(t *testing.T) {
	d := newFakeDurable()
	c := cache.New(d)
	b := NewBuilder(nil, c)
	ctx := context.Background()

	intent := model.Intent{ElementName: "Submit", Action: model.ActionClick}
	key := model.NewCacheKey("https://example.com/login", intent.ElementName, intent.Action)
	stable := model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(ctx, stable, key, "fp"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	cached := stable
	cached.FromCache = true

	b.RecordStepOutcome(ctx, intent, "https://example.com/login", cached, false)
	if _, ok, _ := c.Lookup(ctx, key); !ok {
		t.Fatal("one failure must not invalidate")
	}

	b.RecordStepOutcome(ctx, intent, "https://example.com/login", cached, false)
	if _, ok, _ := c.Lookup(ctx, key); ok {
		t.Fatal("second consecutive failure must invalidate the cached selector")
	}
}

func TestRecordStepOutcomeIgnoresFreshlyDiscoveredSelectors(t *testing.T) {
	d := newFakeDurable()
	c := cache.New(d)
	b := NewBuilder(nil, c)
	ctx := context.Background()

	intent := model.Intent{ElementName: "Submit", Action: model.ActionClick}
	key := model.NewCacheKey("https://example.com/login", intent.ElementName, intent.Action)
	stable := model.SelectorRecord{Selector: "#submit", Strategy: model.StrategyAriaLabel, Stable: true, Score: 0.98}
	if err := c.Admit(ctx, stable, key, "fp"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	fresh := stable // FromCache stays false
	b.RecordStepOutcome(ctx, intent, "https://example.com/login", fresh, false)
	b.RecordStepOutcome(ctx, intent, "https://example.com/login", fresh, false)
	if _, ok, _ := c.Lookup(ctx, key); !ok {
		t.Fatal("failures on a non-cached selector must not touch the cache entry")
	}
}

func TestResolveScopeFallsBackToPropagatingScope(t *testing.T) {
	b := NewBuilder(nil, cache.New(newFakeDurable()))
	b.scope.Reset("[role=\"dialog\"]", 2)

	scope := b.resolveScope(context.Background(), model.Intent{ElementName: "Confirm", Action: model.ActionClick})
	if scope != `[role="dialog"]` {
		t.Errorf("scope = %q, want propagating dialog scope", scope)
	}
	if b.scope.Remaining != 1 {
		t.Errorf("remaining = %d, want 1 after one Apply", b.scope.Remaining)
	}
	if b.Scope() != `[role="dialog"]` {
		t.Errorf("Scope() = %q, want the step's resolved container selector", b.Scope())
	}
}
