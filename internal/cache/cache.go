// Package cache implements the dual-tier selector cache (spec.md §4.7):
// an in-memory fast tier with a short TTL backed by the durable sqlite
// tier in internal/store, plus DOM-fingerprint drift detection (§4.8) and
// the append-only HealHistory learner (§4.9).
//
// Grounded in the teacher's internal/world/cache.go FileCache: an
// RWMutex-guarded in-memory map with a load/persist boundary to a backing
// store, generalized here to two live tiers instead of one tier plus a
// JSON file.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/profile"
)

const fastTierTTL = time.Hour

type fastEntry struct {
	entry   model.CacheEntry
	expires time.Time
}

// Durable is the slice of *store.Store the cache tier needs.
type Durable interface {
	GetSelectorCache(ctx context.Context, key model.CacheKey) (model.CacheEntry, bool, error)
	UpsertSelectorCache(ctx context.Context, e model.CacheEntry) error
	InvalidateSelectorCache(ctx context.Context, key model.CacheKey) error
	RecordHealOutcome(ctx context.Context, urlPattern, elementName string, strategy model.Strategy, success bool) error
	HealLedgerFor(ctx context.Context, urlPattern, elementName string) ([]model.HealLedgerEntry, error)
}

// Cache is the dual-tier selector cache described in spec.md §4.7.
type Cache struct {
	mu   sync.RWMutex
	fast map[model.CacheKey]fastEntry

	durable Durable

	// failStreak tracks consecutive executor failures per key so two in a
	// row triggers invalidation (spec.md §4.7 invalidation rule).
	failStreak map[model.CacheKey]int
}

// New builds a Cache over the given durable tier (typically a *store.Store).
func New(durable Durable) *Cache {
	return &Cache{
		fast:       make(map[model.CacheKey]fastEntry),
		durable:    durable,
		failStreak: make(map[model.CacheKey]int),
	}
}

// Lookup implements the read path (spec.md §4.7): fast tier first, then
// durable, warming the fast tier on a durable hit. Returns ok=false on a
// full miss — the caller falls through to the discovery tier walk.
func (c *Cache) Lookup(ctx context.Context, key model.CacheKey) (model.CacheEntry, bool, error) {
	c.mu.RLock()
	fe, ok := c.fast[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(fe.expires) {
		logging.CacheDebug("fast-tier hit for %s/%s", key.URLPattern, key.ElementNameLower)
		return fe.entry, true, nil
	}

	entry, found, err := c.durable.GetSelectorCache(ctx, key)
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	if !found {
		logging.CacheDebug("full miss for %s/%s", key.URLPattern, key.ElementNameLower)
		return model.CacheEntry{}, false, nil
	}

	c.warm(key, entry)
	logging.CacheDebug("durable-tier hit for %s/%s, fast tier warmed", key.URLPattern, key.ElementNameLower)
	return entry, true, nil
}

func (c *Cache) warm(key model.CacheKey, entry model.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fast[key] = fastEntry{entry: entry, expires: time.Now().Add(fastTierTTL)}
}

// Admit implements the write path (spec.md §4.7): only stable=true records
// are admitted, and the write lands in both tiers.
//
// Admission is also score-gated (spec.md §5): a stable=true entry does not
// overwrite an existing stable=true entry under a different strategy unless
// the incoming record's score is strictly greater. A same-strategy refresh
// (e.g. revalidating an unchanged selector) is always allowed through.
func (c *Cache) Admit(ctx context.Context, rec model.SelectorRecord, key model.CacheKey, domHash string) error {
	if !rec.Cacheable() {
		logging.CacheDebug("refusing to cache non-cacheable record for %s (strategy=%s)", key.ElementNameLower, rec.Strategy)
		return nil
	}

	existing, found, err := c.durable.GetSelectorCache(ctx, key)
	if err != nil {
		return err
	}
	if found && existing.Stable && existing.Strategy != rec.Strategy && rec.Score <= existing.Score {
		logging.CacheDebug("refusing to overwrite %s: existing strategy=%s score=%.2f outranks incoming strategy=%s score=%.2f",
			key.ElementNameLower, existing.Strategy, existing.Score, rec.Strategy, rec.Score)
		return nil
	}

	now := time.Now()
	entry := model.CacheEntry{
		Key:             key,
		Selector:        rec.Selector,
		Strategy:        rec.Strategy,
		Stable:          true,
		Score:           rec.Score,
		CreatedAt:       now,
		LastOKAt:        now,
		DOMHashSnapshot: domHash,
	}

	if err := c.durable.UpsertSelectorCache(ctx, entry); err != nil {
		return err
	}
	c.warm(key, entry)
	c.mu.Lock()
	delete(c.failStreak, key)
	c.mu.Unlock()
	logging.Cache("admitted %s -> %s (strategy=%s)", key.ElementNameLower, entry.Selector, entry.Strategy)
	return nil
}

// RecordFailure tracks a cache-sourced selector's executor outcome.
// Invalidates on the second consecutive failure (spec.md §4.7).
func (c *Cache) RecordFailure(ctx context.Context, key model.CacheKey) error {
	c.mu.Lock()
	c.failStreak[key]++
	streak := c.failStreak[key]
	c.mu.Unlock()

	if streak >= 2 {
		logging.CacheWarn("invalidating %s after %d consecutive failures", key.ElementNameLower, streak)
		return c.Invalidate(ctx, key)
	}
	return nil
}

// RecordSuccess resets a key's failure streak.
func (c *Cache) RecordSuccess(key model.CacheKey) {
	c.mu.Lock()
	delete(c.failStreak, key)
	c.mu.Unlock()
}

// Invalidate removes a key from both tiers (spec.md §4.7).
func (c *Cache) Invalidate(ctx context.Context, key model.CacheKey) error {
	c.mu.Lock()
	delete(c.fast, key)
	delete(c.failStreak, key)
	c.mu.Unlock()
	return c.durable.InvalidateSelectorCache(ctx, key)
}

// CheckDrift implements spec.md §4.8: compares the candidate's current DOM
// fingerprint against the cached snapshot and reports whether the distance
// exceeds the profile's threshold. A drifted entry is invalidated by the
// caller (discovery falls through to the tier walk regardless).
func (c *Cache) CheckDrift(entry model.CacheEntry, currentHash string, budget profile.Budget) bool {
	if entry.DOMHashSnapshot == "" || currentHash == "" {
		return false
	}
	dist := HammingDistance(entry.DOMHashSnapshot, currentHash)
	frac := float64(dist) / float64(simhashBits)
	drifted := frac > budget.DriftThreshold
	if drifted {
		logging.CacheDebug("drift detected for %s: hamming_frac=%.2f threshold=%.2f", entry.Key.ElementNameLower, frac, budget.DriftThreshold)
	}
	return drifted
}

// RecordHealOutcome and BestStrategies expose the HealHistory learner
// (spec.md §4.9) over the durable tier.
func (c *Cache) RecordHealOutcome(ctx context.Context, urlPattern, elementName string, strategy model.Strategy, success bool) error {
	return c.durable.RecordHealOutcome(ctx, urlPattern, elementName, strategy, success)
}

// BestStrategies returns every ledger entry for (urlPattern, elementName),
// ranked best-first by model.HealLedgerEntry.Score.
func (c *Cache) BestStrategies(ctx context.Context, urlPattern, elementName string) ([]model.HealLedgerEntry, error) {
	entries, err := c.durable.HealLedgerFor(ctx, urlPattern, elementName)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Score(now) > entries[j].Score(now)
	})
	return entries, nil
}

// normalizeFingerprintTokens lowercases and trims a fingerprint token set so
// whitespace-only markup differences don't register as drift.
func normalizeFingerprintTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
