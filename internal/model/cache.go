package model

import (
	"net/url"
	"strings"
	"time"
)

// CacheKey identifies a cache/ledger entry (spec.md §3).
type CacheKey struct {
	URLPattern       string `json:"url_pattern"`
	ElementNameLower string `json:"element_name_lower"`
	Action           Action `json:"action"`
}

// NormalizeURLPattern strips query and fragment, keeping host + path prefix
// (spec.md §3 CacheKey definition).
func NormalizeURLPattern(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.Host + u.Path
}

// NewCacheKey builds a CacheKey from a page URL and intent.
func NewCacheKey(pageURL string, elementName string, action Action) CacheKey {
	return CacheKey{
		URLPattern:       NormalizeURLPattern(pageURL),
		ElementNameLower: strings.ToLower(elementName),
		Action:           action,
	}
}

// CacheEntry is the durable, authoritative cache record (spec.md §3, §4.7).
type CacheEntry struct {
	Key             CacheKey  `json:"key"`
	Selector        string    `json:"selector"`
	Strategy        Strategy  `json:"strategy"`
	Stable          bool      `json:"stable"`
	Score           float64   `json:"score"`
	CreatedAt       time.Time `json:"created_at"`
	LastOKAt        time.Time `json:"last_ok_at"`
	HitCount        int64     `json:"hit_count"`
	MissCount       int64     `json:"miss_count"`
	DOMHashSnapshot string    `json:"dom_hash_snapshot"`
	Epoch           int       `json:"epoch"`
}

// HealLedgerEntry tracks strategy outcomes per (url_pattern, element_name,
// strategy), consulted to rank healing retries (spec.md §3, §4.9).
type HealLedgerEntry struct {
	URLPattern       string    `json:"url_pattern"`
	ElementNameLower string    `json:"element_name_lower"`
	Strategy         Strategy  `json:"strategy"`
	SuccessCount     int64     `json:"success_count"`
	FailureCount     int64     `json:"failure_count"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// Score ranks a ledger entry for retry ordering: success rate with
// Laplace smoothing, times a recency boost (spec.md §4.5 step 2, §4.9).
func (e HealLedgerEntry) Score(now time.Time) float64 {
	rate := float64(e.SuccessCount) / float64(e.SuccessCount+e.FailureCount+1)
	age := now.Sub(e.LastUsedAt)
	recencyBoost := 1.0
	if age > 0 {
		days := age.Hours() / 24
		recencyBoost = 1.0 / (1.0 + days/30.0)
	}
	return rate * recencyBoost
}
