// Package profile classifies a page as STATIC or DYNAMIC and hands out the
// timeout budgets the readiness gate and executor use (spec.md §4.6).
package profile

import (
	"regexp"
	"strings"
	"time"
)

// Profile is the runtime classification of a page.
type Profile string

const (
	Static  Profile = "STATIC"
	Dynamic Profile = "DYNAMIC"
)

// Budget holds the timeout/delay knobs a Profile selects.
type Budget struct {
	Profile           Profile
	DOMIdleTimeout    time.Duration
	SettleDelay       time.Duration
	DriftThreshold    float64 // fraction, Hamming distance over fingerprint width
	NavigationBudget  time.Duration
	ActionabilityPoll time.Duration
}

// staticBudget and dynamicBudget are spec.md §4.6 / §4.8 defaults.
var staticBudget = Budget{
	Profile:           Static,
	DOMIdleTimeout:    2 * time.Second,
	SettleDelay:       0,
	DriftThreshold:    0.35,
	NavigationBudget:  8 * time.Second,
	ActionabilityPoll: 150 * time.Millisecond,
}

var dynamicBudget = Budget{
	Profile:           Dynamic,
	DOMIdleTimeout:    5 * time.Second,
	SettleDelay:       1500 * time.Millisecond,
	DriftThreshold:    0.725, // midpoint of the 70-75% range spec.md gives
	NavigationBudget:  15 * time.Second,
	ActionabilityPoll: 150 * time.Millisecond,
}

// BudgetFor returns the timeout budget for a Profile.
func BudgetFor(p Profile) Budget {
	if p == Dynamic {
		return dynamicBudget
	}
	return staticBudget
}

// spaSignals are hostname/path fragments or markup fingerprints commonly
// associated with single-page-app frameworks.
var spaSignals = []string{
	"react", "angular", "vue", "__next", "ng-version", "data-reactroot",
	"data-server-rendered", "lightning", "force-app",
}

var spaSignalPattern = regexp.MustCompile(strings.Join(spaSignals, "|"))

// DetectionInput is the evidence available to the profile detector.
type DetectionInput struct {
	URL      string
	HTML     string
	HTMLSize int
	Override Profile // explicit override, if the caller already knows
}

// Detect classifies a page as STATIC or DYNAMIC (spec.md §4.6).
//
// Heuristic: an explicit override always wins; otherwise an SPA signal in
// the markup, or a markup size above a threshold commonly associated with
// client-rendered shells with large embedded script bundles, classifies the
// page DYNAMIC. Everything else defaults to STATIC.
func Detect(in DetectionInput) Profile {
	if in.Override != "" {
		return in.Override
	}

	size := in.HTMLSize
	if size == 0 {
		size = len(in.HTML)
	}

	lower := strings.ToLower(in.HTML)
	if spaSignalPattern.MatchString(lower) {
		return Dynamic
	}
	if size > 250_000 {
		return Dynamic
	}
	return Static
}
