// Package discovery implements the eight-tier selector waterfall plus the
// ordinal tier (spec.md §4.2). Each tier asks the live DOM, through a small
// piece of injected JS, for the best-matching element for an Intent, then
// asks the DOM to hand back a durable CSS selector for whatever it found —
// the same "find it any way you like, then build a replayable locator"
// split the teacher's internal/browser/honeypot.go uses for its element
// inspection passes.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// tierProbeTimeout bounds how long a single tier's DOM query may block.
// rod's ElementByJS polls until its JS returns a truthy value or the
// context expires, so without a short per-tier deadline a miss on tier 1
// would stall for the whole page timeout before tier 2 even runs.
const tierProbeTimeout = 300 * time.Millisecond

// Querier is the narrow slice of *browser.Driver discovery needs, kept as an
// interface so tiers can be exercised against a fake DOM in unit tests
// without a real browser.
type Querier interface {
	ElementByJS(ctx context.Context, js string, args ...any) (*rod.Element, error)
	Elements(ctx context.Context, selector string) (rod.Elements, error)
}

// tierFunc is one waterfall step: given an intent and a scope (a CSS selector
// string the match must live under, or "" for document-wide), return a
// SelectorRecord or nil if this tier found nothing.
type tierFunc func(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error)

// tierEntry pairs a tier's strategy tag with its probe function.
type tierEntry struct {
	strategy model.Strategy
	fn       tierFunc
}

// waterfall lists the eight tiers in spec.md §4.2 order. The ordinal tier is
// intentionally absent here: it preempts the waterfall entirely.
var waterfall = []tierEntry{
	{model.StrategyAriaLabel, ariaLabelTier},
	{model.StrategyAriaPlaceholder, ariaPlaceholderTier},
	{model.StrategyNameAttr, nameAttrTier},
	{model.StrategyPlaceholder, placeholderTier},
	{model.StrategyLabelFor, labelForTier},
	{model.StrategyRoleAccName, roleAccessibleNameTier},
	{model.StrategyDataTestAttr, dataTestAttrTier},
	{model.StrategyIDClass, idClassTier},
}

// actionRoles maps an Action to the ARIA roles most likely to carry it out,
// used by the role+accessible-name tier (spec.md §4.2 tier 6).
var actionRoles = map[model.Action][]string{
	model.ActionClick:   {"button", "link", "menuitem", "tab", "checkbox", "radio"},
	model.ActionFill:    {"textbox", "searchbox", "combobox"},
	model.ActionType:    {"textbox", "searchbox", "combobox"},
	model.ActionSelect:  {"combobox", "listbox"},
	model.ActionCheck:   {"checkbox", "radio", "switch"},
	model.ActionUncheck: {"checkbox", "radio", "switch"},
	model.ActionHover:   {"button", "link", "menuitem"},
	model.ActionFocus:   {"textbox", "searchbox", "combobox", "button"},
	model.ActionPress:   {"textbox", "searchbox"},
}

// Discover runs the waterfall, preceded by the ordinal tier when the intent
// carries an Ordinal. An ordinal index beyond the available count is not
// fatal: the walk falls through to the lower tiers, and exhaustion of those
// surfaces as the error the caller maps to discovery_missing (spec.md §8
// boundary behaviors).
func Discover(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	if intent.IsOrdinal() {
		tctx, cancel := context.WithTimeout(ctx, tierProbeTimeout)
		rec, err := ordinalTier(tctx, q, intent, scope)
		cancel()
		switch {
		case err != nil:
			logging.DiscoveryDebug("ordinal tier errored for %q: %v", intent.ElementName, err)
		case rec != nil:
			logging.DiscoveryDebug("ordinal match for %q -> %s", intent.ElementName, rec.Selector)
			return rec, nil
		default:
			logging.DiscoveryDebug("no element at ordinal %d for %q, falling through to the waterfall", *intent.Ordinal, intent.ElementName)
		}
	}

	for _, tier := range waterfall {
		tctx, cancel := context.WithTimeout(ctx, tierProbeTimeout)
		rec, err := tier.fn(tctx, q, intent, scope)
		cancel()
		if err != nil {
			logging.DiscoveryDebug("tier %s errored for %q: %v", tier.strategy, intent.ElementName, err)
			continue
		}
		if rec == nil {
			continue
		}
		logging.DiscoveryDebug("tier %s matched %q -> %s (score=%.2f)", tier.strategy, intent.ElementName, rec.Selector, rec.Score)
		return rec, nil
	}

	return nil, fmt.Errorf("discovery: waterfall exhausted for %q", intent.ElementName)
}

// DiscoverRanked is OracleHealer's entry point into discovery (spec.md §4.5
// step 2 "reprobe"): it walks the waterfall in preferred order first — the
// HealLedger's best-strategy ranking for this (url_pattern, element_name) —
// then falls through to whatever tiers preferred didn't name, skipping any
// tier already tried unsuccessfully this run. An ordinal intent ignores
// ranking entirely: its positional tier runs first, and on a miss Discover's
// default waterfall order takes over.
func DiscoverRanked(ctx context.Context, q Querier, intent model.Intent, scope string, preferred []model.Strategy, skip map[model.Strategy]bool) (*model.SelectorRecord, error) {
	if intent.IsOrdinal() {
		return Discover(ctx, q, intent, scope)
	}

	byStrategy := make(map[model.Strategy]tierEntry, len(waterfall))
	for _, t := range waterfall {
		byStrategy[t.strategy] = t
	}

	seen := make(map[model.Strategy]bool, len(waterfall))
	order := make([]tierEntry, 0, len(waterfall))
	for _, s := range preferred {
		if skip[s] || seen[s] {
			continue
		}
		if t, ok := byStrategy[s]; ok {
			order = append(order, t)
			seen[s] = true
		}
	}
	for _, t := range waterfall {
		if skip[t.strategy] || seen[t.strategy] {
			continue
		}
		order = append(order, t)
		seen[t.strategy] = true
	}

	for _, tier := range order {
		tctx, cancel := context.WithTimeout(ctx, tierProbeTimeout)
		rec, err := tier.fn(tctx, q, intent, scope)
		cancel()
		if err != nil {
			logging.DiscoveryDebug("ranked tier %s errored for %q: %v", tier.strategy, intent.ElementName, err)
			continue
		}
		if rec == nil {
			continue
		}
		logging.DiscoveryDebug("ranked tier %s matched %q -> %s (score=%.2f)", tier.strategy, intent.ElementName, rec.Selector, rec.Score)
		return rec, nil
	}

	return nil, fmt.Errorf("discovery: ranked waterfall exhausted for %q", intent.ElementName)
}

// normalize lower-cases and collapses whitespace, the normalization both
// matchRank and the in-page JS comparators apply so "Sign In" and
// "sign   in" compare equal (spec.md §4.2 fuzzy matching rules).
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matchRank grades how well candidate matches target: exact normalized
// match (3), prefix either direction (2), substring either direction (1),
// no match (0). This is the Go mirror of matchRankJS (tiers.go), the first
// leg of the tie-break pickBestJS applies inside every ranked tier; keeping
// the rule here lets unit tests assert on it without a browser.
func matchRank(target, candidate string) int {
	t, c := normalize(target), normalize(candidate)
	if t == "" || c == "" {
		return 0
	}
	if c == t {
		return 3
	}
	if strings.HasPrefix(c, t) || strings.HasPrefix(t, c) {
		return 2
	}
	if strings.Contains(c, t) || strings.Contains(t, c) {
		return 1
	}
	return 0
}
