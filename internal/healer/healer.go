// Package healer implements OracleHealer (spec.md §4.5): given an executor
// failure, it runs up to RunState.MaxHealRounds cycles of reveal → reprobe
// → stabilize before yielding control back to VerdictRCA.
//
// Grounded in the teacher's internal/browser/honeypot.go recovery pass,
// which scrolls a stale locator's last-known viewport into view, dismisses
// overlays, and re-probes — generalized here from a single fixed recovery
// routine into a ranked, HealLedger-guided cycle.
package healer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"pacts/internal/cache"
	"pacts/internal/discovery"
	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/pom"
	"pacts/internal/profile"
	"pacts/internal/readiness"
)

// revealBudget bounds the overlay-dismiss/settle wait in the reveal step —
// deliberately short since it runs once per heal cycle, not once per step.
const revealBudget = 1500 * time.Millisecond

// Driver is the slice of *browser.Driver the healer needs: a superset of
// discovery.Querier, readiness.Driver/GateQuerier/Evaler, and pom.Driver,
// so one concrete driver satisfies every collaborator package.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	HTML(ctx context.Context) (string, error)
	WaitIdle(ctx context.Context, budget time.Duration)
	EvalJSON(ctx context.Context, js string, out any, args ...any) error
	Eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error)
	Element(ctx context.Context, selector string) (*rod.Element, error)
	Elements(ctx context.Context, selector string) (rod.Elements, error)
	ElementByJS(ctx context.Context, js string, args ...any) (*rod.Element, error)
	PressKey(ctx context.Context, key input.Key) error
}

// closeButtonJS clicks the first visible, recognized close control inside an
// open dialog, if any — part of the reveal step's overlay dismissal
// (spec.md §4.5 step 1, §4.6b).
const closeButtonJS = `() => {
	const dialogs = Array.from(document.querySelectorAll('[role="dialog"], [role="alertdialog"], dialog[open]'));
	for (const d of dialogs) {
		const btn = d.querySelector(
			'[aria-label="Close" i], [aria-label="Dismiss" i], .close, .modal-close, button[data-dismiss]'
		);
		if (btn) { btn.click(); return true; }
	}
	return false;
}`

// Healer runs the OracleHealer cycle over a Driver and the shared Cache
// (for the HealLedger ranking and outcome recording, spec.md §4.9).
type Healer struct {
	d     Driver
	cache *cache.Cache
}

// New builds a Healer over a connected driver and the shared cache.
func New(d Driver, c *cache.Cache) *Healer {
	return &Healer{d: d, cache: c}
}

// Heal runs exactly one reveal → reprobe → stabilize cycle for the step at
// rs.StepIdx, incrementing rs.HealRound and appending a HealEvent
// regardless of outcome. The orchestrator's conditional router (spec.md
// §2, §9) is expected to call Heal repeatedly while
// rs.Failure != model.FailureNone && rs.HealRound < rs.MaxHealRounds —
// this method never loops internally, which is what keeps the infinite-loop
// guard (spec.md §4.5) trivially satisfied: heal_round always increments
// exactly once per call.
func (h *Healer) Heal(ctx context.Context, rs *model.RunState, builder *pom.Builder, pageURL string, budget profile.Budget) error {
	intent, ok := rs.CurrentIntent()
	if !ok {
		return fmt.Errorf("heal: step_idx %d out of range for plan of length %d", rs.StepIdx, len(rs.Plan))
	}
	if rs.MaxHealRounds <= 0 {
		logging.HealWarn("max_heal_rounds is %d, nothing to do for %q", rs.MaxHealRounds, intent.ElementName)
		return nil
	}

	var before string
	if rs.StepIdx < len(rs.Discovered) {
		before = rs.Discovered[rs.StepIdx].Selector
	}

	h.reveal(ctx, before)

	// The builder holds the step's resolved scope container selector; the
	// raw scope_hint is a name, not something querySelector can evaluate.
	scope := builder.Scope()
	rec, strategy, err := h.reprobe(ctx, rs, intent, scope, pageURL)
	if err != nil {
		h.recordOutcome(ctx, pageURL, intent.ElementName, strategy, false)
		rs.HealEvents = append(rs.HealEvents, model.HealEvent{
			Round:          rs.HealRound,
			SelectorBefore: before,
			Success:        false,
			Reason:         err.Error(),
		})
		rs.HealRound++
		logging.Heal("round %d reprobe failed for %q: %v", rs.HealRound, intent.ElementName, err)
		return nil
	}

	doubled := doubleTimeouts(budget)
	stabilized, stabErr := h.stabilize(ctx, rec.Selector, scope, doubled)
	if stabErr != nil || !stabilized {
		rs.MarkHealTried(strategy)
		h.recordOutcome(ctx, pageURL, intent.ElementName, strategy, false)
		reason := "actionability gate did not stabilize"
		if stabErr != nil {
			reason = stabErr.Error()
		}
		rs.HealEvents = append(rs.HealEvents, model.HealEvent{
			Round:          rs.HealRound,
			SelectorBefore: before,
			SelectorAfter:  rec.Selector,
			Strategy:       strategy,
			Success:        false,
			Reason:         reason,
		})
		rs.HealRound++
		logging.Heal("round %d stabilize failed for %q via %s: %s", rs.HealRound, intent.ElementName, strategy, reason)
		return nil
	}

	// An ordinal intent is never cached, even when the reprobe fell through
	// the positional tier into a stable waterfall match.
	if !intent.IsOrdinal() && rec.Cacheable() {
		key := model.NewCacheKey(pageURL, intent.ElementName, intent.Action)
		hash := pom.Fingerprint(ctx, h.d, rec.Selector)
		if err := h.cache.Admit(ctx, rec, key, hash); err != nil {
			logging.CacheWarn("heal: admit failed for %q: %v", intent.ElementName, err)
		}
	}

	h.recordOutcome(ctx, pageURL, intent.ElementName, strategy, true)
	rs.SetDiscovered(rs.StepIdx, rec)
	builder.CommitHealed(intent.ElementName, rec)
	rs.HealEvents = append(rs.HealEvents, model.HealEvent{
		Round:          rs.HealRound,
		SelectorBefore: before,
		SelectorAfter:  rec.Selector,
		Strategy:       strategy,
		Success:        true,
	})
	rs.HealRound++
	rs.Failure = model.FailureNone
	rs.SameSelectorRetries = 0
	logging.Heal("round %d healed %q -> %s via %s", rs.HealRound, intent.ElementName, rec.Selector, strategy)
	return nil
}

// reveal implements spec.md §4.5 step 1: scroll the last-known locator into
// view if it still resolves, dismiss overlays, then wait briefly for
// network idle. Best-effort throughout — a reveal that finds nothing to do
// is not an error.
func (h *Healer) reveal(ctx context.Context, lastSelector string) {
	if lastSelector != "" {
		if el, err := h.d.Element(ctx, lastSelector); err == nil && el != nil {
			_ = el.ScrollIntoView()
		}
	}

	if err := h.d.PressKey(ctx, input.Escape); err != nil {
		logging.HealDebug("reveal: escape key failed: %v", err)
	}

	var clicked bool
	if err := h.d.EvalJSON(ctx, closeButtonJS, &clicked); err != nil {
		logging.HealDebug("reveal: close-button probe failed: %v", err)
	} else if clicked {
		logging.HealDebug("reveal: clicked a recognized dialog close button")
	}

	h.d.WaitIdle(ctx, revealBudget)
}

// reprobe implements spec.md §4.5 step 2: rank strategies by HealLedger
// score for (url_pattern, element_name), walk the waterfall in that order
// (skipping strategies already tried unsuccessfully this run), and return
// the first match plus the strategy that produced it.
func (h *Healer) reprobe(ctx context.Context, rs *model.RunState, intent model.Intent, scope, pageURL string) (model.SelectorRecord, model.Strategy, error) {
	urlPattern := model.NormalizeURLPattern(pageURL)
	ledger, err := h.cache.BestStrategies(ctx, urlPattern, intent.ElementName)
	if err != nil {
		logging.HealWarn("reprobe: heal-ledger lookup failed for %q: %v", intent.ElementName, err)
	}
	preferred := make([]model.Strategy, 0, len(ledger))
	for _, e := range ledger {
		preferred = append(preferred, e.Strategy)
	}

	skip := rs.HealTriedSkipSet()
	rec, err := discovery.DiscoverRanked(ctx, h.d, intent, scope, preferred, skip)
	if err != nil {
		return model.SelectorRecord{}, "", err
	}
	return *rec, rec.Strategy, nil
}

// stabilize implements spec.md §4.5 step 3: re-run readiness+actionability
// with a doubled timeout budget.
func (h *Healer) stabilize(ctx context.Context, selector, scope string, budget profile.Budget) (bool, error) {
	el, err := readiness.Gate(ctx, h.d, selector, budget)
	if err != nil {
		return false, nil
	}
	failure, err := readiness.CheckActionability(ctx, h.d, el, selector, scope, budget)
	if err != nil {
		return false, err
	}
	return failure == model.FailureNone, nil
}

// recordOutcome feeds spec.md §4.9's append-only HealHistory learner.
func (h *Healer) recordOutcome(ctx context.Context, pageURL, elementName string, strategy model.Strategy, success bool) {
	if strategy == "" {
		return
	}
	urlPattern := model.NormalizeURLPattern(pageURL)
	if err := h.cache.RecordHealOutcome(ctx, urlPattern, elementName, strategy, success); err != nil {
		logging.HealWarn("record_outcome failed for %q/%s: %v", elementName, strategy, err)
	}
}

// doubleTimeouts returns budget with every timeout/poll knob doubled,
// except DriftThreshold which is a fraction, not a duration (spec.md §4.5
// step 3 "doubled timeouts").
func doubleTimeouts(budget profile.Budget) profile.Budget {
	doubled := budget
	doubled.DOMIdleTimeout *= 2
	doubled.SettleDelay *= 2
	doubled.NavigationBudget *= 2
	doubled.ActionabilityPoll *= 2
	return doubled
}
