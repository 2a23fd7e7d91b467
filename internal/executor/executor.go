// Package executor walks the plan one step at a time (spec.md §4.3): gate
// the discovered selector for readiness, dispatch to the right interaction
// pattern (internal/executor/patterns.go), verify the outcome token
// (internal/executor/verify.go), and record the result. A step that fails
// sets RunState.Failure and returns control to the caller — the
// orchestrator routes that to OracleHealer.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/pom"
	"pacts/internal/profile"
	"pacts/internal/readiness"
)

// maxSameSelectorRetries bounds transient, non-heal-consuming retries
// within a single step (spec.md §4.3 "bounded retries within a step").
const maxSameSelectorRetries = 2

// Driver is the slice of *browser.Driver the executor needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Element(ctx context.Context, selector string) (*rod.Element, error)
	Elements(ctx context.Context, selector string) (rod.Elements, error)
	Eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error)
	EvalJSON(ctx context.Context, js string, out any, args ...any) error
	WaitIdle(ctx context.Context, budget time.Duration)
	PressKey(ctx context.Context, key input.Key) error
	CurrentURL() string
	PageURL(ctx context.Context) (string, error)
}

// failurePrecedence orders diagnostics for step 6 of spec.md §4.3: the
// first of these present is the one reported.
var failurePrecedence = []model.Failure{
	model.FailureNotUnique,
	model.FailureNotVisible,
	model.FailureDisabled,
	model.FailureUnstable,
	model.FailureNotScoped,
	model.FailureTimeout,
}

func firstOf(candidates ...model.Failure) model.Failure {
	set := make(map[model.Failure]bool, len(candidates))
	for _, c := range candidates {
		if c != model.FailureNone {
			set[c] = true
		}
	}
	for _, f := range failurePrecedence {
		if set[f] {
			return f
		}
	}
	return model.FailureNone
}

// RunStep executes plan[rs.StepIdx] against the page at pageURL, using
// builder to resolve the SelectorRecord and scope to scope the
// actionability gate. On success it appends to ExecutedSteps, advances
// StepIdx, and clears Failure/HealRound. On failure it sets rs.Failure and
// leaves StepIdx unchanged for the caller (OracleHealer) to act on.
func RunStep(ctx context.Context, d Driver, rs *model.RunState, builder *pom.Builder, pageURL string, budget profile.Budget) error {
	intent, ok := rs.CurrentIntent()
	if !ok {
		return fmt.Errorf("step_idx %d out of range for plan of length %d", rs.StepIdx, len(rs.Plan))
	}

	if checkDialogSentinel(ctx, d, rs, builder.Scope()) {
		rs.Failure = model.FailureTimeout
		return nil
	}

	// A wait step with no element name is a pure assertion step — the
	// synthetic page_contains_text companion the Planner appends after a
	// navigates_to outcome. There is nothing to discover or gate.
	if intent.Action == model.ActionWait && intent.ElementName == "" {
		return runAssertionStep(ctx, d, rs, intent, budget)
	}

	rec, drifted, err := builder.Resolve(ctx, intent, pageURL)
	if err != nil {
		rs.Failure = model.FailureDiscoveryMissing
		logging.ExecWarn("discovery failed for %q: %v", intent.ElementName, err)
		return nil
	}
	if drifted {
		rs.RecordDrift(intent.ElementName)
	}
	rs.SetDiscovered(rs.StepIdx, rec)

	// Scope the gate to the builder-resolved container selector, never to
	// the human-readable hint itself.
	scope := builder.Scope()

	start := time.Now()
	el, failure, err := gateAndRetry(ctx, d, rs, rec.Selector, scope, budget)
	if err != nil {
		return err
	}
	if failure != model.FailureNone {
		rs.Failure = failure
		builder.RecordStepOutcome(ctx, intent, pageURL, rec, false)
		return nil
	}

	strategyUsed, actErr := dispatch(ctx, d, el, intent, rec)
	if actErr != nil {
		logging.ExecWarn("action %s on %q failed: %v", intent.Action, intent.ElementName, actErr)
		rs.Failure = model.FailureTimeout
		builder.RecordStepOutcome(ctx, intent, pageURL, rec, false)
		return nil
	}

	if checkDialogSentinel(ctx, d, rs, scope) {
		rs.Failure = model.FailureTimeout
		return nil
	}

	ok, verr := verifyOutcome(ctx, d, el, intent, budget)
	if verr != nil {
		logging.ExecWarn("outcome verification errored for %q: %v", intent.ElementName, verr)
	}
	if !ok {
		rs.Failure = model.FailureAssertionFail
		builder.RecordStepOutcome(ctx, intent, pageURL, rec, false)
		return nil
	}
	builder.RecordStepOutcome(ctx, intent, pageURL, rec, true)

	elapsed := time.Since(start).Milliseconds()
	rs.ExecutedSteps = append(rs.ExecutedSteps, model.ExecutedStep{
		Intent:   redactedIntent(intent),
		Selector: rec,
		Strategy: model.Strategy(strategyUsed),
		Ms:       elapsed,
		Outcome:  "ok",
	})
	rs.StepIdx++
	rs.HealRound = 0
	rs.Failure = model.FailureNone
	rs.SameSelectorRetries = 0
	rs.ResetHealTriedStrategies()
	logging.Exec("step %d (%s %q) ok in %dms via %s", rs.StepIdx-1, intent.Action, intent.ElementName, elapsed, strategyUsed)
	return nil
}

// runAssertionStep executes an element-less wait step: verify the outcome
// token against the page as a whole and record the result. Failure here is
// an assertion mismatch, not a discovery problem.
func runAssertionStep(ctx context.Context, d Driver, rs *model.RunState, intent model.Intent, budget profile.Budget) error {
	start := time.Now()
	ok, verr := verifyOutcome(ctx, d, nil, intent, budget)
	if verr != nil {
		logging.ExecWarn("assertion step verification errored: %v", verr)
	}
	if !ok {
		rs.Failure = model.FailureAssertionFail
		return nil
	}

	elapsed := time.Since(start).Milliseconds()
	rs.ExecutedSteps = append(rs.ExecutedSteps, model.ExecutedStep{
		Intent:  redactedIntent(intent),
		Ms:      elapsed,
		Outcome: "ok",
	})
	rs.StepIdx++
	rs.HealRound = 0
	rs.Failure = model.FailureNone
	rs.SameSelectorRetries = 0
	rs.ResetHealTriedStrategies()
	logging.Exec("step %d (assert %q) ok in %dms", rs.StepIdx-1, intent.Outcome, elapsed)
	return nil
}

// sentinelErrorKeywords are the validation-dialog error tokens spec.md
// §4.6b names as examples.
var sentinelErrorKeywords = []string{"required", "invalid", "duplicate", "must be"}

// matchesSentinelKeyword reports whether title contains one of
// sentinelErrorKeywords, and which one.
func matchesSentinelKeyword(title string) (string, bool) {
	lower := strings.ToLower(title)
	for _, kw := range sentinelErrorKeywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// checkDialogSentinel implements spec.md §4.6b: polls for an unexpected
// visible dialog and, if its text matches an error keyword, closes it and
// reports true so the caller marks the step a timeout for Healer to retry.
func checkDialogSentinel(ctx context.Context, d Driver, rs *model.RunState, scope string) bool {
	title, err := readiness.CheckDialogSentinel(ctx, d, scope)
	if err != nil || title == "" {
		return false
	}
	keyword, matched := matchesSentinelKeyword(title)
	if !matched {
		return false
	}
	rs.RecordSentinel(title, keyword)
	logging.ExecWarn("dialog sentinel fired (%q, keyword=%q), closing", title, keyword)
	if err := d.PressKey(ctx, input.Escape); err != nil {
		logging.ExecWarn("dialog sentinel: escape key failed: %v", err)
	}
	return true
}

// redactedIntent returns intent with its Value blanked if marked secret,
// so it never reaches the run_steps/artifact boundary unredacted
// (spec.md §5, §9; SPEC_FULL.md §12 secret redaction filter).
func redactedIntent(intent model.Intent) model.Intent {
	if intent.Secret {
		intent.Value = "***REDACTED***"
	}
	return intent
}

// gateAndRetry runs the readiness+actionability gate, retrying up to
// maxSameSelectorRetries times on a transient failure (timeout, unstable)
// without consuming heal-round budget (spec.md §4.3).
func gateAndRetry(ctx context.Context, d Driver, rs *model.RunState, selector, scope string, budget profile.Budget) (*rod.Element, model.Failure, error) {
	for {
		el, gateErr := readiness.Gate(ctx, d, selector, budget)
		if gateErr != nil {
			if rs.SameSelectorRetries < maxSameSelectorRetries {
				rs.SameSelectorRetries++
				continue
			}
			return nil, model.FailureTimeout, nil
		}

		failure, err := readiness.CheckActionability(ctx, d, el, selector, scope, budget)
		if err != nil {
			return nil, model.FailureNone, err
		}
		if failure == model.FailureNone {
			return el, model.FailureNone, nil
		}

		transient := failure == model.FailureTimeout || failure == model.FailureUnstable
		if transient && rs.SameSelectorRetries < maxSameSelectorRetries {
			rs.SameSelectorRetries++
			continue
		}
		return nil, firstOf(failure), nil
	}
}
