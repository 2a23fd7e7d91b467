// Package verdict implements VerdictRCA (spec.md §4.10): it classifies a
// finished RunState into a verdict and a root-cause class, using rule-based
// precedence over the run's append-only event logs.
//
// Grounded in the teacher's internal/analysis/classifier.go rule-ordered
// taxonomy lookup: a fixed, ordered list of predicate → label pairs,
// generalized here from the teacher's test-failure categories to PACTS's
// RCA taxonomy.
package verdict

import (
	"strings"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// Classify implements spec.md §4.10's contract: input RunState, output
// verdict and rca set directly on rs. Never raises.
func Classify(rs *model.RunState) {
	rs.Verdict = classifyVerdict(rs)
	rs.RCA = classifyRCA(rs)
	logging.Verdict("req %s classified verdict=%s rca=%s confidence=%.2f", rs.ReqID, rs.Verdict, rs.RCA.Class, rs.RCA.Confidence)
}

// classifyVerdict implements the verdict rules in priority order: error
// (invariant violation) first, then blocked (external interrupt), then the
// executed-length comparison that distinguishes pass/healed/fail.
func classifyVerdict(rs *model.RunState) model.Verdict {
	if len(rs.Plan) == 0 {
		return model.VerdictError
	}

	if isBlocked(rs) {
		return model.VerdictBlocked
	}

	if len(rs.ExecutedSteps) < len(rs.Plan) {
		return model.VerdictFail
	}

	if rs.AnyHealSucceeded() {
		return model.VerdictHealed
	}
	return model.VerdictPass
}

// captchaKeywords are the anti-bot/CAPTCHA patterns the dialog sentinel may
// have surfaced (spec.md §4.10 "external... recognized by sentinel
// patterns").
var captchaKeywords = []string{"captcha", "are you a robot", "verify you are human", "cloudflare"}

// isBlocked reports whether any sentinel event looks like an external
// anti-bot interrupt rather than an ordinary validation dialog.
func isBlocked(rs *model.RunState) bool {
	for _, ev := range rs.SentinelEvents {
		lower := strings.ToLower(ev.Title)
		for _, kw := range captchaKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// rcaRule is one ordered predicate → classification pair. Rules are
// evaluated in order; the first match wins (spec.md §4.10 "rule-based").
type rcaRule struct {
	class      model.RCAClass
	confidence float64
	match      func(rs *model.RunState) bool
}

var rcaRules = []rcaRule{
	{model.RCASelectorDrift, 0.9, func(rs *model.RunState) bool { return len(rs.DriftEvents) > 0 }},
	{model.RCAUIBlocked, 0.85, func(rs *model.RunState) bool { return len(rs.SentinelEvents) > 0 }},
	{model.RCAAssertionMismatch, 0.85, hasAssertionFailure},
	{model.RCADataIssue, 0.75, hasUnresolvedToken},
	{model.RCADiscoveryExhausted, 0.8, func(rs *model.RunState) bool {
		return rs.HealRound >= rs.MaxHealRounds && rs.MaxHealRounds > 0 && !rs.AnyHealSucceeded() && rs.Failure == model.FailureDiscoveryMissing
	}},
	{model.RCATimingInstability, 0.7, hasRepeatedTimingFailureWithNoSelectorChange},
}

// classifyRCA walks rcaRules in order and returns the first match, or
// RCAUnknown with low confidence if the run passed cleanly or none fired.
func classifyRCA(rs *model.RunState) model.RCA {
	if rs.Verdict == model.VerdictPass {
		return model.RCA{Class: model.RCANone}
	}
	for _, rule := range rcaRules {
		if rule.match(rs) {
			return model.RCA{Class: rule.class, Confidence: rule.confidence}
		}
	}
	return model.RCA{Class: model.RCAUnknown, Confidence: 0.3}
}

// hasAssertionFailure reports whether the step the run stopped on failed
// its own outcome assertion rather than failing to locate/act on anything.
func hasAssertionFailure(rs *model.RunState) bool {
	return rs.Failure == model.FailureAssertionFail
}

// hasUnresolvedToken reports whether any plan intent still carries a
// literal `{{token}}` — the Planner leaves missing substitutions as literal
// text rather than erroring (spec.md §4.1), so a run that reaches Executor
// with one unresolved is a data problem, not a discovery or timing one.
func hasUnresolvedToken(rs *model.RunState) bool {
	for _, in := range rs.Plan {
		if strings.Contains(in.ElementName, "{{") || strings.Contains(in.Value, "{{") {
			return true
		}
	}
	return false
}

// timingFailures are the Failure reasons that indicate the element was
// found but not yet actionable, as opposed to not found at all.
var timingFailures = map[model.Failure]bool{
	model.FailureTimeout:    true,
	model.FailureUnstable:   true,
	model.FailureNotVisible: true,
}

// hasRepeatedTimingFailureWithNoSelectorChange reports whether the run
// accumulated failed heal rounds whose selector never changed — the
// "repeated unstable/timeout with no selector changes" rule (spec.md
// §4.10).
func hasRepeatedTimingFailureWithNoSelectorChange(rs *model.RunState) bool {
	if !timingFailures[rs.Failure] {
		return false
	}
	failedNoChange := 0
	for _, ev := range rs.HealEvents {
		if !ev.Success && (ev.SelectorAfter == "" || ev.SelectorAfter == ev.SelectorBefore) {
			failedNoChange++
		}
	}
	return failedNoChange >= 2
}
