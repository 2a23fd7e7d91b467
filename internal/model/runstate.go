package model

import "time"

// Failure enumerates the step-level reasons an Executor yields control to
// the Healer (spec.md §3, §7).
type Failure string

const (
	FailureNone             Failure = ""
	FailureNotUnique        Failure = "not_unique"
	FailureNotVisible       Failure = "not_visible"
	FailureDisabled         Failure = "disabled"
	FailureUnstable         Failure = "unstable"
	FailureNotScoped        Failure = "not_scoped"
	FailureTimeout          Failure = "timeout"
	FailureDiscoveryMissing Failure = "discovery_missing"
	FailureAssertionFail    Failure = "assertion_fail"
)

// Verdict enumerates the run-level classification set by VerdictRCA
// (spec.md §3, §4.10).
type Verdict string

const (
	VerdictNone    Verdict = ""
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictHealed  Verdict = "healed"
	VerdictBlocked Verdict = "blocked"
	VerdictError   Verdict = "error"
)

// RCAClass enumerates the root-cause taxonomy (spec.md §4.10).
type RCAClass string

const (
	RCANone               RCAClass = ""
	RCASelectorDrift      RCAClass = "selector_drift"
	RCATimingInstability  RCAClass = "timing_instability"
	RCAAssertionMismatch  RCAClass = "assertion_mismatch"
	RCADataIssue          RCAClass = "data_issue"
	RCAEnvFault           RCAClass = "env_fault"
	RCADiscoveryExhausted RCAClass = "discovery_exhausted"
	RCAUIBlocked          RCAClass = "ui_blocked"
	RCAUnknown            RCAClass = "unknown"
)

// RCA is the root-cause classification attached to a finished run.
type RCA struct {
	Class      RCAClass `json:"class"`
	Confidence float64  `json:"confidence"`
	Notes      string   `json:"notes,omitempty"`
}

// ExecutedStep is one append-only entry in RunState.ExecutedSteps.
type ExecutedStep struct {
	Intent   Intent         `json:"intent"`
	Selector SelectorRecord `json:"selector"`
	Strategy Strategy       `json:"strategy"`
	Ms       int64          `json:"ms"`
	Outcome  string         `json:"outcome"`
}

// HealEvent is one append-only entry in RunState.HealEvents.
type HealEvent struct {
	Round          int      `json:"round"`
	SelectorBefore string   `json:"selector_before"`
	SelectorAfter  string   `json:"selector_after"`
	Strategy       Strategy `json:"strategy"`
	Success        bool     `json:"success"`
	Reason         string   `json:"reason,omitempty"`
}

// DriftEvent records one cache-drift invalidation (spec.md §4.8). VerdictRCA
// classifies a run with any DriftEvents as selector_drift (§4.10).
type DriftEvent struct {
	ElementName string    `json:"element_name"`
	At          time.Time `json:"at"`
}

// SentinelEvent records one dialog-sentinel interrupt (spec.md §4.6b).
// VerdictRCA classifies a run with any SentinelEvents as ui_blocked (§4.10).
type SentinelEvent struct {
	Title   string    `json:"title"`
	Keyword string    `json:"keyword"`
	At      time.Time `json:"at"`
}

// RunState is the shared object every orchestration node consumes and
// returns (spec.md §3). Nodes never raise; all failure is communicated
// through Failure/Verdict fields.
type RunState struct {
	ReqID string `json:"req_id"`

	Plan    []Intent `json:"plan"`
	Intents []Intent `json:"intents"`

	Discovered []SelectorRecord `json:"discovered"`

	StepIdx   int     `json:"step_idx"`
	HealRound int     `json:"heal_round"`
	Failure   Failure `json:"failure"`

	ExecutedSteps  []ExecutedStep  `json:"executed_steps"`
	HealEvents     []HealEvent     `json:"heal_events"`
	DriftEvents    []DriftEvent    `json:"drift_events"`
	SentinelEvents []SentinelEvent `json:"sentinel_events"`

	Verdict Verdict `json:"verdict"`
	RCA     RCA     `json:"rca"`

	Context map[string]any `json:"context"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	PlanHash string `json:"plan_hash"`

	// MaxHealRounds bounds the Executor⇄Healer loop (spec.md §3, default 3,
	// configurable 0-5). Carried on RunState rather than only in config so
	// a run can override it (e.g. boundary-behavior tests with 0).
	MaxHealRounds int `json:"max_heal_rounds"`

	// SameSelectorRetries tracks in-step transient retries that do not
	// consume heal-round budget (spec.md §4.3).
	SameSelectorRetries int `json:"-"`
}

// NewRunState builds a fresh RunState for one plan execution.
func NewRunState(reqID string, plan []Intent, planHash string, maxHealRounds int) *RunState {
	return &RunState{
		ReqID:         reqID,
		Plan:          plan,
		Intents:       append([]Intent(nil), plan...),
		Context:       make(map[string]any),
		PlanHash:      planHash,
		MaxHealRounds: maxHealRounds,
		StartedAt:     timeNow(),
	}
}

// timeNow is a var so tests can stub it without reaching for a clock
// interface across the whole package.
var timeNow = time.Now

// Done reports whether every intent in the plan has executed.
func (rs *RunState) Done() bool {
	return len(rs.ExecutedSteps) >= len(rs.Plan)
}

// CurrentIntent returns the intent at StepIdx, or the zero value and false
// if the plan is exhausted.
func (rs *RunState) CurrentIntent() (Intent, bool) {
	if rs.StepIdx < 0 || rs.StepIdx >= len(rs.Plan) {
		return Intent{}, false
	}
	return rs.Plan[rs.StepIdx], true
}

// AnyHealSucceeded reports whether at least one heal_events entry succeeded
// (spec.md §3 invariant, §8 invariant 4).
func (rs *RunState) AnyHealSucceeded() bool {
	for _, e := range rs.HealEvents {
		if e.Success {
			return true
		}
	}
	return false
}

// SetDiscovered records the SelectorRecord attempted for intent idx,
// growing Discovered as needed so it stays index-aligned with Plan even
// when a step is revisited across heal rounds (spec.md §3 "discovered: one
// per intent as discovery completes").
func (rs *RunState) SetDiscovered(idx int, rec SelectorRecord) {
	for len(rs.Discovered) <= idx {
		rs.Discovered = append(rs.Discovered, SelectorRecord{})
	}
	rs.Discovered[idx] = rec
}

// RecordDrift appends a drift event (spec.md §4.8).
func (rs *RunState) RecordDrift(elementName string) {
	rs.DriftEvents = append(rs.DriftEvents, DriftEvent{ElementName: elementName, At: timeNow()})
}

// RecordSentinel appends a dialog-sentinel interrupt (spec.md §4.6b).
func (rs *RunState) RecordSentinel(title, keyword string) {
	rs.SentinelEvents = append(rs.SentinelEvents, SentinelEvent{Title: title, Keyword: keyword, At: timeNow()})
}

// healTriedKey is the Context scratchpad key OracleHealer uses to remember,
// for the step currently being healed, which strategies it already tried
// and failed in this run (spec.md §4.5 step 2 "skipping tiers previously
// used unsuccessfully in this run").
const healTriedKey = "heal_tried_strategies"

// MarkHealTried records that strategy was attempted (and failed) while
// healing the current step.
func (rs *RunState) MarkHealTried(s Strategy) {
	tried, _ := rs.Context[healTriedKey].([]Strategy)
	rs.Context[healTriedKey] = append(tried, s)
}

// HealTriedSkipSet returns the set of strategies already attempted while
// healing the current step.
func (rs *RunState) HealTriedSkipSet() map[Strategy]bool {
	tried, _ := rs.Context[healTriedKey].([]Strategy)
	skip := make(map[Strategy]bool, len(tried))
	for _, s := range tried {
		skip[s] = true
	}
	return skip
}

// ResetHealTriedStrategies clears the per-step heal attempt memory. Called
// whenever the Executor advances to a new step (spec.md §4.5).
func (rs *RunState) ResetHealTriedStrategies() {
	delete(rs.Context, healTriedKey)
}
