package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pacts/internal/model"
)

func newRunState(planLen int) *model.RunState {
	plan := make([]model.Intent, planLen)
	for i := range plan {
		plan[i] = model.Intent{ElementName: "el", Action: model.ActionClick}
	}
	return model.NewRunState("req-1", plan, "hash", 3)
}

func TestClassifyPassWhenAllStepsExecutedAndNoHeals(t *testing.T) {
	rs := newRunState(2)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}, {Outcome: "ok"}}

	Classify(rs)

	assert.Equal(t, model.VerdictPass, rs.Verdict)
	assert.Equal(t, model.RCANone, rs.RCA.Class)
}

func TestClassifyHealedWhenAHealSucceeded(t *testing.T) {
	rs := newRunState(2)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}, {Outcome: "ok"}}
	rs.HealEvents = []model.HealEvent{{Round: 0, Success: true}}

	Classify(rs)

	assert.Equal(t, model.VerdictHealed, rs.Verdict)
}

func TestClassifyFailWhenNotAllStepsExecuted(t *testing.T) {
	rs := newRunState(3)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}
	rs.Failure = model.FailureDiscoveryMissing

	Classify(rs)

	assert.Equal(t, model.VerdictFail, rs.Verdict)
}

func TestClassifyErrorWhenPlanEmpty(t *testing.T) {
	rs := model.NewRunState("req-1", nil, "hash", 3)

	Classify(rs)

	assert.Equal(t, model.VerdictError, rs.Verdict)
}

func TestClassifyBlockedOnCaptchaSentinel(t *testing.T) {
	rs := newRunState(2)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}
	rs.SentinelEvents = []model.SentinelEvent{{Title: "Please complete the CAPTCHA", Keyword: "required"}}

	Classify(rs)

	assert.Equal(t, model.VerdictBlocked, rs.Verdict)
}

func TestRCASelectorDriftTakesPrecedence(t *testing.T) {
	rs := newRunState(2)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}
	rs.Failure = model.FailureDiscoveryMissing
	rs.DriftEvents = []model.DriftEvent{{ElementName: "Submit"}}
	rs.SentinelEvents = []model.SentinelEvent{{Title: "dialog"}}

	Classify(rs)

	assert.Equal(t, model.RCASelectorDrift, rs.RCA.Class, "selector_drift is checked first")
}

func TestRCADataIssueOnUnresolvedToken(t *testing.T) {
	rs := newRunState(0)
	rs.Plan = []model.Intent{{ElementName: "{{missing_field}}", Action: model.ActionFill}}
	rs.Failure = model.FailureDiscoveryMissing

	Classify(rs)

	assert.Equal(t, model.RCADataIssue, rs.RCA.Class)
}

func TestRCADiscoveryExhaustedWhenHealRoundsMaxedWithoutSuccess(t *testing.T) {
	rs := newRunState(1)
	rs.Failure = model.FailureDiscoveryMissing
	rs.HealRound = 3
	rs.HealEvents = []model.HealEvent{
		{Round: 0, Success: false},
		{Round: 1, Success: false},
		{Round: 2, Success: false},
	}

	Classify(rs)

	assert.Equal(t, model.RCADiscoveryExhausted, rs.RCA.Class)
}

func TestRCAUnknownWhenNoRuleMatches(t *testing.T) {
	rs := newRunState(2)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}
	rs.Failure = model.FailureDisabled

	Classify(rs)

	assert.Equal(t, model.RCAUnknown, rs.RCA.Class)
}
