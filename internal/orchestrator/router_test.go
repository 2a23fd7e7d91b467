package orchestrator

import (
	"testing"

	"pacts/internal/model"
)

func TestRouteAfterExecutorGoesToHealerOnFailure(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}, {ElementName: "b"}}, "hash", 3)
	rs.Failure = model.FailureDiscoveryMissing

	if got := routeAfterExecutor(rs); got != tagHealer {
		t.Errorf("route = %s, want healer", got)
	}
}

func TestRouteAfterExecutorGoesToVerdictWhenDone(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}}, "hash", 3)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}

	if got := routeAfterExecutor(rs); got != tagVerdict {
		t.Errorf("route = %s, want verdict", got)
	}
}

func TestRouteAfterExecutorContinuesToNextStep(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}, {ElementName: "b"}}, "hash", 3)
	rs.ExecutedSteps = []model.ExecutedStep{{Outcome: "ok"}}

	if got := routeAfterExecutor(rs); got != tagExecutor {
		t.Errorf("route = %s, want executor", got)
	}
}

func TestRouteAfterHealerResumesExecutorOnSuccess(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}}, "hash", 3)
	rs.Failure = model.FailureNone

	if got := routeAfterHealer(rs); got != tagExecutor {
		t.Errorf("route = %s, want executor", got)
	}
}

func TestRouteAfterHealerRetriesUntilRoundsExhausted(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}}, "hash", 3)
	rs.Failure = model.FailureDiscoveryMissing
	rs.HealRound = 1

	if got := routeAfterHealer(rs); got != tagHealer {
		t.Errorf("round 1/3: route = %s, want another healer cycle", got)
	}

	rs.HealRound = 3
	if got := routeAfterHealer(rs); got != tagVerdict {
		t.Errorf("round 3/3: route = %s, want verdict", got)
	}
}

func TestRouteAssertionFailureHealsExactlyOnce(t *testing.T) {
	rs := model.NewRunState("req-1", []model.Intent{{ElementName: "a"}}, "hash", 3)
	rs.Failure = model.FailureAssertionFail

	if got := routeAfterExecutor(rs); got != tagHealer {
		t.Errorf("first assertion failure: route = %s, want one healer attempt", got)
	}

	rs.HealRound = 1
	if got := routeAfterExecutor(rs); got != tagVerdict {
		t.Errorf("recurring assertion failure: route = %s, want verdict", got)
	}
	if got := routeAfterHealer(rs); got != tagVerdict {
		t.Errorf("recurring assertion failure after healer: route = %s, want verdict", got)
	}
}

func TestGraphRunSetsErrorVerdictOnEmptyPlan(t *testing.T) {
	g := &Graph{nodes: map[nodeTag]node{}, routers: map[nodeTag]router{}}
	rs := model.NewRunState("req-1", nil, "", 3)

	if err := g.Run(nil, rs); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rs.Verdict != model.VerdictError {
		t.Errorf("verdict = %s, want error", rs.Verdict)
	}
}
