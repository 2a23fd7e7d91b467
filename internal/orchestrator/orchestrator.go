// Package orchestrator wires the six PACTS nodes into the graph spec.md §2
// describes: Planner → POMBuilder → Executor ⇄ OracleHealer → VerdictRCA →
// Generator → END. Per spec.md §9's design note, nodes are plain functions
// with a uniform signature and the graph is a table of {node → router};
// the table is built once by New and never mutated afterward.
//
// Grounded in the teacher's internal/core/kernel_policy.go node/router
// table (a fixed map from policy name to the next policy, inspected after
// each step) — generalized here from a single linear policy chain to a
// graph with one conditional back-edge (Executor ⇄ OracleHealer).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"pacts/internal/browser"
	"pacts/internal/cache"
	"pacts/internal/executor"
	"pacts/internal/generator"
	"pacts/internal/healer"
	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/pom"
	"pacts/internal/verdict"
)

// nodeTag names a graph node; routers return the next tag to run, or
// tagEnd to terminate.
type nodeTag string

const (
	tagPOMBuilder nodeTag = "pom_builder"
	tagExecutor   nodeTag = "executor"
	tagHealer     nodeTag = "healer"
	tagVerdict    nodeTag = "verdict"
	tagGenerator  nodeTag = "generator"
	tagEnd        nodeTag = "end"
)

// node is a graph step: it mutates rs in place (spec.md §9 "nodes as
// functions with a uniform signature") and reports an infrastructure error
// only for conditions the agent graph itself cannot route around (a
// browser that can't navigate at all, a plan that can't be read). Ordinary
// step-level and run-level failures stay inside RunState.Failure/Verdict.
type node func(ctx context.Context, rs *model.RunState) error

// router inspects rs after its node has run and returns the next node tag.
type router func(rs *model.RunState) nodeTag

// Graph is the immutable {node -> router} table (spec.md §9 "build once,
// treat as immutable thereafter"). It holds no run-scoped state itself —
// the browser driver, POMBuilder, Healer, and Cache it closes over are the
// capability handles spec.md §9 says nodes should receive rather than reach
// for as globals.
type Graph struct {
	nodes   map[nodeTag]node
	routers map[nodeTag]router
	pageURL string
}

// New builds the graph once over a connected driver and its capability
// handles. pageURL is the run's target URL (spec.md §4.2 "navigate the
// browser to context.url").
func New(d *browser.Driver, c *cache.Cache, pageURL string) *Graph {
	builder := pom.NewBuilder(d, c)
	h := healer.New(d, c)

	g := &Graph{pageURL: pageURL}
	g.nodes = map[nodeTag]node{
		tagPOMBuilder: func(ctx context.Context, rs *model.RunState) error {
			return builder.EnsureNavigated(ctx, pageURL)
		},
		tagExecutor: func(ctx context.Context, rs *model.RunState) error {
			return executor.RunStep(ctx, d, rs, builder, pageURL, builder.Budget())
		},
		tagHealer: func(ctx context.Context, rs *model.RunState) error {
			return h.Heal(ctx, rs, builder, pageURL, builder.Budget())
		},
		tagVerdict: func(ctx context.Context, rs *model.RunState) error {
			verdict.Classify(rs)
			return nil
		},
		tagGenerator: func(ctx context.Context, rs *model.RunState) error {
			if rs.Verdict != model.VerdictPass && rs.Verdict != model.VerdictHealed {
				logging.OrchDebug("req %s: verdict %s not eligible for artifact generation, skipping", rs.ReqID, rs.Verdict)
				return nil
			}
			art, err := generator.Generate(rs, generator.DefaultOptions())
			if err != nil {
				logging.OrchWarn("req %s: generator error: %v", rs.ReqID, err)
				return nil
			}
			rs.Context["artifact_kind"] = art.Kind
			rs.Context["artifact_source"] = art.Source
			return nil
		},
	}
	g.routers = map[nodeTag]router{
		tagPOMBuilder: func(rs *model.RunState) nodeTag { return tagExecutor },
		tagExecutor:   routeAfterExecutor,
		tagHealer:     routeAfterHealer,
		tagVerdict:    func(rs *model.RunState) nodeTag { return tagGenerator },
		tagGenerator:  func(rs *model.RunState) nodeTag { return tagEnd },
	}
	return g
}

// routeAfterExecutor implements the Executor⇄Healer conditional edge
// (spec.md §2): a clean step advances to the next intent (or, once the
// plan is exhausted, to VerdictRCA); a failed step routes to Healer.
func routeAfterExecutor(rs *model.RunState) nodeTag {
	if rs.Failure != model.FailureNone {
		// A verification failure gets exactly one healing attempt; if it
		// recurs after a heal round, the assertion itself is wrong and no
		// selector change will fix it.
		if rs.Failure == model.FailureAssertionFail && rs.HealRound >= 1 {
			return tagVerdict
		}
		return tagHealer
	}
	if rs.Done() {
		return tagVerdict
	}
	return tagExecutor
}

// routeAfterHealer implements the other half of the conditional edge
// (spec.md §4.5 contract): a successful heal resumes the Executor on the
// same step; an unsuccessful heal either tries another round or, once
// max_heal_rounds is exhausted, falls through to VerdictRCA.
func routeAfterHealer(rs *model.RunState) nodeTag {
	if rs.Failure == model.FailureNone {
		return tagExecutor
	}
	if rs.Failure == model.FailureAssertionFail && rs.HealRound >= 1 {
		return tagVerdict
	}
	if rs.HealRound >= rs.MaxHealRounds {
		return tagVerdict
	}
	return tagHealer
}

// Run drives rs through the graph from POMBuilder to END, invariant-checked
// at every hop: once a node sets rs.Verdict != none, no further
// executor/healer transitions occur (spec.md §3 invariant).
func (g *Graph) Run(ctx context.Context, rs *model.RunState) error {
	defer func() { rs.FinishedAt = time.Now() }()

	if len(rs.Plan) == 0 {
		rs.Verdict = model.VerdictError
		logging.OrchWarn("req %s: empty plan, routing straight to end", rs.ReqID)
		return nil
	}

	tag := tagPOMBuilder
	for tag != tagEnd {
		// Run-level hard cap (spec.md §5): an expired deadline aborts the
		// whole run with verdict=error rather than grinding through nodes
		// whose every wait will now time out.
		if ctx != nil && ctx.Err() != nil {
			rs.Verdict = model.VerdictError
			return fmt.Errorf("orchestrator: run-level cap exceeded at node %q: %w", tag, ctx.Err())
		}

		n, ok := g.nodes[tag]
		if !ok {
			return fmt.Errorf("orchestrator: no node registered for tag %q", tag)
		}
		if err := n(ctx, rs); err != nil {
			logging.OrchWarn("req %s: node %q returned an infrastructure error: %v", rs.ReqID, tag, err)
			rs.Verdict = model.VerdictError
			return err
		}

		route, ok := g.routers[tag]
		if !ok {
			return fmt.Errorf("orchestrator: no router registered for tag %q", tag)
		}
		next := route(rs)
		logging.OrchDebug("req %s: %s -> %s (step_idx=%d heal_round=%d failure=%s)", rs.ReqID, tag, next, rs.StepIdx, rs.HealRound, rs.Failure)
		tag = next
	}
	return nil
}
