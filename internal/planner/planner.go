// Package planner implements the Planner node (spec.md §4.1): it converts a
// structured Suite (or a legacy line-delimited step list) into one or more
// RunStates, one per test case × data row, each stamped with a
// content-addressable plan_hash. It never rewrites step intent — only binds
// data and derives the synthetic assertion step a `navigates_to:X` outcome
// implies.
//
// Grounded in the teacher's internal/config/config.go Load/parse boundary:
// a thin adapter that accepts either a richly structured document or a
// plainer fallback, logging which path it took and never raising past its
// own boundary.
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// Request is the Planner's input: either a Suite (authoritative mode) or
// raw legacy step lines, plus the target URL and per-run options (spec.md
// §4.1, §6 requirement file).
type Request struct {
	URL           string
	Suite         *model.Suite
	LegacyLines   []string
	ReqID         string // optional; generated if empty
	MaxHealRounds int    // optional; defaults to 3 (spec.md §3)
}

// defaultMaxHealRounds mirrors internal/config's HealConfig default.
const defaultMaxHealRounds = 3

// maxHealRoundsCeiling is spec.md §3's configurable upper bound.
const maxHealRoundsCeiling = 5

// Plan runs the Planner contract over req: it expands the Suite (or wraps
// the legacy lines into a single-testcase Suite), builds one RunState per
// resulting Plan, and returns them. A request with neither a Suite nor
// legacy lines yields a single error RunState (spec.md §4.1 "Failure").
func Plan(req Request) []*model.RunState {
	maxHeal := req.MaxHealRounds
	if maxHeal <= 0 {
		maxHeal = defaultMaxHealRounds
	}
	if maxHeal > maxHealRoundsCeiling {
		maxHeal = maxHealRoundsCeiling
	}

	suite, err := resolveSuite(req)
	if err != nil {
		logging.PlannerError("req %s: %v", req.ReqID, err)
		rs := model.NewRunState(reqIDOrNew(req.ReqID), nil, "", maxHeal)
		rs.Verdict = model.VerdictError
		rs.Context["url"] = req.URL
		return []*model.RunState{rs}
	}

	plans := model.ExpandSuite(*suite)
	states := make([]*model.RunState, 0, len(plans))
	for _, p := range plans {
		reqID := reqIDOrNew(req.ReqID)
		if len(plans) > 1 {
			reqID = fmt.Sprintf("%s-%s", reqID, p.TestCaseID)
		}
		rs := model.NewRunState(reqID, p.Intents, p.PlanHash, maxHeal)
		rs.Context["url"] = req.URL
		states = append(states, rs)
		logging.Planner("req %s: plan %s expanded to %d intents (hash=%s)", reqID, p.TestCaseID, len(p.Intents), p.PlanHash)
	}
	return states
}

// resolveSuite picks the Suite to expand: the caller's Suite if present,
// else the legacy lines wrapped as a single unnamed testcase, else an
// error (spec.md §4.1 Failure clause).
func resolveSuite(req Request) (*model.Suite, error) {
	if req.Suite != nil {
		return req.Suite, nil
	}
	if len(req.LegacyLines) > 0 {
		steps := model.ParseLegacySteps(req.LegacyLines)
		return &model.Suite{TestCases: []model.TestCase{{ID: "legacy", Steps: steps}}}, nil
	}
	return nil, fmt.Errorf("planner: neither a Suite nor legacy steps were provided")
}

func reqIDOrNew(reqID string) string {
	if reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// ParseRequirementFile implements spec.md §6's requirement-file format: the
// first non-blank line is the target URL; the remainder is either a Suite
// document (JSON or YAML — SPEC_FULL.md §11 extends the spec's Suite JSON
// to also accept an equivalent YAML body) or legacy step lines.
func ParseRequirementFile(data []byte) (Request, error) {
	lines := strings.Split(string(data), "\n")

	idx := 0
	for idx < len(lines) && strings.TrimSpace(lines[idx]) == "" {
		idx++
	}
	if idx >= len(lines) {
		return Request{}, fmt.Errorf("planner: requirement file is empty")
	}
	url := strings.TrimSpace(lines[idx])
	body := strings.Join(lines[idx+1:], "\n")
	trimmedBody := strings.TrimSpace(body)
	if trimmedBody == "" {
		return Request{}, fmt.Errorf("planner: requirement file for %s has no steps", url)
	}

	if suite, ok := tryParseSuite(trimmedBody); ok {
		return Request{URL: url, Suite: suite}, nil
	}

	return Request{URL: url, LegacyLines: lines[idx+1:]}, nil
}

// tryParseSuite attempts JSON first (the spec's authoritative format), then
// YAML (the supplemented equivalent, SPEC_FULL.md §11). A body that parses
// as neither falls through to legacy-line mode.
func tryParseSuite(body string) (*model.Suite, bool) {
	if looksLikeJSON(body) {
		var suite model.Suite
		dec := json.NewDecoder(bytes.NewReader([]byte(body)))
		if err := dec.Decode(&suite); err == nil && len(suite.TestCases) > 0 {
			return &suite, true
		}
		return nil, false
	}

	var suite model.Suite
	if err := yaml.Unmarshal([]byte(body), &suite); err == nil && len(suite.TestCases) > 0 {
		return &suite, true
	}
	return nil, false
}

func looksLikeJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}
