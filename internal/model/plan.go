package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// TestCase is one authored scenario: a sequence of step templates plus
// outcomes, expanded once per data row.
type TestCase struct {
	ID       string              `json:"id"`
	Steps    []StepTemplate      `json:"steps"`
	Outcomes []string            `json:"outcomes,omitempty"`
	Data     []map[string]string `json:"data"`
}

// StepTemplate is a step as authored, before `{{token}}` substitution.
type StepTemplate struct {
	Target    string `json:"target"`
	Action    Action `json:"action"`
	Value     string `json:"value,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	ScopeHint string `json:"scope_hint,omitempty"`
}

// Suite is the authoritative input format (spec.md §6).
type Suite struct {
	TestCases []TestCase `json:"testcases"`
}

// Plan is one expansion of a TestCase against one data row: an ordered
// sequence of instantiated intents, content-addressed by PlanHash.
type Plan struct {
	TestCaseID string   `json:"testcase_id"`
	Intents    []Intent `json:"intents"`
	PlanHash   string   `json:"plan_hash"`
}

var tokenPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_:]+)\}\}`)

// substituteTokens replaces `{{name}}` with the literal row value. Missing
// tokens are left as literal text — this is not an error (spec.md §4.1).
func substituteTokens(s string, row map[string]string) (string, bool) {
	secret := false
	out := tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		lookup := name
		if strings.HasPrefix(name, "secret:") {
			secret = true
			lookup = strings.TrimPrefix(name, "secret:")
		}
		if v, ok := row[lookup]; ok {
			return v
		}
		return tok
	})
	return out, secret
}

// ordinalWords maps the ordinal grammar's leading word to a zero-based index.
var ordinalWords = map[string]int{
	"first": 0, "second": 1, "third": 2, "fourth": 3, "fifth": 4,
	"sixth": 5, "seventh": 6, "eighth": 7, "ninth": 8, "tenth": 9,
}

var ordinalGrammar = regexp.MustCompile(`(?i)^(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\s+(.+)$`)

// applyOrdinalGrammar decorates an intent whose element name matches
// "(first|second|...) <type>" with Ordinal and ElementTypeHint, preserving
// the literal name for logging (spec.md §4.1).
func applyOrdinalGrammar(intent *Intent) {
	m := ordinalGrammar.FindStringSubmatch(intent.ElementName)
	if m == nil {
		return
	}
	idx, ok := ordinalWords[strings.ToLower(m[1])]
	if !ok {
		return
	}
	intent.Ordinal = &idx
	intent.ElementTypeHint = m[2]
}

var navigatesToPattern = regexp.MustCompile(`^navigates_to:(.+)$`)

// ExpandTestCase instantiates one Plan per data row for a TestCase. Rows are
// independent: each produces its own Plan that may share Cache with others
// but nothing else (spec.md §4.1).
func ExpandTestCase(tc TestCase) []Plan {
	rows := tc.Data
	if len(rows) == 0 {
		rows = []map[string]string{{}}
	}

	plans := make([]Plan, 0, len(rows))
	for _, row := range rows {
		intents := make([]Intent, 0, len(tc.Steps)+1)
		for _, step := range tc.Steps {
			name, nameSecret := substituteTokens(step.Target, row)
			value, valueSecret := substituteTokens(step.Value, row)
			scopeHint, _ := substituteTokens(step.ScopeHint, row)
			intent := Intent{
				ElementName: name,
				Action:      step.Action,
				Value:       value,
				Outcome:     step.Outcome,
				ScopeHint:   scopeHint,
				Secret:      nameSecret || valueSecret,
			}
			applyOrdinalGrammar(&intent)
			intents = append(intents, intent)

			if m := navigatesToPattern.FindStringSubmatch(step.Outcome); m != nil {
				intents = append(intents, Intent{
					ElementName: "",
					Action:      ActionWait,
					Outcome:     "page_contains_text:" + m[1],
				})
			}
		}
		plan := Plan{TestCaseID: tc.ID, Intents: intents}
		plan.PlanHash = HashPlan(plan)
		plans = append(plans, plan)
	}
	return plans
}

// ExpandSuite expands every TestCase in a Suite into its independent Plans.
func ExpandSuite(s Suite) []Plan {
	var all []Plan
	for _, tc := range s.TestCases {
		all = append(all, ExpandTestCase(tc)...)
	}
	return all
}

// canonicalIntent is Intent's JSON shape with deterministic field order,
// used only for hashing (map iteration order elsewhere is not involved,
// but we canonicalize explicitly so PlanHash is stable across Go versions).
type canonicalIntent struct {
	ElementName     string `json:"element_name"`
	Action          string `json:"action"`
	Value           string `json:"value"`
	ScopeHint       string `json:"scope_hint"`
	Ordinal         int    `json:"ordinal"`
	HasOrdinal      bool   `json:"has_ordinal"`
	ElementTypeHint string `json:"element_type_hint"`
	Outcome         string `json:"outcome"`
}

// HashPlan computes a deterministic, bit-for-bit-stable content hash for a
// Plan (spec.md §3, §8 round-trip property): re-planning the same Suite and
// data row must always yield the same PlanHash.
func HashPlan(p Plan) string {
	canon := make([]canonicalIntent, len(p.Intents))
	for i, in := range p.Intents {
		c := canonicalIntent{
			ElementName:     in.ElementName,
			Action:          string(in.Action),
			Value:           in.Value,
			ScopeHint:       in.ScopeHint,
			ElementTypeHint: in.ElementTypeHint,
			Outcome:         in.Outcome,
		}
		if in.Ordinal != nil {
			c.HasOrdinal = true
			c.Ordinal = *in.Ordinal
		}
		canon[i] = c
	}
	payload := struct {
		TestCaseID string            `json:"testcase_id"`
		Intents    []canonicalIntent `json:"intents"`
	}{TestCaseID: p.TestCaseID, Intents: canon}

	data, err := json.Marshal(payload)
	if err != nil {
		// json.Marshal on this payload cannot fail (no channels/funcs/cycles).
		panic(fmt.Sprintf("hash plan: %v", err))
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// ParseLegacySteps parses legacy newline-delimited "target | action | value"
// step descriptors (spec.md §4.1 legacy mode).
func ParseLegacySteps(lines []string) []StepTemplate {
	var steps []StepTemplate
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		step := StepTemplate{}
		if len(parts) > 0 {
			step.Target = parts[0]
		}
		if len(parts) > 1 {
			step.Action = Action(strings.ToLower(parts[1]))
		}
		if len(parts) > 2 {
			step.Value = parts[2]
		}
		steps = append(steps, step)
	}
	return steps
}
