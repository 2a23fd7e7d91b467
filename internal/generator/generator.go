// Package generator implements the Generator node (spec.md §4.11): given
// the final RunState of a passing or healed run, it emits a replayable Go
// test source file that drives the same plan using each step's
// last-known-good selector. It reads RunState only and never touches the
// browser.
//
// Grounded in the teacher's internal/campaign/tool_pregenerator.go
// Config/Default pairing for its Options type, and in the teacher's general
// preference for text/template-driven source emission over string
// concatenation (internal/autopoiesis/atom_generator.go).
package generator

import (
	"fmt"
	"strings"
	"text/template"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// Options configures artifact emission.
type Options struct {
	// PackageName is the Go package the emitted test source declares.
	PackageName string
	// FuncName is the emitted test function's name.
	FuncName string
}

// DefaultOptions returns sensible defaults for Options.
func DefaultOptions() Options {
	return Options{PackageName: "generated", FuncName: "TestReplay"}
}

// Artifact is the Generator's output (spec.md §6 artifacts table "kind
// test_source").
type Artifact struct {
	Kind   string
	Source string
}

// replayStep is one template-ready row: the selector to drive and the
// action to take against it.
type replayStep struct {
	Comment  string
	Selector string
	Action   model.Action
	Value    string
}

const sourceTemplate = `// Code generated by PACTS Generator from a {{.Verdict}} run. DO NOT EDIT.
package {{.PackageName}}

import "testing"

func {{.FuncName}}(t *testing.T) {
{{- range .Steps}}
	// {{.Comment}}
	replayStep(t, {{printf "%q" .Selector}}, {{printf "%q" .Action}}, {{printf "%q" .Value}})
{{- end}}
}
`

var tmpl = template.Must(template.New("replay").Parse(sourceTemplate))

// Generate implements the Generator contract (spec.md §4.11): emits a
// test_source artifact from rs.ExecutedSteps, using each step's recorded
// SelectorRecord (the one the Executor or Healer last proved actionable).
// Returns an error only if rs is not eligible for generation — a run whose
// verdict is fail/blocked/error has no reliable per-step selector to emit.
func Generate(rs *model.RunState, opts Options) (Artifact, error) {
	if rs.Verdict != model.VerdictPass && rs.Verdict != model.VerdictHealed {
		return Artifact{}, fmt.Errorf("generator: run verdict %q is not eligible for artifact generation", rs.Verdict)
	}
	if opts.PackageName == "" || opts.FuncName == "" {
		opts = DefaultOptions()
	}

	steps := make([]replayStep, 0, len(rs.ExecutedSteps))
	for i, es := range rs.ExecutedSteps {
		comment := fmt.Sprintf("step %d: %s %q via %s", i, es.Intent.Action, es.Intent.ElementName, es.Strategy)
		steps = append(steps, replayStep{
			Comment:  comment,
			Selector: es.Selector.Selector,
			Action:   es.Intent.Action,
			Value:    es.Intent.Value,
		})
	}

	var buf strings.Builder
	data := struct {
		Verdict     model.Verdict
		PackageName string
		FuncName    string
		Steps       []replayStep
	}{Verdict: rs.Verdict, PackageName: opts.PackageName, FuncName: opts.FuncName, Steps: steps}

	if err := tmpl.Execute(&buf, data); err != nil {
		return Artifact{}, fmt.Errorf("generator: render template: %w", err)
	}

	logging.Result("req %s generated test_source artifact (%d steps, verdict=%s)", rs.ReqID, len(steps), rs.Verdict)
	return Artifact{Kind: "test_source", Source: buf.String()}, nil
}
