// Package model defines the shared data types that flow through the PACTS
// orchestration graph: intents, plans, run state, and selector records.
package model

// Action is the verb half of an Intent.
type Action string

const (
	ActionClick    Action = "click"
	ActionFill     Action = "fill"
	ActionType     Action = "type"
	ActionPress    Action = "press"
	ActionSelect   Action = "select"
	ActionCheck    Action = "check"
	ActionUncheck  Action = "uncheck"
	ActionHover    Action = "hover"
	ActionFocus    Action = "focus"
	ActionWait     Action = "wait"
	ActionNavigate Action = "navigate"
)

// Intent is a declarative description of a single step: what should happen,
// never how to find the element. Discovery resolves an Intent to a
// SelectorRecord; Intent itself never carries a selector.
type Intent struct {
	ElementName     string `json:"element_name"`
	Action          Action `json:"action"`
	Value           string `json:"value,omitempty"`
	ScopeHint       string `json:"scope_hint,omitempty"`
	Ordinal         *int   `json:"ordinal,omitempty"`
	ElementTypeHint string `json:"element_type_hint,omitempty"`
	Outcome         string `json:"outcome,omitempty"`

	// Secret marks this intent's Value as sensitive; writers at the
	// record_outcome/run_steps boundary must redact it (spec.md §5, §9).
	Secret bool `json:"-"`
}

// IsOrdinal reports whether this intent resolves to a positional choice.
func (i Intent) IsOrdinal() bool {
	return i.Ordinal != nil
}
