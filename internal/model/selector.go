package model

// Strategy names the discovery tier (or pattern) that produced a selector.
type Strategy string

const (
	StrategyAriaLabel       Strategy = "aria_label"
	StrategyAriaPlaceholder Strategy = "aria_placeholder"
	StrategyNameAttr        Strategy = "name_attr"
	StrategyPlaceholder     Strategy = "placeholder"
	StrategyLabelFor        Strategy = "label_for"
	StrategyRoleAccName     Strategy = "role_accessible_name"
	StrategyDataTestAttr    Strategy = "data_test_attr"
	StrategyIDClass         Strategy = "id_class"
	StrategyOrdinal         Strategy = "ordinal"
)

// Tier is the waterfall position of a Strategy, 1-indexed per spec.md §4.2.
// The ordinal tier has no fixed position — it preempts the waterfall
// entirely when the intent carries an Ordinal.
var tierOf = map[Strategy]int{
	StrategyAriaLabel:       1,
	StrategyAriaPlaceholder: 2,
	StrategyNameAttr:        3,
	StrategyPlaceholder:     4,
	StrategyLabelFor:        5,
	StrategyRoleAccName:     6,
	StrategyDataTestAttr:    7,
	StrategyIDClass:         8,
}

// baseScore mirrors the waterfall table in spec.md §4.2.
var baseScore = map[Strategy]float64{
	StrategyAriaLabel:       0.98,
	StrategyAriaPlaceholder: 0.96,
	StrategyNameAttr:        0.94,
	StrategyPlaceholder:     0.90,
	StrategyLabelFor:        0.86,
	StrategyRoleAccName:     0.95,
	StrategyDataTestAttr:    0.80,
	StrategyIDClass:         0.70,
}

// volatileStrategies are positional or synthetic, never cached (spec.md §4.2, §8 invariant 7).
var volatileStrategies = map[Strategy]bool{
	StrategyRoleAccName: true,
	StrategyIDClass:     true,
	StrategyOrdinal:     true,
}

// Tier returns the waterfall position for a strategy, or 0 if it has none.
func Tier(s Strategy) int { return tierOf[s] }

// BaseScore returns the waterfall's base score for a strategy.
func BaseScore(s Strategy) float64 { return baseScore[s] }

// IsVolatile reports whether a strategy yields a non-cacheable selector.
func IsVolatile(s Strategy) bool { return volatileStrategies[s] }

// SelectorMeta carries discovery provenance for a SelectorRecord.
type SelectorMeta struct {
	Tier          int    `json:"tier"`
	DOMHashPrefix string `json:"dom_hash_prefix,omitempty"`
	MatchedText   string `json:"matched_text,omitempty"`
	Ordinal       *int   `json:"ordinal,omitempty"`
	Role          string `json:"role,omitempty"`
}

// SelectorRecord is the output of discovery (spec.md §3).
type SelectorRecord struct {
	Selector   string       `json:"selector"`
	Score      float64      `json:"score"`
	Strategy   Strategy     `json:"strategy"`
	Stable     bool         `json:"stable"`
	Meta       SelectorMeta `json:"meta"`
	FromCache  bool         `json:"from_cache,omitempty"`
}

// Cacheable reports whether this record may be admitted to the cache:
// stable=true and not derived from an ordinal (spec.md §8 invariant 7).
func (r SelectorRecord) Cacheable() bool {
	return r.Stable && r.Meta.Ordinal == nil
}
