package discovery

import "testing"

func TestMatchRankGradesExactOverPrefixOverSubstring(t *testing.T) {
	cases := []struct {
		target, candidate string
		want              int
	}{
		{"Sign In", "sign in", 3},
		{"Sign   In", "sign in", 3},
		{"email", "Email address", 2},
		{"Email address", "email", 2},
		{"address", "Email address", 1},
		{"Search box", "Advanced search box", 1},
		{"submit", "cancel", 0},
		{"", "anything", 0},
	}
	for _, c := range cases {
		got := matchRank(c.target, c.candidate)
		if got != c.want {
			t.Errorf("matchRank(%q, %q) = %d, want %d", c.target, c.candidate, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  Sign   In \n"); got != "sign in" {
		t.Errorf("normalize = %q, want %q", got, "sign in")
	}
}

func TestPropagatingScopeApply(t *testing.T) {
	p := &PropagatingScope{}
	if got := p.Apply(); got != "" {
		t.Errorf("Apply on zero-value scope = %q, want empty", got)
	}

	p.Reset("[role=\"dialog\"]", 2)
	if got := p.Apply(); got != `[role="dialog"]` {
		t.Errorf("Apply after reset = %q", got)
	}
	if got := p.Apply(); got != `[role="dialog"]` {
		t.Errorf("Apply second call = %q", got)
	}
	if got := p.Apply(); got != "" {
		t.Errorf("Apply after budget exhausted = %q, want empty", got)
	}
}

func TestOrdinalRole(t *testing.T) {
	cases := []struct {
		typeHint string
		want     string
	}{
		{"video result", "link"},
		{"result", "link"},
		{"link", "link"},
		{"item", "listitem"},
		{"card", "article"},
		{"article", "article"},
		{"post", "article"},
		{"add to cart button", "button"},
		{"", ordinalRoleDefault},
		{"widget", ordinalRoleDefault},
	}
	for _, c := range cases {
		if got := ordinalRole(c.typeHint); got != c.want {
			t.Errorf("ordinalRole(%q) = %q, want %q", c.typeHint, got, c.want)
		}
	}
}

func TestJSSelectorList(t *testing.T) {
	got := jsSelectorList([]string{"a", "b\"c"})
	want := `["a", "b\"c"]`
	if got != want {
		t.Errorf("jsSelectorList = %s, want %s", got, want)
	}
}
