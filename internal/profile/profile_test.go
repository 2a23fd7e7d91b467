package profile

import (
	"strings"
	"testing"
)

func TestDetectOverrideWins(t *testing.T) {
	got := Detect(DetectionInput{HTML: "<html data-reactroot></html>", Override: Static})
	if got != Static {
		t.Errorf("profile = %s, want explicit override to win", got)
	}
}

func TestDetectSPASignalsClassifyDynamic(t *testing.T) {
	for _, html := range []string{
		`<div id="root" data-reactroot></div>`,
		`<app-root ng-version="17.0.0"></app-root>`,
		`<div id="__next"></div>`,
		`<div class="slds-scope lightning-container"></div>`,
	} {
		if got := Detect(DetectionInput{HTML: html}); got != Dynamic {
			t.Errorf("Detect(%q) = %s, want DYNAMIC", html, got)
		}
	}
}

func TestDetectLargeMarkupClassifiesDynamic(t *testing.T) {
	big := "<html>" + strings.Repeat("<div>x</div>", 30000) + "</html>"
	if got := Detect(DetectionInput{HTML: big}); got != Dynamic {
		t.Errorf("profile = %s, want DYNAMIC for oversized markup", got)
	}
}

func TestDetectPlainPageClassifiesStatic(t *testing.T) {
	if got := Detect(DetectionInput{HTML: "<html><body><h1>Docs</h1></body></html>"}); got != Static {
		t.Errorf("profile = %s, want STATIC", got)
	}
}

func TestBudgetsMatchProfileDefaults(t *testing.T) {
	s := BudgetFor(Static)
	d := BudgetFor(Dynamic)

	if s.SettleDelay != 0 {
		t.Errorf("static settle delay = %s, want 0", s.SettleDelay)
	}
	if d.SettleDelay.Milliseconds() != 1500 {
		t.Errorf("dynamic settle delay = %s, want 1500ms", d.SettleDelay)
	}
	if !(d.DriftThreshold > s.DriftThreshold) {
		t.Errorf("dynamic drift threshold %v should exceed static %v", d.DriftThreshold, s.DriftThreshold)
	}
}
