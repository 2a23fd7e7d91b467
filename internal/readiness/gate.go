package readiness

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/profile"
)

// GateQuerier is the slice of *browser.Driver the actionability gate and
// dialog sentinel need.
type GateQuerier interface {
	Elements(ctx context.Context, selector string) (rod.Elements, error)
}

// CheckActionability runs the five-point gate (spec.md §4.6): unique,
// visible, enabled, bbox-stable, scoped. Returns model.FailureNone if every
// check passes, otherwise the first failing check's Failure.
func CheckActionability(ctx context.Context, q GateQuerier, el *rod.Element, selector, scope string, budget profile.Budget) (model.Failure, error) {
	if q != nil {
		matches, err := q.Elements(ctx, selector)
		if err != nil {
			return model.FailureNotUnique, err
		}
		if len(matches) != 1 {
			logging.GateDebug("selector %q matched %d elements, want 1", selector, len(matches))
			return model.FailureNotUnique, nil
		}
	}

	visible, err := el.Visible()
	if err != nil {
		return model.FailureNotVisible, err
	}
	if !visible {
		return model.FailureNotVisible, nil
	}

	enabled, err := isEnabled(el)
	if err != nil {
		return model.FailureDisabled, err
	}
	if !enabled {
		return model.FailureDisabled, nil
	}

	stable, err := isBBoxStable(el, budget.ActionabilityPoll)
	if err != nil {
		return model.FailureUnstable, err
	}
	if !stable {
		return model.FailureUnstable, nil
	}

	if scope != "" {
		scoped, err := isScoped(el, scope)
		if err != nil {
			return model.FailureNotScoped, err
		}
		if !scoped {
			return model.FailureNotScoped, nil
		}
	}

	return model.FailureNone, nil
}

func isEnabled(el *rod.Element) (bool, error) {
	disabled, err := el.Attribute("disabled")
	if err != nil {
		return false, err
	}
	if disabled != nil {
		return false, nil
	}
	ariaDisabled, err := el.Attribute("aria-disabled")
	if err != nil {
		return false, err
	}
	if ariaDisabled != nil && *ariaDisabled == "true" {
		return false, nil
	}
	return true, nil
}

// boundingRectJS returns the element's viewport-relative bounding box.
const boundingRectJS = `() => {
	const r = this.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
}`

type boundingRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// isBBoxStable samples the element's bounding box twice, poll apart, and
// reports whether it held still — guards against clicking an element mid-
// animation or mid-reflow (spec.md §4.6).
func isBBoxStable(el *rod.Element, poll time.Duration) (bool, error) {
	before, err := boundingRectOf(el)
	if err != nil {
		return false, err
	}
	time.Sleep(poll)
	after, err := boundingRectOf(el)
	if err != nil {
		return false, err
	}
	return before == after, nil
}

func boundingRectOf(el *rod.Element) (boundingRect, error) {
	res, err := el.Eval(boundingRectJS)
	if err != nil {
		return boundingRect{}, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return boundingRect{}, err
	}
	var rect boundingRect
	if err := json.Unmarshal(raw, &rect); err != nil {
		return boundingRect{}, err
	}
	return rect, nil
}

func isScoped(el *rod.Element, scope string) (bool, error) {
	res, err := el.Eval(`(scope) => !!this.closest(scope)`, scope)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// dialogSentinelJS looks for a visible modal dialog that isn't the
// currently expected scope container (spec.md §4.6b dialog sentinel): an
// unexpected dialog usually means an app-initiated interrupt (a confirm
// prompt, an error modal) that should short-circuit the current step.
const dialogSentinelJS = `(expectedScope) => {
	const guard = (el) => {
		if (!el || !el.isConnected) return false;
		const r = el.getBoundingClientRect();
		const s = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none";
	};
	const dialogs = Array.from(document.querySelectorAll('[role="dialog"], [role="alertdialog"], dialog[open]'));
	for (const d of dialogs) {
		if (!guard(d)) continue;
		if (expectedScope && d.matches(expectedScope)) continue;
		return d.getAttribute("aria-label") || (d.querySelector("h1,h2,h3") || {}).textContent || "dialog";
	}
	return null;
}`

// Evaler is the slice of *browser.Driver the dialog sentinel needs.
type Evaler interface {
	EvalJSON(ctx context.Context, js string, out any, args ...any) error
}

// CheckDialogSentinel reports the title/label of an unexpected visible
// dialog, or "" if none is present.
func CheckDialogSentinel(ctx context.Context, d Evaler, expectedScope string) (string, error) {
	var title string
	if err := d.EvalJSON(ctx, dialogSentinelJS, &title, expectedScope); err != nil {
		return "", err
	}
	return title, nil
}
