package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// activatorRevealTimeout is how long the activator-first fill pattern waits
// for a descendant input to appear after clicking the activator element
// (spec.md §4.4).
const activatorRevealTimeout = 500 * time.Millisecond

// elementInfo is the element-kind probe step 3 of spec.md §4.3 calls for.
type elementInfo struct {
	Tag  string `json:"tag"`
	Type string `json:"type"`
	Role string `json:"role"`
}

const elementInfoJS = `() => ({
	tag: this.tagName.toLowerCase(),
	type: (this.getAttribute("type") || "").toLowerCase(),
	role: (this.getAttribute("role") || "").toLowerCase(),
})`

func inspect(el *rod.Element) (elementInfo, error) {
	res, err := el.Eval(elementInfoJS)
	if err != nil {
		return elementInfo{}, err
	}
	var info elementInfo
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return elementInfo{}, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return elementInfo{}, err
	}
	return info, nil
}

// dispatch picks and runs the interaction pattern matching element kind +
// intent.Action (spec.md §4.4), returning the strategy name recorded on
// the executed step.
func dispatch(ctx context.Context, d Driver, el *rod.Element, intent model.Intent, rec model.SelectorRecord) (string, error) {
	info, err := inspect(el)
	if err != nil {
		return "", fmt.Errorf("inspect element: %w", err)
	}

	switch intent.Action {
	case model.ActionClick:
		return "click", el.Click(proto.InputMouseButtonLeft, 1)

	case model.ActionFill, model.ActionType:
		return activatorFirstFill(ctx, el, info, intent)

	case model.ActionSelect:
		if err := el.Select([]string{intent.Value}, true, rod.SelectorTypeText); err != nil {
			return "", err
		}
		return "select", nil

	case model.ActionCheck, model.ActionUncheck:
		return toggleCheckbox(el, intent.Action == model.ActionCheck)

	case model.ActionHover:
		return "hover", el.Hover()

	case model.ActionFocus:
		return "focus", el.Focus()

	case model.ActionPress:
		return autocompleteAwarePress(ctx, d, el, intent)

	case model.ActionNavigate:
		return "navigate", d.Navigate(ctx, intent.Value)

	case model.ActionWait:
		return "wait", nil

	default:
		return "", fmt.Errorf("unhandled action %q", intent.Action)
	}
}

// revealedInputJS finds a visible, enabled input inside the activator's own
// panel: the activator's subtree first, then whatever it points at via
// aria-controls/aria-owns, then its parent container. Never the whole page —
// a persistent header search box elsewhere must not win over the input the
// activator just revealed.
const revealedInputJS = `() => {
	const visible = (i) => {
		const r = i.getBoundingClientRect();
		const s = getComputedStyle(i);
		return r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none";
	};
	const find = (root) => {
		if (!root) return null;
		return Array.from(root.querySelectorAll('input:not([type="hidden"]):not([disabled]), textarea:not([disabled])')).find(visible) || null;
	};
	const owns = this.getAttribute("aria-controls") || this.getAttribute("aria-owns");
	return find(this) || (owns ? find(document.getElementById(owns)) : null) || find(this.parentElement);
}`

// activatorFirstFill implements spec.md §4.4's activator-first fill: a
// button/combobox resolving to a fill intent is treated as an activator
// that must be opened before the real input is reachable.
func activatorFirstFill(ctx context.Context, el *rod.Element, info elementInfo, intent model.Intent) (string, error) {
	isActivator := info.Tag == "button" || info.Role == "combobox"
	if !isActivator {
		if err := el.Input(intent.Value); err != nil {
			return "", err
		}
		return "fill_direct", nil
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("click activator: %w", err)
	}

	revealed := waitForRevealedInput(ctx, el, activatorRevealTimeout)
	if revealed == nil {
		logging.ExecWarn("activator %q did not reveal an input within %s, filling activator itself", intent.ElementName, activatorRevealTimeout)
		if err := el.Input(intent.Value); err != nil {
			return "", err
		}
		return "fill_direct", nil
	}

	if err := revealed.Input(intent.Value); err != nil {
		return "", err
	}
	return "fill_activator", nil
}

// waitForRevealedInput polls the activator's panel for a fillable input
// until timeout; nil means nothing appeared.
func waitForRevealedInput(ctx context.Context, el *rod.Element, timeout time.Duration) *rod.Element {
	deadline := time.Now().Add(timeout)
	for {
		if revealed, err := el.ElementByJS(&rod.EvalOptions{JS: revealedInputJS}); err == nil && revealed != nil {
			return revealed
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// toggleCheckbox clicks the checkbox/radio only if its current checked
// state doesn't already match the desired state.
func toggleCheckbox(el *rod.Element, desired bool) (string, error) {
	res, err := el.Eval(`() => !!this.checked`)
	if err != nil {
		return "", err
	}
	if res.Value.Bool() == desired {
		return "checkbox_noop", nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", err
	}
	return "checkbox_toggle", nil
}

// listboxOpenJS detects an active autocomplete suggestion panel (spec.md
// §4.4 autocomplete bypass).
const listboxOpenJS = `() => {
	const guard = (el) => {
		const r = el.getBoundingClientRect();
		const s = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none";
	};
	return Array.from(document.querySelectorAll('[role="listbox"], .autocomplete-suggestions, .suggestions-list')).some(guard);
}`

// submitHints is the site-hint list of conventional submit button locators
// tried before falling back to the ancestor form (spec.md §4.4 step 1).
var submitHints = []string{"#searchButton", `button[type="submit"]`, `input[type="submit"]`}

// autocompleteAwarePress implements spec.md §4.4's press/Enter autocomplete
// bypass ladder: if a suggestion panel is open, prefer clicking a real
// submit control over pressing Enter into the focused suggestion.
func autocompleteAwarePress(ctx context.Context, d Driver, el *rod.Element, intent model.Intent) (string, error) {
	var listboxOpen bool
	if err := d.EvalJSON(ctx, listboxOpenJS, &listboxOpen); err != nil {
		listboxOpen = false
	}
	if !listboxOpen {
		return "press_key", d.PressKey(ctx, keyFor(intent.Value))
	}

	for _, hint := range submitHints {
		if btn, err := d.Element(ctx, hint); err == nil && btn != nil {
			if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
				return "submit_button_hint", nil
			}
		}
	}

	if form, err := el.Eval(`() => !!this.closest("form")`); err == nil && form.Value.Bool() {
		if submitted, err := el.Eval(`() => { const f = this.closest("form"); const b = f && f.querySelector('button[type="submit"], input[type="submit"]'); if (b) { b.click(); return true; } return false; }`); err == nil && submitted.Value.Bool() {
			return "ancestor_form_submit_button", nil
		}
		if _, err := el.Eval(`() => { const f = this.closest("form"); if (f) { f.requestSubmit ? f.requestSubmit() : f.submit(); return true; } return false; }`); err == nil {
			return "native_form_submit", nil
		}
	}

	return "press_key_bypass", d.PressKey(ctx, keyFor(intent.Value))
}

// keyFor maps an intent value naming a key ("Enter", "Tab", ...) to rod's
// input.Key, defaulting to Enter since press is overwhelmingly used for
// form submission (spec.md §4.4).
func keyFor(value string) input.Key {
	switch value {
	case "Tab":
		return input.Tab
	case "Escape":
		return input.Escape
	default:
		return input.Enter
	}
}
