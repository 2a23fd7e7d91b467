package discovery

import (
	"context"
	"fmt"
	"strings"

	"pacts/internal/model"
)

// scopeRootJS resolves the query root: the whole document, or the element
// matching scope if one was passed in.
func scopeRootJS(scope string) string {
	if scope == "" {
		return "document"
	}
	return fmt.Sprintf("document.querySelector(%s)", jsString(scope))
}

func jsString(s string) string {
	return "\"" + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + "\""
}

// jsStringList renders a Go string slice as a JS array-of-strings literal.
func jsStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = jsString(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// selectorForJS turns whatever DOM node matched into a durable CSS selector,
// preferring stable attributes over a structural path (spec.md §4.2: the
// waterfall's job is to find the element; this closes the loop so the
// result is still replayable without re-running the match next time).
const selectorForJS = `() => {
	const el = this;
	const testAttrs = ["data-testid", "data-test", "data-cy", "data-qa"];
	for (const a of testAttrs) {
		const v = el.getAttribute(a);
		if (v) return "[" + a + "=\"" + v + "\"]";
	}
	if (el.id) return "#" + CSS.escape(el.id);
	if (el.getAttribute("name")) return el.tagName.toLowerCase() + "[name=\"" + el.getAttribute("name") + "\"]";
	let path = [];
	let node = el;
	for (let i = 0; i < 4 && node && node.nodeType === 1 && node.tagName !== "BODY"; i++) {
		let step = node.tagName.toLowerCase();
		const parent = node.parentElement;
		if (parent) {
			const siblings = Array.from(parent.children).filter(c => c.tagName === node.tagName);
			if (siblings.length > 1) step += ":nth-of-type(" + (siblings.indexOf(node) + 1) + ")";
		}
		path.unshift(step);
		node = parent;
	}
	return path.join(" > ");
}`

// guardJS is the shared visibility/actionability guardrail every tier's
// candidate has to pass before it is considered a match (spec.md §4.2
// "semantic guardrails"): attached to the document, not aria-hidden, and
// actually rendered.
const guardJS = `(el) => {
	if (!el || !el.isConnected) return false;
	if (el.closest("[aria-hidden=\"true\"]")) return false;
	const r = el.getBoundingClientRect();
	const style = getComputedStyle(el);
	return r.width > 0 && r.height > 0 && style.visibility !== "hidden" && style.display !== "none";
}`

// matchJS is the boolean fuzzy comparator used only for container/scope
// matching (scope.go), where the candidate order is already a fixed
// priority list (dialog > form > region) and ranking within a container
// kind buys nothing. Element tiers use pickBestJS instead.
const matchJS = `(a, b) => {
	const norm = (s) => (s || "").toLowerCase().trim().replace(/\s+/g, " ");
	a = norm(a); b = norm(b);
	if (!a || !b) return false;
	return a === b || a.includes(b) || b.includes(a);
}`

// normJS and matchRankJS are the two halves of the ranked fuzzy comparator
// every element tier uses: normalize, then grade a candidate against the
// target as exact (3) > prefix either direction (2) > substring either
// direction (1) > no match (0). Mirrored in Go by matchRank (discovery.go)
// so the grading rule is unit-testable without a browser.
const normJS = `(s) => (s || "").toLowerCase().trim().replace(/\s+/g, " ")`

const matchRankJS = `(c, t) => {
	if (!c || !t) return 0;
	if (c === t) return 3;
	if (c.startsWith(t) || t.startsWith(c)) return 2;
	if (c.includes(t) || t.includes(c)) return 1;
	return 0;
}`

// pickBestJS selects among admissible candidates with the full three-part
// tie-break (spec.md §4.2): higher match rank first, then shorter matched
// text, then earlier document order. querySelectorAll enumerates in document
// order, so keeping the first strictly-better candidate preserves the
// document-order tie-break.
var pickBestJS = fmt.Sprintf(`(els, textOf, target) => {
	const norm = %s;
	const rank = %s;
	const t = norm(target);
	let best = null, bestRank = 0, bestLen = Infinity;
	for (const el of els) {
		const c = norm(textOf(el));
		const r = rank(c, t);
		if (r === 0) continue;
		if (r > bestRank || (r === bestRank && c.length < bestLen)) {
			best = el;
			bestRank = r;
			bestLen = c.length;
		}
	}
	return best;
}`, normJS, matchRankJS)

// fillRejectJS is the shared tag/type rejection list for a `fill`/`type`
// intent (spec.md §4.2 "semantic guardrails", §4.4 "Fillable-element
// filter"): input types that can never hold free text, plus select/button
// tags that resolve to the wrong control on a search bar with an adjacent
// category dropdown.
const fillRejectJS = `(el) => {
	const tag = el.tagName.toLowerCase();
	if (tag === "select" || tag === "button") return true;
	if (tag === "input") {
		const t = (el.getAttribute("type") || "text").toLowerCase();
		if (t === "range" || t === "color" || t === "file") return true;
	}
	return false;
}`

// isFillAction reports whether action should apply the fillable-element
// guard.
func isFillAction(action model.Action) bool {
	return action == model.ActionFill || action == model.ActionType
}

// attrTierJS builds a query that scans elements carrying attr, filters them
// through the shared guard (and the fillable guard for fill/type intents,
// spec.md §4.2 semantic guardrails), and picks the best ranked match.
func attrTierJS(scope, attr, target string, action model.Action) string {
	rejectCheck := ""
	if isFillAction(action) {
		rejectCheck = fmt.Sprintf(`if ((%s)(el)) return false;`, fillRejectJS)
	}
	return fmt.Sprintf(`() => {
		const guard = %s;
		const pick = %s;
		const root = %s;
		if (!root) return null;
		const candidates = Array.from(root.querySelectorAll("[%s]")).filter((el) => {
			if (!guard(el)) return false;
			%s
			return true;
		});
		return pick(candidates, (el) => el.getAttribute("%s"), %s);
	}`, guardJS, pickBestJS, scopeRootJS(scope), attr, rejectCheck, attr, jsString(target))
}

// resolveSelector runs q.ElementByJS(js) and, on a hit, asks the element for
// its own durable selector via selectorForJS.
func resolveSelector(ctx context.Context, q Querier, js string, strategy model.Strategy, tier int, stable bool, matchedText string) (*model.SelectorRecord, error) {
	el, err := q.ElementByJS(ctx, js)
	if err != nil {
		return nil, nil // not found is not an error; let the waterfall continue
	}
	if el == nil {
		return nil, nil
	}
	res, err := el.Eval(selectorForJS)
	if err != nil {
		return nil, fmt.Errorf("compute selector: %w", err)
	}
	sel := res.Value.Str()
	if sel == "" {
		return nil, nil
	}
	return &model.SelectorRecord{
		Selector: sel,
		Score:    model.BaseScore(strategy),
		Strategy: strategy,
		Stable:   stable,
		Meta: model.SelectorMeta{
			Tier:        tier,
			MatchedText: matchedText,
		},
	}, nil
}

// ariaLabelBannedTokens reject an aria-label match outright regardless of
// tier or action — these mark a control unrelated to any user-facing
// intent (a resize handle, a column splitter) that happens to share
// vocabulary with the requested element name (spec.md §4.2 "semantic
// guardrails").
var ariaLabelBannedTokens = []string{"column width", "resize", "splitter"}

// ariaLabelAllowSuffixes disambiguates a non-exact aria-label match: a
// substring/fuzzy hit is only accepted if the label ends in one of these
// suffix nouns (spec.md §4.2 "positive allowlist of suffix nouns"). An
// exact match always passes regardless.
var ariaLabelAllowSuffixes = []string{"field", "input", "button", "search", "box"}

func ariaLabelTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	rejectCheck := ""
	if isFillAction(intent.Action) {
		rejectCheck = fmt.Sprintf(`if ((%s)(el)) return false;`, fillRejectJS)
	}
	js := fmt.Sprintf(`() => {
		const guard = %s;
		const pick = %s;
		const norm = %s;
		const root = %s;
		if (!root) return null;
		const banned = %s;
		const allowSuffixes = %s;
		const target = norm(%s);
		const candidates = Array.from(root.querySelectorAll("[aria-label]")).filter((el) => {
			if (!guard(el)) return false;
			%s
			const label = norm(el.getAttribute("aria-label"));
			if (banned.some((b) => label.includes(b))) return false;
			if (label !== target && !allowSuffixes.some((suf) => label.endsWith(suf))) return false;
			return true;
		});
		return pick(candidates, (el) => el.getAttribute("aria-label"), %s);
	}`, guardJS, pickBestJS, normJS, scopeRootJS(scope), jsStringList(ariaLabelBannedTokens), jsStringList(ariaLabelAllowSuffixes),
		jsString(intent.ElementName), rejectCheck, jsString(intent.ElementName))
	return resolveSelector(ctx, q, js, model.StrategyAriaLabel, model.Tier(model.StrategyAriaLabel), true, intent.ElementName)
}

func ariaPlaceholderTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	js := attrTierJS(scope, "aria-placeholder", intent.ElementName, intent.Action)
	return resolveSelector(ctx, q, js, model.StrategyAriaPlaceholder, model.Tier(model.StrategyAriaPlaceholder), true, intent.ElementName)
}

func nameAttrTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	js := attrTierJS(scope, "name", intent.ElementName, intent.Action)
	return resolveSelector(ctx, q, js, model.StrategyNameAttr, model.Tier(model.StrategyNameAttr), true, intent.ElementName)
}

func placeholderTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	js := attrTierJS(scope, "placeholder", intent.ElementName, intent.Action)
	return resolveSelector(ctx, q, js, model.StrategyPlaceholder, model.Tier(model.StrategyPlaceholder), true, intent.ElementName)
}

func dataTestAttrTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	for _, attr := range []string{"data-testid", "data-test", "data-cy", "data-qa"} {
		js := attrTierJS(scope, attr, intent.ElementName, intent.Action)
		rec, err := resolveSelector(ctx, q, js, model.StrategyDataTestAttr, model.Tier(model.StrategyDataTestAttr), true, intent.ElementName)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

// labelForTier ranks <label> elements whose text fuzzy-matches the intent,
// then resolves the best one's control via its `for` attribute (spec.md §4.2
// tier 5). Labels whose control fails the guard/reject filters are excluded
// before ranking so a dead label can't shadow a live one.
func labelForTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	rejectCheck := ""
	if isFillAction(intent.Action) {
		rejectCheck = fmt.Sprintf(`if ((%s)(target)) return false;`, fillRejectJS)
	}
	js := fmt.Sprintf(`() => {
		const guard = %s;
		const pick = %s;
		const root = %s;
		if (!root) return null;
		const resolve = (label) => {
			const forId = label.getAttribute("for");
			if (forId) return document.getElementById(forId);
			return label.querySelector("input, select, textarea, button");
		};
		const labels = Array.from(root.querySelectorAll("label")).filter((label) => {
			const target = resolve(label);
			if (!target || !guard(target)) return false;
			%s
			return true;
		});
		const best = pick(labels, (label) => label.textContent, %s);
		return best ? resolve(best) : null;
	}`, guardJS, pickBestJS, scopeRootJS(scope), rejectCheck, jsString(intent.ElementName))
	return resolveSelector(ctx, q, js, model.StrategyLabelFor, model.Tier(model.StrategyLabelFor), true, intent.ElementName)
}

// roleImplicitTags maps an ARIA role to the native HTML tags/attributes that
// carry it implicitly, so a role query also catches elements that never
// bothered to set role="..." explicitly. Shared by roleAccessibleNameTier
// (tier 6) and the ordinal tier, both of which resolve an Action/type hint
// to a role first and a concrete element second.
var roleImplicitTags = map[string][]string{
	"button":    {"button"},
	"link":      {"a[href]"},
	"checkbox":  {`input[type="checkbox"]`},
	"radio":     {`input[type="radio"]`},
	"textbox":   {`input[type="text"]`, "textarea", `input:not([type])`},
	"searchbox": {`input[type="search"]`},
	"combobox":  {"select"},
	"listitem":  {"li"},
	"article":   {"article"},
	"img":       {"img"},
	"option":    {"option"},
	"row":       {"tr"},
}

// roleAccessibleNameTier matches a role drawn from the intent's Action
// against the accessible name (aria-label, or text content as fallback)
// (spec.md §4.2 tier 6). Volatile: the computed accessible name depends on
// rendering, not an author-supplied attribute, so it's never cached.
//
// Deliberately exempt from the fill-action select/button guardrail the
// other tiers apply: for a fill intent, this tier's combobox role is how a
// non-<select> activator widget gets discovered at all, and the Executor's
// activator-first fill pattern (spec.md §4.4) depends on that element
// reaching it un-rejected.
func roleAccessibleNameTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	roles := actionRoles[intent.Action]
	if len(roles) == 0 {
		roles = []string{"button", "link"}
	}
	roleSelector := make([]string, len(roles))
	for i, r := range roles {
		roleSelector[i] = fmt.Sprintf(`[role="%s"]`, r)
	}
	var tags []string
	for _, r := range roles {
		tags = append(tags, roleImplicitTags[r]...)
	}
	selectorList := append(append([]string{}, roleSelector...), tags...)

	js := fmt.Sprintf(`() => {
		const guard = %s;
		const pick = %s;
		const root = %s;
		if (!root) return null;
		const accName = (el) => el.getAttribute("aria-label") || el.getAttribute("alt") || el.getAttribute("title") || (el.textContent || "").trim();
		const candidates = Array.from(root.querySelectorAll(%s)).filter(guard);
		return pick(candidates, accName, %s);
	}`, guardJS, pickBestJS, scopeRootJS(scope), jsString(strings.Join(selectorList, ", ")), jsString(intent.ElementName))

	return resolveSelector(ctx, q, js, model.StrategyRoleAccName, model.Tier(model.StrategyRoleAccName), false, intent.ElementName)
}

// idClassTier is the last-resort tier: a ranked match of the intent's
// element name against id or class (spec.md §4.2 tier 8). Each element is
// graded on whichever of its two texts matches better, under the same
// three-part tie-break pickBestJS applies. Volatile.
func idClassTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	rejectCheck := ""
	if isFillAction(intent.Action) {
		rejectCheck = fmt.Sprintf(`if ((%s)(el)) continue;`, fillRejectJS)
	}
	js := fmt.Sprintf(`() => {
		const guard = %s;
		const norm = %s;
		const rank = %s;
		const root = %s;
		if (!root) return null;
		const t = norm(%s);
		let best = null, bestRank = 0, bestLen = Infinity;
		for (const el of Array.from(root.querySelectorAll("[id], [class]"))) {
			if (!guard(el)) continue;
			%s
			for (const c of [norm(el.id), norm(el.className && el.className.toString())]) {
				const r = rank(c, t);
				if (r === 0) continue;
				if (r > bestRank || (r === bestRank && c.length < bestLen)) {
					best = el;
					bestRank = r;
					bestLen = c.length;
				}
			}
		}
		return best;
	}`, guardJS, normJS, matchRankJS, scopeRootJS(scope), jsString(intent.ElementName), rejectCheck)
	return resolveSelector(ctx, q, js, model.StrategyIDClass, model.Tier(model.StrategyIDClass), false, intent.ElementName)
}

// ordinalRoleHints maps a word that can appear in an ordinal intent's type
// hint ("the first video result" -> ElementTypeHint "video result") to the
// accessibility role spec.md §4.2's ordinal tier enumerates (spec.md's own
// examples: video|result|link->link, item->listitem, card|article|post->
// article). The hint is a free-text noun phrase, not a single token, so
// ordinalRole scans it word by word rather than requiring an exact key.
var ordinalRoleHints = map[string]string{
	"video":    "link",
	"result":   "link",
	"link":     "link",
	"item":     "listitem",
	"card":     "article",
	"article":  "article",
	"post":     "article",
	"button":   "button",
	"option":   "option",
	"row":      "row",
	"checkbox": "checkbox",
	"radio":    "radio",
	"image":    "img",
	"photo":    "img",
}

// ordinalRoleDefault is the role an unrecognized type hint falls back to:
// most ordinal intents ("the 2nd result", "the 3rd item") pick among a list
// of navigable entries, which in practice render as anchors.
const ordinalRoleDefault = "link"

// ordinalRole maps typeHint to an accessibility role (spec.md §4.2). It
// checks the hint's words from last to first, since English noun phrases
// put the head noun last ("video result" -> "result" -> link), and falls
// back to ordinalRoleDefault when nothing in the hint is recognized.
func ordinalRole(typeHint string) string {
	words := strings.Fields(strings.ToLower(typeHint))
	for i := len(words) - 1; i >= 0; i-- {
		if role, ok := ordinalRoleHints[words[i]]; ok {
			return role
		}
	}
	return ordinalRoleDefault
}

// ordinalTier preempts the waterfall when the intent carries an explicit
// Ordinal ("the 2nd Add to cart button"): it maps the type hint to an
// accessibility role, enumerates all elements of that role in document
// order within scope, then selects the 0-based position among them
// (spec.md §4.2). Never cached (spec.md §4.2, §8 invariant 7): the result
// carries Stable=false via resolveSelector's stable=false argument.
func ordinalTier(ctx context.Context, q Querier, intent model.Intent, scope string) (*model.SelectorRecord, error) {
	role := ordinalRole(intent.ElementTypeHint)
	selectorList := append([]string{fmt.Sprintf(`[role="%s"]`, role)}, roleImplicitTags[role]...)

	js := fmt.Sprintf(`() => {
		const guard = %s;
		const root = %s;
		if (!root) return null;
		const candidates = Array.from(root.querySelectorAll(%s)).filter(guard);
		const idx = %d;
		return candidates[idx] || null;
	}`, guardJS, scopeRootJS(scope), jsString(strings.Join(selectorList, ", ")), *intent.Ordinal)

	rec, err := resolveSelector(ctx, q, js, model.StrategyOrdinal, 0, false, intent.ElementName)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		ord := *intent.Ordinal
		rec.Meta.Ordinal = &ord
		rec.Meta.Role = role
	}
	return rec, nil
}
