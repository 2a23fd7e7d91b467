// Package browser wraps github.com/go-rod/rod into the single-page-per-run
// Driver the PACTS core drives (spec.md §2 Component 2, §5). Adapted from
// the session-holding launcher/connect chain in codenerd's
// internal/browser/session_manager.go, trimmed to the one-context-per-run
// model spec.md §5 requires instead of the teacher's multi-session registry.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"pacts/internal/logging"
)

// Config configures how the Driver launches or attaches to a browser.
type Config struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	StorageStatePath    string   `yaml:"storage_state_path"`

	// FingerprintMitigations installs the small set of automation-
	// fingerprint patches (navigator.webdriver, headless UA hints) on every
	// new document. Off by default; it is a mitigation set, not a
	// bot-detection bypass.
	FingerprintMitigations bool `yaml:"fingerprint_mitigations"`
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// browser.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      960,
		NavigationTimeoutMs: 30000,
	}
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Driver owns exactly one browser context for the lifetime of a single run
// (spec.md §5: "the browser context is exclusively owned by one run"). An
// incognito context per run keeps concurrent runs sharing one OS browser
// process from leaking cookies/storage into each other, the one layer of
// cross-origin isolation rod makes cheap (see SPEC_FULL.md §12).
type Driver struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	url     string
}

// Connect launches (or attaches to) a browser and opens one incognito page.
func Connect(ctx context.Context, cfg Config) (*Driver, error) {
	controlURL, err := resolveControlURL(cfg)
	if err != nil {
		return nil, err
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	incognito, err := b.Incognito()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportOr(cfg.ViewportWidth, 1280),
		Height:            viewportOr(cfg.ViewportHeight, 960),
		DeviceScaleFactor: 1,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}

	d := &Driver{cfg: cfg, browser: b, page: page}

	if cfg.FingerprintMitigations {
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{
			Source: fingerprintMitigationJS,
		}).Call(page); err != nil {
			logging.BrowserWarn("failed to install fingerprint mitigations: %v", err)
		}
	}

	if cfg.StorageStatePath != "" {
		if err := d.loadStorageState(cfg.StorageStatePath); err != nil {
			logging.BrowserWarn("failed to load storage state: %v", err)
		}
	}

	return d, nil
}

func viewportOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func resolveControlURL(cfg Config) (string, error) {
	if cfg.DebuggerURL != "" {
		return cfg.DebuggerURL, nil
	}

	l := launcher.New().Headless(cfg.Headless)
	if len(cfg.Launch) > 0 {
		l = l.Bin(cfg.Launch[0])
		for _, raw := range cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}

	url, err := l.Launch()
	if err != nil {
		// Fall back to the bare default launcher before giving up.
		fallback := launcher.New().Headless(cfg.Headless)
		alt, altErr := fallback.Launch()
		if altErr != nil {
			return "", fmt.Errorf("launch browser: %w (fallback: %v)", err, altErr)
		}
		return alt, nil
	}
	return url, nil
}

// Close tears down the page and browser.
func (d *Driver) Close() error {
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.browser != nil {
		return d.browser.Close()
	}
	return nil
}

// Navigate loads a URL and waits for the load event within the configured
// navigation timeout. POMBuilder calls this exactly once per run (spec.md §4.2).
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if d.page == nil {
		return ErrNotConnected
	}
	p := d.page.Context(ctx).Timeout(d.cfg.navigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	d.url = url
	return nil
}

// CurrentURL returns the last URL navigated to.
func (d *Driver) CurrentURL() string { return d.url }

// PageURL reads the page's live location. Unlike CurrentURL it observes
// click- and script-triggered navigations that never pass through Navigate,
// which is what the SPA navigation race (spec.md §4.4) needs to watch.
func (d *Driver) PageURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// HTML returns the current document's outer HTML, used by the profile
// detector (spec.md §4.6) to classify STATIC vs DYNAMIC.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// WaitIdle waits for the page's network to go idle, within budget. Soft-fail
// is permitted (spec.md §4.6 Stage 1): a timeout here is not reported as an
// error to the caller, only logged.
func (d *Driver) WaitIdle(ctx context.Context, budget time.Duration) {
	c, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	if err := d.page.Context(c).WaitIdle(budget); err != nil {
		logging.ReadinessDebug("DOM idle soft-fail: %v", err)
	}
}

// EvalOptions is re-exported so callers building query scripts don't need to
// import go-rod directly.
type EvalOptions = rod.EvalOptions

// Eval runs arbitrary JS in the page and returns the raw remote object, for
// callers that need more than EvalJSON's decode-into-out convenience.
func (d *Driver) Eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EvalJSON runs JS and unmarshals its JSON-serializable return value into out.
func (d *Driver) EvalJSON(ctx context.Context, js string, out any, args ...any) error {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal eval result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// ElementByJS resolves a DOM node via a JS expression that returns it,
// e.g. "() => document.querySelector(...)". Used by the discovery tiers
// (internal/discovery) to express fuzzy/role/ordinal matching that plain
// CSS cannot (spec.md §4.2).
func (d *Driver) ElementByJS(ctx context.Context, js string, args ...any) (*rod.Element, error) {
	return d.page.Context(ctx).ElementByJS(&rod.EvalOptions{JS: js, JSArgs: args})
}

// Element resolves a plain CSS selector.
func (d *Driver) Element(ctx context.Context, selector string) (*rod.Element, error) {
	return d.page.Context(ctx).Element(selector)
}

// Elements resolves all matches for a plain CSS selector (used by the
// actionability gate's "unique" check).
func (d *Driver) Elements(ctx context.Context, selector string) (rod.Elements, error) {
	return d.page.Context(ctx).Elements(selector)
}

// Screenshot captures the current page for artifact attachment (spec.md §6).
func (d *Driver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return d.page.Context(ctx).Screenshot(fullPage, nil)
}

// PressKey types a single key at the page level, independent of whatever
// element currently has focus. Used by the autocomplete-bypass pattern
// (spec.md §4.4 step 4) and OracleHealer's reveal stage (ESC dismissal,
// spec.md §4.5 step 1).
func (d *Driver) PressKey(ctx context.Context, key input.Key) error {
	return d.page.Context(ctx).Keyboard.Type(key)
}

// SaveStorageState snapshots cookies + localStorage/sessionStorage to disk
// for reuse by a later run against the same host (spec.md §6 Authentication
// state).
func (d *Driver) SaveStorageState(path string) error {
	cookies, err := proto.NetworkGetCookies{}.Call(d.page)
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}
	local, _ := d.page.Evaluate(&rod.EvalOptions{JS: snapshotStorageJS("localStorage"), ByValue: true, AwaitPromise: true})
	session, _ := d.page.Evaluate(&rod.EvalOptions{JS: snapshotStorageJS("sessionStorage"), ByValue: true, AwaitPromise: true})

	state := storageState{Cookies: cookies.Cookies}
	if local != nil && !local.Value.Nil() {
		state.LocalStorage = local.Value.String()
	}
	if session != nil && !session.Value.Nil() {
		state.SessionStorage = session.Value.String()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create storage state dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Driver) loadStorageState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse storage state: %w", err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
			SameSite: c.SameSite, Priority: c.Priority,
		})
	}
	if len(params) > 0 {
		if err := d.page.SetCookies(params); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}
	_, _ = d.page.Evaluate(&rod.EvalOptions{
		JS:           restoreStorageJS,
		JSArgs:       []any{state.LocalStorage, state.SessionStorage},
		ByValue:      true,
		AwaitPromise: true,
	})
	return nil
}

type storageState struct {
	Cookies        []*proto.NetworkCookie `json:"cookies"`
	LocalStorage   string                 `json:"local_storage"`
	SessionStorage string                 `json:"session_storage"`
}

func snapshotStorageJS(store string) string {
	return fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) { out[key] = %s.getItem(key); }
			return JSON.stringify(out);
		} catch (e) { return "{}"; }
	}`, store, store)
}

const restoreStorageJS = `
(local, session) => {
	try {
		Object.entries(JSON.parse(local || "{}")).forEach(([k, v]) => localStorage.setItem(k, v));
	} catch (e) {}
	try {
		Object.entries(JSON.parse(session || "{}")).forEach(([k, v]) => sessionStorage.setItem(k, v));
	} catch (e) {}
}
`

// fingerprintMitigationJS patches the most common automation tells before
// any page script runs: the webdriver flag and the empty plugin list that
// headless launches expose.
const fingerprintMitigationJS = `
Object.defineProperty(navigator, "webdriver", { get: () => undefined });
if (navigator.plugins && navigator.plugins.length === 0) {
	Object.defineProperty(navigator, "plugins", { get: () => [1, 2, 3] });
}
if (navigator.languages && navigator.languages.length === 0) {
	Object.defineProperty(navigator, "languages", { get: () => ["en-US", "en"] });
}
`

// ErrNotConnected is returned by operations requiring an active page when
// none has been established.
var ErrNotConnected = errors.New("browser: not connected")
