package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	defaultWait         = time.Second
	defaultScrollAmount = 600
	maxElements         = 150
)

// Runner executes chromedp actions against a tab.
type Runner func(ctx context.Context, actions ...chromedp.Action) error

// handler implements one tool. It returns the tool's data payload.
type handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Adapter implements schemas.ToolAdapter on top of one chromedp tab.
type Adapter struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	run      Runner
	handlers map[string]handler
	close    func()
}

var _ schemas.ToolAdapter = (*Adapter)(nil)

// NewAdapter wires the tool handlers to run. close is called by Close and may be nil.
func NewAdapter(logger *zap.Logger, cfg config.BrowserConfig, run Runner, close func()) *Adapter {
	a := &Adapter{
		logger: logger.Named("browser"),
		cfg:    cfg,
		run:    run,
		close:  close,
	}
	a.handlers = map[string]handler{
		schemas.ToolNavigate:        a.handleNavigate,
		schemas.ToolClick:           a.handleClick,
		schemas.ToolType:            a.handleType,
		schemas.ToolScroll:          a.handleScroll,
		schemas.ToolWait:            a.handleWait,
		schemas.ToolWaitForSelector: a.handleWaitForSelector,
		schemas.ToolObserve:         a.handleObserve,
		schemas.ToolGetPageInfo:     a.handleGetPageInfo,
		schemas.ToolExtract:         a.handleExtract,
		schemas.ToolScreenshot:      a.handleScreenshot,
		schemas.ToolGoBack:          a.handleGoBack,
		schemas.ToolPressKey:        a.handlePressKey,
		schemas.ToolSelect:          a.handleSelect,
	}
	return a
}

// Tools lists the tool names this adapter understands.
func (a *Adapter) Tools() []string {
	out := make([]string, 0, len(a.handlers))
	for name := range a.handlers {
		out = append(out, name)
	}
	return out
}

// Close releases the tab.
func (a *Adapter) Close() {
	if a.close != nil {
		a.close()
	}
}

// Execute implements schemas.ToolAdapter. It never panics and never returns
// an error; every failure becomes Success=false with an ErrorCode.
func (a *Adapter) Execute(ctx context.Context, tool string, args map[string]interface{}) (res schemas.ToolResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered from panic in browser tool.", zap.String("tool", tool), zap.Any("panic", r), zap.Stack("stack"))
			res = schemas.ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("browser tool %s panicked: %v", tool, r),
				ErrorCode: schemas.ErrCodeAdapterPanic,
			}
		}
		res.Duration = time.Since(start)
	}()

	h, ok := a.handlers[tool]
	if !ok {
		return schemas.ToolResult{Error: fmt.Sprintf("unknown tool: %s", tool), ErrorCode: schemas.ErrCodeUnknownTool}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	timeout := a.cfg.ActionTimeout
	if tool == schemas.ToolNavigate || tool == schemas.ToolGoBack {
		timeout = a.cfg.NavigationTimeout
	}
	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := h(opCtx, args)
	if err != nil {
		code := ClassifyError(err)
		a.logger.Warn("Browser tool failed.", zap.String("tool", tool), zap.String("error_code", string(code)), zap.Error(err))
		return schemas.ToolResult{Error: err.Error(), ErrorCode: code}
	}
	return schemas.ToolResult{Success: true, Data: data}
}

// -- Argument helpers --

func stringArg(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func requireString(args map[string]interface{}, key string) (string, error) {
	if s := stringArg(args, key); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", errMissingArg, key)
}

// intArg accepts the numeric shapes JSON decoding produces.
func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	}
	return false
}

// durationArg reads milliseconds from "ms", "timeout" or "duration".
func durationArg(args map[string]interface{}, def time.Duration) time.Duration {
	for _, key := range []string{"ms", "timeout", "duration"} {
		if n := intArg(args, key, -1); n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

// -- Handlers --

func (a *Adapter) handleNavigate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url, err := requireString(args, "url")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") {
		url = "https://" + url
	}
	if err := a.run(ctx, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return a.pageInfo(ctx)
}

func (a *Adapter) handleClick(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if selector := stringArg(args, "selector"); selector != "" {
		err := a.run(ctx,
			chromedp.WaitVisible(selector, chromedp.ByQuery),
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.Click(selector, chromedp.ByQuery),
		)
		if err != nil {
			return nil, fmt.Errorf("click on selector %q failed: %w", selector, err)
		}
		return map[string]interface{}{"selector": selector}, nil
	}

	text, err := requireString(args, "text")
	if err != nil {
		return nil, fmt.Errorf("%w: selector or text", errMissingArg)
	}
	var clicked string
	if err := a.run(ctx, evaluate(fmt.Sprintf(clickByTextScript, jsonEncode(text)), &clicked)); err != nil {
		return nil, fmt.Errorf("click on text %q failed: %w", text, err)
	}
	if clicked == "" {
		return nil, fmt.Errorf("%w: %q", errNoMatchByText, text)
	}
	return map[string]interface{}{"text": text, "element": clicked}, nil
}

func (a *Adapter) handleType(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := requireString(args, "selector")
	if err != nil {
		return nil, err
	}
	// The typed text is not trimmed.
	text, _ := args["text"].(string)

	actions := []chromedp.Action{chromedp.WaitVisible(selector, chromedp.ByQuery)}
	if !boolArg(args, "append") {
		actions = append(actions, chromedp.Clear(selector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	if boolArg(args, "submit") {
		actions = append(actions, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
	}
	if err := a.run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("typing into selector %q failed: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector, "length": len([]rune(text))}, nil
}

func (a *Adapter) handleScroll(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	amount := intArg(args, "amount", defaultScrollAmount)
	if strings.EqualFold(stringArg(args, "direction"), "up") {
		amount = -amount
	}
	if selector := stringArg(args, "selector"); selector != "" {
		if err := a.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery)); err != nil {
			return nil, fmt.Errorf("scroll to selector %q failed: %w", selector, err)
		}
		return map[string]interface{}{"selector": selector}, nil
	}
	var y float64
	if err := a.run(ctx, evaluate(fmt.Sprintf("window.scrollBy(0, %d); window.scrollY", amount), &y)); err != nil {
		return nil, fmt.Errorf("scroll failed: %w", err)
	}
	return map[string]interface{}{"scrollY": y}, nil
}

func (a *Adapter) handleWait(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	d := durationArg(args, defaultWait)
	if err := a.run(ctx, chromedp.Sleep(d)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"waited_ms": d.Milliseconds()}, nil
}

func (a *Adapter) handleWaitForSelector(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := requireString(args, "selector")
	if err != nil {
		return nil, err
	}
	if d := durationArg(args, 0); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := a.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("waiting for selector %q failed: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector}, nil
}

// pageSnapshot is the decoded result of observeScript.
type pageSnapshot struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	ReadyState string            `json:"readyState"`
	Elements   []snapshotElement `json:"elements"`
}

type snapshotElement struct {
	Selector     string               `json:"selector"`
	Tag          string               `json:"tag"`
	Text         string               `json:"text"`
	Attributes   map[string]string    `json:"attributes"`
	Visible      bool                 `json:"visible"`
	Interactable bool                 `json:"interactable"`
	Box          *schemas.BoundingBox `json:"box"`
}

func (a *Adapter) handleObserve(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var snap pageSnapshot
	var html string
	if err := a.run(ctx,
		evaluate(fmt.Sprintf(observeScript, maxElements), &snap),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("observe failed: %w", err)
	}

	obs := toObservation(snap, html, a.cfg.MaxDOMSnapshot)
	if a.cfg.CaptureScreenshots || boolArg(args, "screenshot") {
		shot, err := a.screenshot(ctx)
		if err != nil {
			a.logger.Debug("Screenshot during observe failed.", zap.Error(err))
		} else {
			obs.Screenshot = shot
		}
	}
	return obs, nil
}

// toObservation converts the raw snapshot, truncating the DOM to maxDOM runes.
func toObservation(snap pageSnapshot, html string, maxDOM int) *schemas.Observation {
	if maxDOM > 0 {
		if r := []rune(html); len(r) > maxDOM {
			html = string(r[:maxDOM])
		}
	}
	obs := &schemas.Observation{
		Timestamp:       time.Now(),
		URL:             snap.URL,
		Title:           snap.Title,
		DOMSnapshot:     html,
		VisibleElements: make([]schemas.ElementInfo, 0, len(snap.Elements)),
		LoadState:       toLoadState(snap.ReadyState),
	}
	for _, el := range snap.Elements {
		obs.VisibleElements = append(obs.VisibleElements, schemas.ElementInfo{
			Selector:       el.Selector,
			Tag:            el.Tag,
			Text:           el.Text,
			Attributes:     el.Attributes,
			IsVisible:      el.Visible,
			IsInteractable: el.Interactable,
			BoundingBox:    el.Box,
		})
	}
	return obs
}

func toLoadState(readyState string) schemas.LoadState {
	switch readyState {
	case "loading":
		return schemas.LoadStateLoading
	case "interactive":
		return schemas.LoadStateInteractive
	case "complete":
		return schemas.LoadStateComplete
	}
	return ""
}

func (a *Adapter) handleGetPageInfo(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return a.pageInfo(ctx)
}

func (a *Adapter) pageInfo(ctx context.Context) (*schemas.PageInfo, error) {
	var url, title, readyState string
	if err := a.run(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		evaluate("document.readyState", &readyState),
	); err != nil {
		return nil, fmt.Errorf("reading page info failed: %w", err)
	}
	return &schemas.PageInfo{URL: url, Title: title, LoadState: toLoadState(readyState)}, nil
}

func (a *Adapter) handleExtract(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector := stringArg(args, "selector")
	if selector == "" {
		selector = "body"
	}
	attr := stringArg(args, "attribute")
	var values []string
	script := fmt.Sprintf(extractScript, jsonEncode(selector), jsonEncode(attr))
	if err := a.run(ctx, evaluate(script, &values)); err != nil {
		return nil, fmt.Errorf("extract from selector %q failed: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector, "count": len(values), "values": values}, nil
}

func (a *Adapter) handleScreenshot(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	shot, err := a.screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"format": "png", "data": shot}, nil
}

func (a *Adapter) screenshot(ctx context.Context) (string, error) {
	var buf []byte
	err := a.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (a *Adapter) handleGoBack(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := a.run(ctx, chromedp.NavigateBack()); err != nil {
		return nil, fmt.Errorf("navigation back failed: %w", err)
	}
	return a.pageInfo(ctx)
}

// keyNames maps the names an LLM is likely to produce to chromedp key codes.
var keyNames = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

// resolveKey returns the key sequence for a name, or the name itself when it
// is a single character.
func resolveKey(name string) (string, bool) {
	if k, ok := keyNames[strings.ToLower(strings.ReplaceAll(name, " ", ""))]; ok {
		return k, true
	}
	if len([]rune(name)) == 1 {
		return name, true
	}
	return "", false
}

func (a *Adapter) handlePressKey(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, err := requireString(args, "key")
	if err != nil {
		return nil, err
	}
	key, ok := resolveKey(name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key %q", errMissingArg, name)
	}
	if err := a.run(ctx, chromedp.KeyEvent(key)); err != nil {
		return nil, fmt.Errorf("pressing key %q failed: %w", name, err)
	}
	return map[string]interface{}{"key": name}, nil
}

func (a *Adapter) handleSelect(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := requireString(args, "selector")
	if err != nil {
		return nil, err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return nil, err
	}
	var problem string
	script := fmt.Sprintf(selectScript, jsonEncode(selector), jsonEncode(value))
	if err := a.run(ctx, evaluate(script, &problem)); err != nil {
		return nil, fmt.Errorf("select on %q failed: %w", selector, err)
	}
	if problem != "" {
		return nil, fmt.Errorf("select on %q failed: %s", selector, problem)
	}
	return map[string]interface{}{"selector": selector, "value": value}, nil
}

// evaluate runs a script and waits for promises to settle.
func evaluate(script string, res interface{}) chromedp.Action {
	return chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithReturnByValue(true)
	})
}
