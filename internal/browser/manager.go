// Package browser adapts playwright to the engine's driver port.
package browser

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"chat-autopilot/pkg/logg"
	"chat-autopilot/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	browserManagerName = "BrowserManager"
	browserTracer      = "browser.manager"

	// Used when the caller's context carries no deadline.
	defaultCallTimeout = 15 * time.Second
)

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
}

// Manager starts playwright browsing contexts. Every Open yields an
// independent context that is torn down by the returned driver's Close.
type Manager struct {
	config *config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewManager(params Params) *Manager {
	return &Manager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, browserManagerName)),
		tracer: otel.Tracer(browserTracer),
	}
}

func (m *Manager) Open(ctx context.Context, opts entity.SessionOptions) (_ ports.Driver, err error) {
	const op = "Launch"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op,
		attribute.Bool("headless", m.config.BrowserConfig.Headless),
		attribute.Bool("persistent", m.config.BrowserConfig.UserDataDir != ""),
	)
	defer func() {
		step.End(err)
	}()

	if m.config.BrowserConfig.InstallDriver {
		step.AddEvent("installing playwright")

		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, launchErr(op, "playwright_install_failed", err)
		}
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return nil, launchErr(op, "playwright_start_failed", err)
	}

	d := &Driver{
		playwright: pw,
		logger:     m.logger,
		persistent: m.config.BrowserConfig.UserDataDir != "",
	}

	if d.persistent {
		err = m.launchPersistent(d, opts)
	} else {
		err = m.launchNew(d, opts)
	}
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	if err := d.AddCookies(ctx, opts.Cookies); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}

	logger.Info("Browser launched successfully", zap.Int("cookies", len(opts.Cookies)))

	return d, nil
}

func (m *Manager) launchPersistent(d *Driver, opts entity.SessionOptions) error {
	const op = "launchPersistent"

	userDataDir := m.config.BrowserConfig.UserDataDir

	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return launchErr(op, "mkdir_failed", err)
	}

	browserContext, err := d.playwright.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:            playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Viewport:          &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight},
		UserAgent:         playwright.String(opts.UserAgent),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.Timezone),
		Args:              launchArgs,
	})
	if err != nil {
		return launchErr(op, "launch_persistent_failed", err)
	}
	d.context = browserContext

	if pages := browserContext.Pages(); len(pages) > 0 {
		d.page = pages[0]
		return nil
	}

	page, err := browserContext.NewPage()
	if err != nil {
		return launchErr(op, "new_page_failed", err)
	}
	d.page = page

	return nil
}

func (m *Manager) launchNew(d *Driver, opts entity.SessionOptions) error {
	const op = "launchNew"

	browser, err := d.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Args:     launchArgs,
	})
	if err != nil {
		return launchErr(op, "browser_launch_failed", err)
	}
	d.browser = browser

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight},
		UserAgent:         playwright.String(opts.UserAgent),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.Timezone),
	})
	if err != nil {
		return launchErr(op, "context_create_failed", err)
	}
	d.context = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		return launchErr(op, "page_create_failed", err)
	}
	d.page = page

	return nil
}

// Driver is one playwright browsing context with a single page.
type Driver struct {
	playwright *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	page       playwright.Page
	logger     *zap.Logger
	persistent bool

	closeOnce sync.Once
	closeErr  error
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	const op = "playwright.Navigate"

	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeoutMillis(ctx)),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, playwright.ErrTimeout) {
		return apperr.Wrap(op, apperr.CodeNavigationTimeout, err, map[string]any{
			apperr.MetaReason: "goto_timeout",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	return classify(op, err)
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.page.IsClosed() {
		return "", apperr.DriverFault("playwright.URL", playwright.ErrTargetClosed)
	}

	return d.page.URL(), nil
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := d.page.Evaluate(script)
	if err != nil {
		return nil, classify("playwright.Evaluate", err)
	}

	return result, nil
}

func (d *Driver) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handles, err := d.page.QuerySelectorAll(css)
	if err != nil {
		return nil, classify("playwright.QueryAll", err)
	}

	return wrapHandles(handles), nil
}

func (d *Driver) Cookies(ctx context.Context) ([]entity.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := d.context.Cookies()
	if err != nil {
		return nil, classify("playwright.Cookies", err)
	}

	cookies := make([]entity.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := entity.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		// Playwright reports session cookies with expires -1.
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}

	return cookies, nil
}

func (d *Driver) AddCookies(ctx context.Context, cookies []entity.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}

		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: sameSite(c.SameSite),
		}
		if !c.Expires.IsZero() {
			oc.Expires = playwright.Float(float64(c.Expires.Unix()))
		}
		optional = append(optional, oc)
	}

	if err := d.context.AddCookies(optional); err != nil {
		return classify("playwright.AddCookies", err)
	}

	return nil
}

// Close tears down the context exactly once. A persistent profile keeps its
// on-disk state; the browser process is stopped either way.
func (d *Driver) Close(context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error

		if d.context != nil {
			if err := d.context.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if d.browser != nil {
			if err := d.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if err := d.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}

		if err := errors.Join(errs...); err != nil {
			d.closeErr = apperr.Wrap("playwright.Close", apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}

		d.logger.Info("Browser closed", zap.Bool("persistent", d.persistent))
	})

	return d.closeErr
}

// element labels itself on the first Describe call. Most queried handles
// are never logged, so QueryAll costs no extra round trips per match.
type element struct {
	handle playwright.ElementHandle

	labelOnce sync.Once
	label     string
}

func wrapHandles(handles []playwright.ElementHandle) []ports.Element {
	out := make([]ports.Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &element{handle: h})
	}

	return out
}

func (e *element) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handles, err := e.handle.QuerySelectorAll(css)
	if err != nil {
		return nil, classify("playwright.Element.QueryAll", err)
	}

	return wrapHandles(handles), nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := e.handle.TextContent()
	if err != nil {
		return "", classify("playwright.Element.Text", err)
	}

	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", classify("playwright.Element.Attribute", err)
	}

	return value, nil
}

// Click issues exactly one click. Force skips the actionability checks for
// overlay-covered list entries.
func (e *element) Click(ctx context.Context, opts ports.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := e.handle.Click(playwright.ElementHandleClickOptions{
		Timeout: playwright.Float(timeoutMillis(ctx)),
		Force:   playwright.Bool(opts.Force),
	})
	if err != nil {
		return classify("playwright.Element.Click", err)
	}

	return nil
}

func (e *element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := e.handle.Fill(value, playwright.ElementHandleFillOptions{
		Timeout: playwright.Float(timeoutMillis(ctx)),
	})
	if err != nil {
		return classify("playwright.Element.Fill", err)
	}

	return nil
}

func (e *element) Describe() string {
	e.labelOnce.Do(func() {
		e.label = describe(e.handle)
	})

	return e.label
}

func describe(h playwright.ElementHandle) string {
	v, err := h.Evaluate(describeElementScript())
	if err != nil {
		return "element"
	}

	s, _ := v.(string)

	return strings.TrimSpace(s)
}

// classify marks failures of the browsing context itself as driver faults.
func classify(op string, err error) error {
	if errors.Is(err, playwright.ErrTargetClosed) {
		return apperr.DriverFault(op, err)
	}

	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaStage: apperr.StageBrowser,
	})
}

func launchErr(op, reason string, err error) error {
	return apperr.Wrap(op, apperr.CodeDriverFault, err, map[string]any{
		apperr.MetaReason: reason,
		apperr.MetaStage:  apperr.StageBrowser,
	})
}

func timeoutMillis(ctx context.Context) float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return float64(defaultCallTimeout.Milliseconds())
	}

	remaining := time.Until(deadline)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}

	return float64(remaining.Milliseconds())
}

func sameSite(v string) *playwright.SameSiteAttribute {
	switch strings.ToLower(v) {
	case "strict":
		return playwright.SameSiteAttributeStrict
	case "lax":
		return playwright.SameSiteAttributeLax
	case "none":
		return playwright.SameSiteAttributeNone
	default:
		return nil
	}
}
