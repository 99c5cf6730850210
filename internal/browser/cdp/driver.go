// Package cdp drives Chrome over the DevTools protocol with chromedp. It is
// the alternative to the playwright engine when no playwright runtime can be
// installed on the host.
package cdp

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
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	launcherName   = "CDPLauncher"
	launcherTracer = "browser.cdp"

	clearScript = `function() {
		if ("value" in this) { this.value = ""; } else { this.textContent = ""; }
		this.dispatchEvent(new Event("input", { bubbles: true }));
	}`
	clickScript = `function() { this.click(); }`
)

var describedAttrs = []string{"id", "name", "class", "href", "src", "type"}

// Launcher starts one Chrome process per Open.
type Launcher struct {
	config *config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewLauncher(params Params) *Launcher {
	return &Launcher{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, launcherName)),
		tracer: otel.Tracer(launcherTracer),
	}
}

func (l *Launcher) Open(ctx context.Context, opts entity.SessionOptions) (_ ports.Driver, err error) {
	const op = "Launch"
	logger := l.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, l.tracer, logger, op,
		attribute.Bool("headless", l.config.BrowserConfig.Headless))
	defer func() {
		step.End(err)
	}()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.BrowserConfig.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("lang", opts.Locale),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.UserAgent(opts.UserAgent),
	)
	if dir := l.config.BrowserConfig.UserDataDir; dir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(dir))
	}

	// The browser outlives the Open call, so it hangs off a background context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	debugf := l.logger.Sugar().Debugf
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(debugf), chromedp.WithErrorf(debugf))

	d := &Driver{
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
		logger:      l.logger,
	}

	step.AddEvent("starting browser")

	// The first Run allocates the browser and binds it to the context it is
	// given, so it must not carry the caller's deadline.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		cancel()
		allocCancel()

		return nil, apperr.Wrap(op, apperr.CodeDriverFault, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	if tz := opts.Timezone; tz != "" {
		if err := d.run(ctx, op, emulation.SetTimezoneOverride(tz)); err != nil {
			logger.Warn("Failed to emulate timezone", zap.String("timezone", tz), zap.Error(err))
		}
	}

	if err := d.AddCookies(ctx, opts.Cookies); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}

	logger.Info("Browser launched successfully", zap.Int("cookies", len(opts.Cookies)))

	return d, nil
}

// Driver is one Chrome tab. Calls take their deadline and cancellation from
// the caller's context but run against the browser's chromedp context.
type Driver struct {
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, "cdp.Navigate", chromedp.Navigate(url))
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, "cdp.URL", chromedp.Location(&url)); err != nil {
		return "", err
	}

	return url, nil
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	var result any
	if err := d.run(ctx, "cdp.Evaluate", chromedp.Evaluate(script, &result)); err != nil {
		return nil, err
	}

	return result, nil
}

func (d *Driver) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	return d.query(ctx, "cdp.QueryAll", css)
}

func (d *Driver) Cookies(ctx context.Context) ([]entity.Cookie, error) {
	var raw []*network.Cookie

	err := d.run(ctx, "cdp.Cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]entity.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := entity.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}

	return cookies, nil
}

func (d *Driver) AddCookies(ctx context.Context, cookies []entity.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if !c.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &expires
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		params = append(params, p)
	}

	return d.run(ctx, "cdp.AddCookies", chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

func (d *Driver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if err := chromedp.Cancel(d.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.closeErr = apperr.Wrap("cdp.Close", apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "browser_close_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
		d.cancel()
		d.allocCancel()

		d.logger.Info("Browser closed")
	})

	return d.closeErr
}

func (d *Driver) query(ctx context.Context, op, css string, opts ...chromedp.QueryOption) ([]ports.Element, error) {
	var nodes []*cdp.Node

	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := d.run(ctx, op, chromedp.Nodes(css, &nodes, opts...)); err != nil {
		return nil, err
	}

	out := make([]ports.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{driver: d, node: n})
	}

	return out, nil
}

// run executes actions on the browser context, bounded by ctx.
func (d *Driver) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.browserCtx.Err() != nil {
		return apperr.DriverFault(op, errors.New("browser context closed"))
	}

	runCtx, cancel := context.WithCancel(d.browserCtx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}

	switch {
	case d.browserCtx.Err() != nil:
		return apperr.DriverFault(op, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}

	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaStage: apperr.StageBrowser,
	})
}

type element struct {
	driver *Driver
	node   *cdp.Node
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *element) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	return e.driver.query(ctx, "cdp.Element.QueryAll", css, chromedp.FromNode(e.node))
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.driver.run(ctx, "cdp.Element.Text", chromedp.TextContent(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}

	return text, nil
}

// Attribute reads the live value so repeated reads observe DOM updates.
func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	if err := e.driver.run(ctx, "cdp.Element.Attribute",
		chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", err
	}

	return value, nil
}

// Click dispatches exactly one click. Force clicks through script, bypassing
// whatever overlay covers the node.
func (e *element) Click(ctx context.Context, opts ports.ClickOptions) error {
	if opts.Force {
		return e.driver.run(ctx, "cdp.Element.Click", e.call(clickScript))
	}

	return e.driver.run(ctx, "cdp.Element.Click",
		chromedp.ScrollIntoView(e.ids(), chromedp.ByNodeID),
		chromedp.MouseClickNode(e.node),
	)
}

func (e *element) Fill(ctx context.Context, value string) error {
	return e.driver.run(ctx, "cdp.Element.Fill",
		chromedp.Focus(e.ids(), chromedp.ByNodeID),
		e.call(clearScript),
		chromedp.SendKeys(e.ids(), value, chromedp.ByNodeID),
	)
}

func (e *element) Describe() string {
	var b strings.Builder

	b.WriteString(strings.ToLower(e.node.LocalName))
	for _, name := range describedAttrs {
		if v := e.node.AttributeValue(name); v != "" {
			fmt.Fprintf(&b, "[%s=%q]", name, v)
		}
	}

	return b.String()
}

// call runs fn with this bound to the element.
func (e *element) call(fn string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}

		_, exception, err := runtime.CallFunctionOn(fn).WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return exception
		}

		return nil
	})
}
