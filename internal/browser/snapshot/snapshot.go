// Package snapshot is a driver over static HTML documents. It backs the
// offline probe command and the engine's tests: pages are registered per URL,
// link clicks follow registered routes and a click hook lets callers mutate
// the document the way the live application would.
package snapshot

import (
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

const readyStateScript = `document.readyState`

var (
	ErrNoRoute     = errors.New("no document registered for url")
	ErrClosed      = errors.New("browsing context closed")
	ErrUnsupported = errors.New("script not supported by snapshot driver")
)

// ClickHook runs after a click has been recorded and any link has been followed.
type ClickHook func(ctx context.Context, d *Driver, el *Element) error

type Fill struct {
	Element string
	Value   string
}

type Driver struct {
	mu sync.Mutex

	routes    map[string]string
	redirects map[string]string
	current   string
	doc     *goquery.Document

	cookies []entity.Cookie
	opened  []entity.SessionOptions
	clicks  []string
	fills   []Fill
	closes  int
	fault   error

	onClick ClickHook
}

func New() *Driver {
	return &Driver{routes: make(map[string]string), redirects: make(map[string]string)}
}

// Route registers the document served for rawURL.
func (d *Driver) Route(rawURL, html string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.routes[normalizeURL(rawURL)] = html

	return d
}

// Redirect makes navigating to from land on to, the way a server redirect does.
func (d *Driver) Redirect(from, to string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.redirects[normalizeURL(from)] = to

	return d
}

// OnClick installs h; it replaces any earlier hook.
func (d *Driver) OnClick(h ClickHook) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.onClick = h

	return d
}

// Load replaces the current document without consulting routes.
func (d *Driver) Load(rawURL, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse document for %s: %w", rawURL, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.current = rawURL
	d.doc = doc

	return nil
}

// Mutate gives fn exclusive access to the current document.
func (d *Driver) Mutate(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc != nil {
		fn(d.doc)
	}
}

// Fault makes every later call fail with a driver fault wrapping err.
func (d *Driver) Fault(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fault = err
}

func (d *Driver) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.clicks)
}

func (d *Driver) Fills() []Fill {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.fills)
}

func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closes
}

func (d *Driver) Opened() []entity.SessionOptions {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.opened)
}

// Open lets a Driver stand in as its own ports.DriverFactory.
func (d *Driver) Open(ctx context.Context, opts entity.SessionOptions) (ports.Driver, error) {
	d.mu.Lock()
	d.opened = append(d.opened, opts)
	d.closes = 0
	d.mu.Unlock()

	if err := d.AddCookies(ctx, opts.Cookies); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	const op = "snapshot.Navigate"

	if err := d.check(ctx, op); err != nil {
		return err
	}

	d.mu.Lock()
	if to, ok := d.redirects[normalizeURL(rawURL)]; ok {
		rawURL = to
	}
	html, ok := d.routes[normalizeURL(rawURL)]
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, rawURL)
	}

	return d.Load(rawURL, html)
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	if err := d.check(ctx, "snapshot.URL"); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current, nil
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	if err := d.check(ctx, "snapshot.Evaluate"); err != nil {
		return nil, err
	}

	if strings.TrimSpace(script) == readyStateScript {
		return "complete", nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupported, script)
}

func (d *Driver) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	if err := d.check(ctx, "snapshot.QueryAll"); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil, nil
	}

	return d.query(d.doc.Selection, css)
}

func (d *Driver) Cookies(ctx context.Context) ([]entity.Cookie, error) {
	if err := d.check(ctx, "snapshot.Cookies"); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.cookies), nil
}

func (d *Driver) AddCookies(ctx context.Context, cookies []entity.Cookie) error {
	if err := d.check(ctx, "snapshot.AddCookies"); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range cookies {
		d.cookies = slices.DeleteFunc(d.cookies, func(existing entity.Cookie) bool {
			return existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path
		})
		d.cookies = append(d.cookies, c)
	}

	return nil
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closes++

	return nil
}

// query must be called with d.mu held.
func (d *Driver) query(root *goquery.Selection, css string) ([]ports.Element, error) {
	if _, err := cascadia.ParseGroup(css); err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", css, err)
	}

	found := root.Find(css)
	out := make([]ports.Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{driver: d, sel: s})
	})

	return out, nil
}

func (d *Driver) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fault != nil {
		return apperr.DriverFault(op, d.fault)
	}
	if d.closes > 0 {
		return apperr.DriverFault(op, ErrClosed)
	}

	return nil
}

func (d *Driver) follow(ctx context.Context, el *Element) error {
	d.mu.Lock()
	href, ok := el.sel.Closest("a[href]").Attr("href")
	base := d.current
	d.mu.Unlock()

	if !ok {
		return nil
	}

	target, err := resolveURL(base, href)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	_, routed := d.routes[normalizeURL(target)]
	d.mu.Unlock()

	if !routed {
		return nil
	}

	return d.Navigate(ctx, target)
}

type Element struct {
	driver *Driver
	sel    *goquery.Selection
}

// Selection exposes the underlying node to click hooks.
func (e *Element) Selection() *goquery.Selection {
	return e.sel
}

func (e *Element) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	if err := e.driver.check(ctx, "snapshot.Element.QueryAll"); err != nil {
		return nil, err
	}

	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()

	return e.driver.query(e.sel, css)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := e.driver.check(ctx, "snapshot.Element.Text"); err != nil {
		return "", err
	}

	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()

	return e.sel.Text(), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	if err := e.driver.check(ctx, "snapshot.Element.Attribute"); err != nil {
		return "", err
	}

	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()

	return e.sel.AttrOr(name, ""), nil
}

func (e *Element) Click(ctx context.Context, _ ports.ClickOptions) error {
	if err := e.driver.check(ctx, "snapshot.Element.Click"); err != nil {
		return err
	}

	e.driver.mu.Lock()
	e.driver.clicks = append(e.driver.clicks, e.describe())
	hook := e.driver.onClick
	e.driver.mu.Unlock()

	if err := e.driver.follow(ctx, e); err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, e.driver, e)
	}

	return nil
}

func (e *Element) Fill(ctx context.Context, value string) error {
	if err := e.driver.check(ctx, "snapshot.Element.Fill"); err != nil {
		return err
	}

	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()

	switch goquery.NodeName(e.sel) {
	case "input":
		e.sel.SetAttr("value", value)
	case "textarea":
		e.sel.SetText(value)
	default:
		if e.sel.AttrOr("contenteditable", "") != "true" {
			return fmt.Errorf("element %s is not editable", e.describe())
		}
		e.sel.SetText(value)
	}

	e.driver.fills = append(e.driver.fills, Fill{Element: e.describe(), Value: value})

	return nil
}

func (e *Element) Describe() string {
	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()

	return e.describe()
}

func (e *Element) describe() string {
	var b strings.Builder

	b.WriteString(goquery.NodeName(e.sel))
	for _, attr := range []string{"id", "name", "class", "href", "src", "type"} {
		if v, ok := e.sel.Attr(attr); ok && v != "" {
			fmt.Fprintf(&b, "[%s=%q]", attr, v)
		}
	}

	return b.String()
}

func resolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	return b.ResolveReference(r).String(), nil
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
