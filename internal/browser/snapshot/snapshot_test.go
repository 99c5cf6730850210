package snapshot_test

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<a href="/next"><span class="label">Next</span></a>
<a href="/elsewhere">Away</a>
<input name="login" type="text">
<textarea placeholder="Message"></textarea>
<div contenteditable="true" class="editor"></div>
<p id="plain">Static</p>
</body></html>`

func newDriver(t *testing.T) *snapshot.Driver {
	t.Helper()

	d := snapshot.New().
		Route("https://site.test/start", page).
		Route("https://site.test/next", `<html><body><h1>Next page</h1></body></html>`)
	require.NoError(t, d.Navigate(context.Background(), "https://site.test/start"))

	return d
}

func first(t *testing.T, d *snapshot.Driver, css string) ports.Element {
	t.Helper()

	els, err := d.QueryAll(context.Background(), css)
	require.NoError(t, err)
	require.NotEmpty(t, els, css)

	return els[0]
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	url, err := d.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/start", url)

	state, err := d.Evaluate(ctx, "document.readyState")
	require.NoError(t, err)
	assert.Equal(t, "complete", state)

	err = d.Navigate(ctx, "https://site.test/missing")
	assert.ErrorIs(t, err, snapshot.ErrNoRoute)

	_, err = d.Evaluate(ctx, "window.scrollTo(0, 0)")
	assert.ErrorIs(t, err, snapshot.ErrUnsupported)
}

func TestRedirect(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t).Redirect("https://site.test/login", "https://site.test/next")

	require.NoError(t, d.Navigate(ctx, "https://site.test/login"))

	url, err := d.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/next", url)
}

func TestQueryAll(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	links, err := d.QueryAll(ctx, "a[href]")
	require.NoError(t, err)
	assert.Len(t, links, 2)

	nested, err := links[0].QueryAll(ctx, "span.label")
	require.NoError(t, err)
	require.Len(t, nested, 1)

	text, err := nested[0].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Next", text)

	href, err := links[1].Attribute(ctx, "href")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere", href)

	none, err := d.QueryAll(ctx, "button")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = d.QueryAll(ctx, "a[href=")
	assert.Error(t, err)
}

func TestClickFollowsRoutedLinks(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	require.NoError(t, first(t, d, "span.label").Click(ctx, ports.ClickOptions{}))

	url, err := d.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/next", url)
	assert.Len(t, d.Clicks(), 1)
}

func TestClickOnUnroutedLinkStays(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	require.NoError(t, first(t, d, `a[href="/elsewhere"]`).Click(ctx, ports.ClickOptions{Force: true}))

	url, err := d.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/start", url)
}

func TestClickHookMutatesDocument(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	d.OnClick(func(_ context.Context, d *snapshot.Driver, el *snapshot.Element) error {
		el.Selection().SetAttr("aria-pressed", "true")
		return nil
	})

	p := first(t, d, "#plain")
	require.NoError(t, p.Click(ctx, ports.ClickOptions{}))

	pressed, err := first(t, d, "#plain").Attribute(ctx, "aria-pressed")
	require.NoError(t, err)
	assert.Equal(t, "true", pressed)
	assert.Equal(t, []string{`p[id="plain"]`}, d.Clicks())
}

func TestFill(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	require.NoError(t, first(t, d, "input").Fill(ctx, "user"))
	require.NoError(t, first(t, d, "textarea").Fill(ctx, "hello"))
	require.NoError(t, first(t, d, ".editor").Fill(ctx, "rich"))
	assert.Error(t, first(t, d, "#plain").Fill(ctx, "nope"))

	value, err := first(t, d, "input").Attribute(ctx, "value")
	require.NoError(t, err)
	assert.Equal(t, "user", value)

	text, err := first(t, d, "textarea").Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, []snapshot.Fill{
		{Element: `input[name="login"][type="text"]`, Value: "user"},
		{Element: "textarea", Value: "hello"},
		{Element: `div[class="editor"]`, Value: "rich"},
	}, d.Fills())
}

func TestFaultAndClose(t *testing.T) {
	ctx := context.Background()

	d := newDriver(t)
	d.Fault(errors.New("renderer crashed"))
	_, err := d.QueryAll(ctx, "a")
	assert.True(t, apperr.HasCode(err, apperr.CodeDriverFault))

	d = newDriver(t)
	el := first(t, d, "a")
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 1, d.Closes())

	_, err = d.URL(ctx)
	assert.True(t, apperr.HasCode(err, apperr.CodeDriverFault))
	assert.True(t, apperr.HasCode(el.Click(ctx, ports.ClickOptions{}), apperr.CodeDriverFault))
}

func TestCancelledContext(t *testing.T) {
	d := newDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.QueryAll(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenSeedsCookies(t *testing.T) {
	ctx := context.Background()
	d := snapshot.New()

	jar := []entity.Cookie{
		{Name: "sid", Value: "1", Domain: "site.test", Path: "/"},
		{Name: "sid", Value: "2", Domain: "site.test", Path: "/"},
	}

	drv, err := d.Open(ctx, entity.SessionOptions{Identity: "agent", Cookies: jar})
	require.NoError(t, err)

	cookies, err := drv.Cookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "2", cookies[0].Value)
	assert.Equal(t, "agent", d.Opened()[0].Identity)
}
