// Package snapshottest provides a small simulated dating site on top of the
// snapshot driver, with the configuration that points the engine at it.
package snapshottest

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/config"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const BaseURL = "https://chat.test"

const (
	AuthPath      = "/auth"
	FeedPath      = "/feed"
	ContactsPath  = "/contact/list"
	DiscoveryPath = "/rating"
	ProfilePath   = "/u/101"

	Login     = "user@example.com"
	Password  = "secret"
	ReplyText = "Привет, спасибо за сообщение!"
)

const nav = `<nav><a href="/feed">Лента</a><a href="/rating">Рейтинг</a><a href="/search">Поиск</a></nav>`

const (
	AuthPage = `<html><body><form action="/auth">
<input name="login" type="text"><input name="password" type="password">
<button type="submit">Войти</button>
</form></body></html>`

	ChallengePage = `<html><body><form action="/auth">
<input name="login" type="text"><input name="password" type="password">
<iframe src="https://www.google.com/recaptcha/api2/anchor?k=site"></iframe>
<button type="submit">Войти</button>
</form></body></html>`

	FeedPage = `<html><body>` + nav + `<main><h1>Лента</h1></main></body></html>`

	ConversationPage = `<html><body>` + nav + `<section class="thread">
<div class="message">Привет! Как дела?</div>
</section>
<textarea placeholder="Сообщение"></textarea>
<button aria-label="Отправить">&#10148;</button>
</body></html>`

	// BrokenConversationPage renders the thread without a composer.
	BrokenConversationPage = `<html><body>` + nav + `<section class="thread">
<div class="message">Привет! Как дела?</div>
</section></body></html>`

	DiscoveryPage = `<html><body>` + nav + `<div class="grid">
<a href="/u/101"><img alt="Anna"></a>
<a href="/u/102"><img alt="Vera"></a>
</div></body></html>`

	ProfilePage = `<html><body>` + nav + `<div class="profile"><h2>Anna</h2>
<button class="like-button" aria-label="Лайк">&#9829;</button>
</div></body></html>`
)

// ContactsPage renders n conversation entries linking to /chats/1..n. Entries
// whose zero-based index is in unread carry an unread badge.
func ContactsPage(n int, unread ...int) string {
	isUnread := make(map[int]bool, len(unread))
	for _, i := range unread {
		isUnread[i] = true
	}

	var b strings.Builder
	b.WriteString(`<html><body>` + nav + `<ul class="contacts">`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<li><a href="/chats/%d">Contact %d</a>`, i+1, i+1)
		if isUnread[i] {
			b.WriteString(`<span class="unread-badge">1</span>`)
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul></body></html>`)

	return b.String()
}

type Site struct {
	Contacts     string
	Conversation string
	Auth         string
	Discovery    string
	Profile      string

	// AcceptLogin controls whether submitting the login form lands on Landing.
	AcceptLogin bool
	// Landing is the path a successful login redirects to.
	Landing string
}

// NewSite is a site with three conversations, the second one unread.
func NewSite() *Site {
	return &Site{
		Contacts:     ContactsPage(3, 1),
		Conversation: ConversationPage,
		Auth:         AuthPage,
		Discovery:    DiscoveryPage,
		Profile:      ProfilePage,
		AcceptLogin:  true,
		Landing:      FeedPath,
	}
}

// Driver returns a snapshot driver serving the site with its interactive behaviour wired.
func (s *Site) Driver() *snapshot.Driver {
	drv := snapshot.New().
		Route(BaseURL+AuthPath, s.Auth).
		Route(BaseURL+FeedPath, FeedPage).
		Route(BaseURL+ContactsPath, s.Contacts).
		Route(BaseURL+DiscoveryPath, s.Discovery).
		Route(BaseURL+ProfilePath, s.Profile).
		Route(BaseURL+"/u/102", s.Profile)

	for i := 1; i <= 20; i++ {
		drv.Route(fmt.Sprintf("%s/chats/%d", BaseURL, i), s.Conversation)
	}

	drv.OnClick(s.onClick)

	return drv
}

func (s *Site) onClick(ctx context.Context, d *snapshot.Driver, el *snapshot.Element) error {
	sel := el.Selection()

	switch {
	case sel.Is(`button[type="submit"]`):
		var login string
		d.Mutate(func(doc *goquery.Document) {
			login = doc.Find(`input[name="login"]`).AttrOr("value", "")
		})
		if s.AcceptLogin && login != "" {
			return d.Navigate(ctx, BaseURL+s.Landing)
		}
	case sel.Is(`button[aria-label*="Отправить"]`):
		d.Mutate(func(doc *goquery.Document) {
			text := doc.Find("textarea").Text()
			doc.Find("section.thread").AppendHtml(`<div class="message">` + html.EscapeString(text) + `</div>`)
			doc.Find("textarea").SetText("")
		})
	case sel.Is(`button[class*="like"]`):
		d.Mutate(func(*goquery.Document) {
			sel.AddClass("liked").SetAttr("aria-pressed", "true")
		})
	}

	return nil
}

// Config points the engine at the site with timings short enough for tests.
func Config() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{
			LogLevel:      "debug",
			TraceExporter: config.TraceExporterNone,
			RunTimeout:    10 * time.Second,
		},
		BrowserConfig: &config.BrowserConfig{
			Engine:         config.EnginePlaywright,
			Headless:       true,
			UserAgent:      "autopilot-test/1.0",
			ViewportWidth:  1280,
			ViewportHeight: 720,
			Locale:         "ru-RU",
			Timezone:       "Europe/Moscow",
		},
		TargetConfig: &config.TargetConfig{
			BaseURL:                BaseURL,
			AuthPath:               AuthPath,
			ContactListPath:        ContactsPath,
			DiscoveryPath:          DiscoveryPath,
			Login:                  Login,
			Password:               Password,
			ReplyText:              ReplyText,
			AuthURLPattern:         `/(auth|login)([/?#]|$)`,
			ContactListURLPattern:  `/contacts?(/list)?([/?#]|$)`,
			ConversationURLPattern: `/chats/[^/?#]+`,
			DiscoveryURLPattern:    `/(rating|search|profile|u)([/?#]|$)`,
		},
		LocaleConfig: &config.LocaleConfig{
			MessagePlaceholders: []string{"Message", "Сообщение"},
			SendLabels:          []string{"Send", "Отправить"},
			SubmitLabels:        []string{"Войти", "Log in"},
			LikeLabels:          []string{"Like", "Лайк"},
			ChallengeProviders:  []string{"recaptcha", "hcaptcha", "geetest", "turnstile", "captcha"},
		},
		TimingConfig: &config.TimingConfig{
			NavigationTimeout: 300 * time.Millisecond,
			ElementTimeout:    80 * time.Millisecond,
			LocatorTimeout:    50 * time.Millisecond,
			VerifyTimeout:     80 * time.Millisecond,
			PollInterval:      5 * time.Millisecond,
			MaxPollInterval:   20 * time.Millisecond,
			BackoffFactor:     1.5,
			InteractionDelay:  time.Millisecond,
			PageLoadDelay:     time.Millisecond,
			SettleDelay:       time.Millisecond,
			RecheckDelay:      time.Millisecond,
			DialogScanLimit:   10,
		},
		SessionConfig: &config.SessionConfig{
			PersistCookies: true,
		},
	}
}
