package ports

import (
	"chat-autopilot/internal/entity"
	"context"
)

// Scope is anything CSS queries can run against: the whole document or one element.
type Scope interface {
	QueryAll(ctx context.Context, css string) ([]Element, error)
}

type ClickOptions struct {
	Force bool
}

type Element interface {
	Scope
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Click(ctx context.Context, opts ClickOptions) error
	Fill(ctx context.Context, value string) error
	Describe() string
}

// Driver is the capability set the engine consumes from a browser automation backend.
// Adapters wrap failures of the browsing context itself as apperr.CodeDriverFault.
type Driver interface {
	Scope
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Cookies(ctx context.Context) ([]entity.Cookie, error)
	AddCookies(ctx context.Context, cookies []entity.Cookie) error
	Close(ctx context.Context) error
}

type DriverFactory interface {
	Open(ctx context.Context, opts entity.SessionOptions) (Driver, error)
}

type SessionStore interface {
	LoadCookies(ctx context.Context, identity string) ([]entity.Cookie, error)
	SaveCookies(ctx context.Context, identity string, cookies []entity.Cookie) error
	SaveRun(ctx context.Context, summary *entity.RunSummary) error
	Close(ctx context.Context) error
}
