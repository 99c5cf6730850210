// Package store persists what outlives a run: the cookie jar per identity and
// run summaries. Without SESSION_STORE_PATH nothing is persisted.
package store

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/pkg/logg"
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
}

// NewStore opens the configured SQLite store, or a no-op store when none is configured.
func NewStore(params Params) (ports.SessionStore, error) {
	logger := params.Logger.With(zap.String(logg.Layer, "Store"))
	path := params.Config.SessionConfig.StorePath

	if path == "" {
		logger.Debug("Session store disabled")
		return Nop{}, nil
	}

	s, err := Open(context.Background(), path)
	if err != nil {
		return nil, err
	}

	logger.Info("Session store opened", zap.String("path", path))

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close(ctx)
		},
	})

	return s, nil
}

// Nop discards everything and restores nothing.
type Nop struct{}

func (Nop) LoadCookies(context.Context, string) ([]entity.Cookie, error) {
	return nil, nil
}

func (Nop) SaveCookies(context.Context, string, []entity.Cookie) error {
	return nil
}

func (Nop) SaveRun(context.Context, *entity.RunSummary) error {
	return nil
}

func (Nop) Close(context.Context) error {
	return nil
}
