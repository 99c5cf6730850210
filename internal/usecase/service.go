package usecase

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/internal/session"
	"chat-autopilot/internal/tracker"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Pipeline *Pipeline
	Store    ports.SessionStore
}

type Params struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Opener   *session.Opener
	Trackers *tracker.Factory
	Store    ports.SessionStore
	Governor *governor.Governor
	Resolver *selector.Resolver
	Table    *selector.Table
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Pipeline: factory.CreatePipeline(),
		Store:    params.Store,
	}
}
