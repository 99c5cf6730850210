package usecase

import (
	"chat-autopilot/internal/action"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreatePipeline() *Pipeline {
	return NewPipeline(PipelineParams{
		Config:    f.deps.Config,
		Opener:    f.deps.Opener,
		Trackers:  f.deps.Trackers,
		Store:     f.deps.Store,
		Executors: f.CreateExecutors(),
		Logger:    f.deps.Logger,
	})
}

// CreateExecutors returns the executors in run order.
func (f *serviceFactory) CreateExecutors() []action.Executor {
	params := f.actionParams()

	return []action.Executor{
		action.NewAuthenticate(params),
		action.NewLocateDialog(params),
		action.NewSendReply(params),
		action.NewLikeProfile(params),
	}
}

func (f *serviceFactory) actionParams() action.Params {
	return action.Params{
		Config:   f.deps.Config,
		Resolver: f.deps.Resolver,
		Governor: f.deps.Governor,
		Table:    f.deps.Table,
		Logger:   f.deps.Logger,
	}
}
