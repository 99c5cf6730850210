// Package console runs one pipeline pass for the process and reports it on stdout.
package console

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/usecase"
	"chat-autopilot/pkg/logg"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Options are supplied by the command line.
type Options struct {
	JSON bool
	Out  io.Writer
}

type Interface struct {
	config  *config.Config
	logger  *zap.Logger
	usecase *usecase.Service
	options Options
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal

	mu       sync.Mutex
	stopping bool
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
	Options Options `optional:"true"`
}

func NewInterface(params Params) *Interface {
	ctx, cancel := context.WithCancel(context.Background())

	options := params.Options
	if options.Out == nil {
		options.Out = os.Stdout
	}

	return &Interface{
		config:  params.Config,
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		options: options,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}
}

// Start runs the pipeline once, prints the summary and returns the process
// exit code. SIGINT or SIGTERM cancels the run in flight.
func (i *Interface) Start() int {
	signal.Notify(i.sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(i.sigChan)

	go func() {
		select {
		case sig := <-i.sigChan:
			i.logger.Warn("Interrupt received, stopping run", zap.String("signal", sig.String()))
			i.cancel()
		case <-i.ctx.Done():
		}
	}()

	summary, err := i.usecase.Pipeline.Run(i.ctx)
	if err != nil {
		i.logger.Error("Run aborted by driver fault", zap.Error(err))
	}

	if rerr := Render(i.options.Out, summary, i.options.JSON); rerr != nil {
		i.logger.Error("Failed to render summary", zap.Error(rerr))
	}

	return summary.ExitCode()
}

func (i *Interface) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopping {
		return nil
	}

	i.stopping = true
	i.logger.Info("Stopping console interface...")
	i.cancel()

	return nil
}
