package bootstrap

import (
	"chat-autopilot/internal/browser"
	"chat-autopilot/internal/browser/cdp"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/console"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/internal/session"
	"chat-autopilot/internal/store"
	"chat-autopilot/internal/tracker"
	"chat-autopilot/internal/usecase"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func NewApp(options console.Options) *fx.App {
	return fx.New(
		fx.Supply(options),

		fx.Provide(
			config.GetConfig,
			NewLogger,
			newTraceProvider,

			newDriverFactory,
			store.NewStore,

			selector.NewTableFromConfig,
			governor.NewGovernor,
			selector.NewResolver,
			tracker.NewFactory,
			session.NewOpener,

			usecase.NewUsecase,

			console.NewInterface,
		),

		fx.Invoke(
			// Tracing must be installed before the first span is started.
			func(*sdktrace.TracerProvider) {},
			runConsole,
		),

		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)

			return l
		}),

		fx.StartTimeout(10*time.Second),
	)
}

// newDriverFactory picks the browser engine named by BROWSER_ENGINE.
func newDriverFactory(cfg *config.Config, logger *zap.Logger) ports.DriverFactory {
	switch cfg.BrowserConfig.Engine {
	case config.EngineChromedp:
		return cdp.NewLauncher(cdp.Params{Config: cfg, Logger: logger})
	default:
		return browser.NewManager(browser.Params{Config: cfg, Logger: logger})
	}
}
