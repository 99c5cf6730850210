package bootstrap

import (
	"chat-autopilot/internal/console"
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runConsole(lc fx.Lifecycle, shutdowner fx.Shutdowner, consoleInterface *console.Interface, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting chat autopilot...")

			go func() {
				code := consoleInterface.Start()

				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Error("Failed to shut down", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down chat autopilot...")

			if err := consoleInterface.Stop(); err != nil {
				logger.Error("Failed to stop console", zap.Error(err))
			}

			return nil
		},
	})
}
