package cmd

import (
	"chat-autopilot/internal/bootstrap"
	"chat-autopilot/internal/console"
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the four actions once and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := bootstrap.NewApp(console.Options{JSON: asJSON, Out: cmd.OutOrStdout()})
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()

			if err := app.Start(startCtx); err != nil {
				return err
			}

			wait := app.Wait()
			sig := <-wait

			// An OS signal only cancels the run; the console still reports it
			// and shuts down with the run's exit code.
			if sig.Signal != nil {
				select {
				case sig = <-wait:
				case <-time.After(app.StopTimeout()):
				}
			}

			stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancelStop()

			if err := app.Stop(stopCtx); err != nil {
				return err
			}

			if sig.ExitCode != 0 {
				return exitCode(sig.ExitCode)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")

	return cmd
}
