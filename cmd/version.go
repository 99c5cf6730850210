package cmd

import (
	"chat-autopilot/internal/bootstrap"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func version() string {
	return bootstrap.Version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "autopilot %s (%s, %s/%s)\n",
				version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)

			return err
		},
	}
}
