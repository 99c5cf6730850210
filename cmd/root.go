// Package cmd wires the autopilot command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCode carries a run's exit status out of cobra without printing anything.
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autopilot",
		Short:         "Drives one authenticated chat session: login, open a dialog, reply, like a profile.",
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(),
		newProbeCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := newRootCmd().Execute()
	if err == nil {
		return 0
	}

	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	return 1
}
