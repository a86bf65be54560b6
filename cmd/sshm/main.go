package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitError przenosi kod wyjścia zdalnego polecenia do procesu
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sshm",
		Short:         "SSH session manager",
		Long:          "sshm keeps SSH host profiles, opens sessions through jump hosts and bridges shells to the local terminal or a browser.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPicker(cmd.Context())
		},
	}

	cmd.AddCommand(
		newConnectCmd(),
		newListCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newImportCmd(),
		newExportCmd(),
		newImportSSHConfigCmd(),
		newRestoreCmd(),
		newExecCmd(),
		newForwardCmd(),
		newSFTPCmd(),
		newCredCmd(),
		newAuditCmd(),
		newServeCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
