package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			err = daemon.StartForeground(cmd.Context(), opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
