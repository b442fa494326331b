package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "meetinghub not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "meetinghub running (pid %d, addr %s", st.PID, st.Addr)
			if st.GRPCAddr != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), ", grpc %s", st.GRPCAddr)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}
	return cmd
}
