package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
)

func newNukeCmd() *cobra.Command {
	var (
		yes bool
		all bool
	)
	cmd := &cobra.Command{
		Use:   "nuke",
		Short: "Delete the local store (and with --all, the whole home directory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			if st, _ := daemon.Status(cmd.Context(), home); st.Running {
				return fmt.Errorf("daemon is running (pid %d); run meetinghub stop first", st.PID)
			}
			target := filepath.Join(home, "protected")
			if all {
				target = home
			}
			out := cmd.OutOrStdout()

			if !yes {
				_, _ = fmt.Fprintf(out, "This permanently deletes %s (messages, tasks, meetings, decisions).\n", target)
				_, _ = fmt.Fprint(out, `Type "delete everything" to confirm: `)
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if strings.TrimSpace(line) != "delete everything" {
					_, _ = fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "Deleted", target)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&all, "all", false, "Also delete the roster and every other file under home")
	return cmd
}
