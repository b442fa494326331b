package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check settings, roster and store",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			var problems []string

			s, err := config.LoadSettings()
			if err != nil {
				problems = append(problems, err.Error())
			} else {
				if _, err := roster.Load(s.Roster(home)); err != nil {
					problems = append(problems, "roster: "+err.Error())
				}
				if s.DBDriver == "sqlite" {
					if err := os.MkdirAll(home, 0o755); err != nil {
						problems = append(problems, "home not writable: "+err.Error())
					}
				}
				c, err := daemon.OpenCore(daemon.OptionsFromSettings(home, s))
				if err != nil {
					problems = append(problems, "store: "+err.Error())
				} else {
					if err := c.Health(cmd.Context()); err != nil {
						problems = append(problems, "store ping: "+err.Error())
					}
					_ = c.Close()
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
