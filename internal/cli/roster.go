package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func newRosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Show or initialize the agent roster",
	}
	cmd.AddCommand(newRosterListCmd())
	cmd.AddCommand(newRosterInitCmd())
	cmd.AddCommand(newRosterTeamCmd())
	return cmd
}

func rosterPath(cmd *cobra.Command) (string, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return "", err
	}
	return s.Roster(config.MustHomeFrom(cmd.Context())), nil
}

func newRosterListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roster agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rosterPath(cmd)
			if err != nil {
				return err
			}
			r, err := roster.Load(path)
			if err != nil {
				return err
			}
			return emit(cmd, r, func(w io.Writer) {
				for _, a := range r.Agents {
					_, _ = fmt.Fprintf(w, "%-10s %-10s %-16s %s\n", a.ID, a.Name, a.Role, strings.Join(a.Domains, ", "))
				}
				if r.Strict {
					_, _ = fmt.Fprintln(w, "(strict: unknown senders are rejected)")
				}
			})
		},
	}
}

func newRosterInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in roster to the roster file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rosterPath(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := roster.Save(path, roster.Default()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing roster file")
	return cmd
}

func newRosterTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "team",
		Short: "Show each agent with its task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				team, err := c.Team(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, team, func(w io.Writer) {
					for _, m := range team {
						printMember(w, m)
					}
				})
			})
		},
	}
}

func printMember(w io.Writer, m models.TeamMember) {
	s := m.TaskStats
	_, _ = fmt.Fprintf(w, "%-10s %-16s total %d  pending %d  in_progress %d  done %d  blocked %d\n",
		m.Name, m.Role, s.Total, s.Pending, s.InProgress, s.Done, s.Blocked)
}
