package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "meetinghub",
		Short:        "Meeting hub: message bus, task graph, decisions and meetings for a team of agents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override home directory (default: ~/.meetinghub, env: MEETINGHUB_HOME)")
	cmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newRosterCmd())
	cmd.AddCommand(newNeuronCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newMeetingCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newApikeyCmd())
	cmd.AddCommand(newNukeCmd())

	// Hidden internal subcommand used by `meetinghub start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
