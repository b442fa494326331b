package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/agenttools"
	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Act as one agent: inbox, claims and status posts",
	}
	cmd.PersistentFlags().String("as", "", "Agent id to act as")
	_ = cmd.MarkPersistentFlagRequired("as")
	cmd.AddCommand(newAgentInboxCmd())
	cmd.AddCommand(newAgentAckAllCmd())
	cmd.AddCommand(newAgentClaimCmd())
	cmd.AddCommand(newAgentSayCmd())
	return cmd
}

// withToolkit opens the core and binds it to the --as agent.
func withToolkit(cmd *cobra.Command, fn func(tk *agenttools.Toolkit) error) error {
	as, _ := cmd.Flags().GetString("as")
	return withCore(cmd, func(c *coord.Core) error {
		tk, err := agenttools.New(c, as)
		if err != nil {
			return err
		}
		return fn(tk)
	})
}

func newAgentInboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Show the agent's unacknowledged queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, func(tk *agenttools.Toolkit) error {
				msgs, err := tk.Inbox(cmd.Context())
				if err != nil {
					return err
				}
				return printMessages(cmd, msgs)
			})
		},
	}
}

func newAgentAckAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack-all",
		Short: "Acknowledge everything in the agent's queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, func(tk *agenttools.Toolkit) error {
				n, err := tk.AckAll(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d acknowledged\n", n)
				return nil
			})
		},
	}
}

func newAgentClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <resource-type> <resource-id>",
		Short: "Flag a resource unless someone already holds it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, func(tk *agenttools.Toolkit) error {
				chk, m, err := tk.Claim(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out := map[string]any{"check": chk, "flag": m}
				return emit(cmd, out, func(w io.Writer) {
					if m == nil {
						_, _ = fmt.Fprintf(w, "Already claimed by %s\n", deref(chk.ClaimedBy))
						return
					}
					printMessage(w, *m)
				})
			})
		},
	}
}

func newAgentSayCmd() *cobra.Command {
	var (
		in   neuron.PostInput
		body string
	)
	cmd := &cobra.Command{
		Use:   "say <subject>",
		Short: "Post a message as the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Subject, in.Body = args[0], optional(body)
			return withToolkit(cmd, func(tk *agenttools.Toolkit) error {
				m, err := tk.Say(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, m, func(w io.Writer) { printMessage(w, *m) })
			})
		},
	}
	cmd.Flags().StringVar(&in.MessageType, "type", "status_update", "Message type")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "Priority")
	cmd.Flags().StringVar(&in.TargetAgent, "to", "", "Target agent id (default all)")
	cmd.Flags().StringVar(&in.Channel, "channel", "", "Channel")
	return cmd
}
