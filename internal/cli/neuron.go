package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func newNeuronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neuron",
		Short: "Post to and read the agent message bus",
	}
	cmd.AddCommand(newNeuronPostCmd())
	cmd.AddCommand(newNeuronFeedCmd())
	cmd.AddCommand(newNeuronQueueCmd())
	cmd.AddCommand(newNeuronAckCmd())
	cmd.AddCommand(newNeuronHandoffCmd())
	cmd.AddCommand(newNeuronConflictsCmd())
	cmd.AddCommand(newNeuronCheckConflictCmd())
	cmd.AddCommand(newNeuronFlagCmd())
	cmd.AddCommand(newNeuronStatsCmd())
	return cmd
}

func newNeuronPostCmd() *cobra.Command {
	var (
		in       neuron.PostInput
		body     string
		metadata string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Body = optional(body)
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &in.Metadata); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
			}
			return withCore(cmd, func(c *coord.Core) error {
				m, err := c.Neuron.Post(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, m, func(w io.Writer) { printMessage(w, *m) })
			})
		},
	}
	cmd.Flags().StringVar(&in.SenderAgent, "from", "", "Sender agent id")
	cmd.Flags().StringVar(&in.MessageType, "type", string(models.MessageStatusUpdate), "Message type")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&in.Channel, "channel", "", "Channel (default general)")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "critical, high, normal or low")
	cmd.Flags().StringVar(&in.TargetAgent, "to", "", "Target agent id (default all)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata as a JSON object")
	return cmd
}

func printMessages(cmd *cobra.Command, msgs []models.Message) error {
	return emit(cmd, msgs, func(w io.Writer) {
		if len(msgs) == 0 {
			_, _ = fmt.Fprintln(w, "No messages")
			return
		}
		for _, m := range msgs {
			printMessage(w, m)
		}
	})
}

func newNeuronFeedCmd() *cobra.Command {
	var (
		f     neuron.FeedFilter
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List recent messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			return withCore(cmd, func(c *coord.Core) error {
				msgs, err := c.Neuron.Feed(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printMessages(cmd, msgs)
			})
		},
	}
	cmd.Flags().StringVar(&f.Channel, "channel", "", "Only this channel")
	cmd.Flags().StringVar(&f.Agent, "agent", "", "Messages sent by, addressed to, or broadcast to this agent")
	cmd.Flags().StringVar(&f.Type, "type", "", "Only this message type")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "Max messages (default 50, max 200)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only messages newer than this (e.g. 2h)")
	return cmd
}

func newNeuronQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <agent>",
		Short: "Show an agent's unacknowledged inbox, most urgent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				msgs, err := c.Neuron.AgentQueue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printMessages(cmd, msgs)
			})
		},
	}
}

func newNeuronAckCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "ack <message-id>...",
		Short: "Acknowledge messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				for _, id := range args {
					m, err := c.Neuron.Acknowledge(cmd.Context(), id, agent)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s acknowledged by %s\n", m.ID, deref(m.AcknowledgedBy))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Acknowledging agent id")
	return cmd
}

func newNeuronHandoffCmd() *cobra.Command {
	var (
		in       neuron.HandoffInput
		body     string
		taskJSON string
	)
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Hand work from one agent to another (notice + task assignment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Body = optional(body)
			if taskJSON != "" {
				if err := json.Unmarshal([]byte(taskJSON), &in.TaskContext); err != nil {
					return fmt.Errorf("--context must be a JSON object: %w", err)
				}
			}
			return withCore(cmd, func(c *coord.Core) error {
				res, err := c.Neuron.Handoff(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, res, func(w io.Writer) {
					printMessage(w, res.HandoffMessage)
					printMessage(w, res.TaskAssignment)
				})
			})
		},
	}
	cmd.Flags().StringVar(&in.From, "from", "", "Handing-off agent id")
	cmd.Flags().StringVar(&in.To, "to", "", "Receiving agent id")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "What is being handed off")
	cmd.Flags().StringVar(&body, "body", "", "Details")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "Priority (default high)")
	cmd.Flags().StringVar(&taskJSON, "context", "", "Task context as a JSON object")
	return cmd
}

func newNeuronConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List open conflict flags from the last 72 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				msgs, err := c.Neuron.ListConflicts(cmd.Context())
				if err != nil {
					return err
				}
				return printMessages(cmd, msgs)
			})
		},
	}
}

func newNeuronCheckConflictCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "check-conflict <resource-type> <resource-id>",
		Short: "Check whether another agent holds a live claim on a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				chk, err := c.Neuron.CheckConflict(cmd.Context(), args[0], args[1], agent)
				if err != nil {
					return err
				}
				return emit(cmd, chk, func(w io.Writer) {
					if !chk.ConflictExists {
						_, _ = fmt.Fprintln(w, "No active claim")
						return
					}
					_, _ = fmt.Fprintf(w, "Claimed by %s at %s (message %s)\n",
						deref(chk.ClaimedBy), chk.ClaimedAt.Local().Format(time.RFC3339), deref(chk.MessageID))
				})
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Requesting agent id")
	return cmd
}

func newNeuronFlagCmd() *cobra.Command {
	var (
		in   neuron.FlagInput
		body string
	)
	cmd := &cobra.Command{
		Use:   "flag <resource-type> <resource-id>",
		Short: "Claim a resource by raising a conflict flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ResourceType, in.ResourceID, in.Body = args[0], args[1], optional(body)
			return withCore(cmd, func(c *coord.Core) error {
				m, err := c.Neuron.FlagConflict(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, m, func(w io.Writer) { printMessage(w, *m) })
			})
		},
	}
	cmd.Flags().StringVar(&in.SenderAgent, "from", "", "Claiming agent id")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "Subject (default names the resource)")
	cmd.Flags().StringVar(&body, "body", "", "Details")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "Priority (default high)")
	cmd.Flags().StringVar(&in.TargetAgent, "to", "", "Target agent id (default all)")
	return cmd
}

func newNeuronStatsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show bus status and protocol statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				st, err := c.Neuron.Status(cmd.Context())
				if err != nil {
					return err
				}
				ps, err := c.Neuron.ProtocolStats(cmd.Context(), days)
				if err != nil {
					return err
				}
				out := map[string]any{"status": st, "protocol": ps}
				return emit(cmd, out, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Messages: %d total, %d in 24h, %d unacknowledged\n", st.TotalMessages, st.Last24h, st.Unacknowledged)
					_, _ = fmt.Fprintf(w, "Active agents: %d, active channels: %d\n", st.ActiveAgents, st.ActiveChannels)
					_, _ = fmt.Fprintf(w, "Last %d days: %d messages, %d%% acknowledged\n", ps.WindowDays, ps.Total, ps.AcknowledgmentRatePct)
					for _, t := range models.MessageTypes {
						if n := ps.ByType[string(t)]; n > 0 {
							_, _ = fmt.Fprintf(w, "  %-16s %d\n", t, n)
						}
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Statistics window in days")
	return cmd
}
