package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/decision"
	"github.com/plfl21/openclaw-meeting-hub/internal/meeting"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func newMeetingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Run meetings: turns, decisions and votes",
	}
	cmd.AddCommand(newMeetingCreateCmd())
	cmd.AddCommand(newMeetingListCmd())
	cmd.AddCommand(newMeetingShowCmd())
	cmd.AddCommand(newMeetingTransitionCmd("start", "Open a draft meeting"))
	cmd.AddCommand(newMeetingTransitionCmd("end", "Complete an in-progress meeting"))
	cmd.AddCommand(newMeetingTransitionCmd("cancel", "Cancel a meeting"))
	cmd.AddCommand(newMeetingTurnCmd())
	cmd.AddCommand(newMeetingProposeCmd())
	cmd.AddCommand(newMeetingVoteCmd())
	cmd.AddCommand(newMeetingResolveCmd())
	cmd.AddCommand(newMeetingTallyCmd())
	cmd.AddCommand(newMeetingAgendaCmd())
	cmd.AddCommand(newMeetingAgendaSetCmd())
	cmd.AddCommand(newMeetingLeaveCmd())
	cmd.AddCommand(newMeetingAuditCmd())
	return cmd
}

func printMeeting(w io.Writer, m models.Meeting) {
	_, _ = fmt.Fprintf(w, "%s  %-11s %-12s %s\n", m.ID, m.Status, m.MeetingType, m.Title)
}

func printDecision(w io.Writer, d models.Decision) {
	_, _ = fmt.Fprintf(w, "%s  %-9s %-9s %s", d.ID, d.Status, d.DecisionType, d.Title)
	if d.Outcome != nil {
		_, _ = fmt.Fprintf(w, " => %s", *d.Outcome)
	}
	_, _ = fmt.Fprintln(w)
}

func newMeetingCreateCmd() *cobra.Command {
	var (
		in          meeting.CreateInput
		description string
		scheduled   string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a draft meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			in.Description, in.ScheduledFor = optional(description), optional(scheduled)
			return withCore(cmd, func(c *coord.Core) error {
				m, err := c.Meetings.Create(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, m, func(w io.Writer) { printMeeting(w, *m) })
			})
		},
	}
	cmd.Flags().StringVar(&in.MeetingType, "type", "", "Meeting type (default general)")
	cmd.Flags().StringVar(&in.CreatedBy, "by", "", "Creating agent id")
	cmd.Flags().StringSliceVar(&in.Participants, "participants", nil, "Participant agent ids")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&scheduled, "scheduled-for", "", "Scheduled time")
	return cmd
}

func newMeetingListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				ms, err := c.Meetings.List(cmd.Context(), status, limit)
				if err != nil {
					return err
				}
				return emit(cmd, ms, func(w io.Writer) {
					for _, m := range ms {
						printMeeting(w, m)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only meetings in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max meetings")
	return cmd
}

func newMeetingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Show a meeting with its turns, decisions and action items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				d, err := c.Meetings.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, d, func(w io.Writer) {
					printMeeting(w, d.Meeting)
					for _, t := range d.Turns {
						_, _ = fmt.Fprintf(w, "  #%d %s (%s): %s\n", t.TurnNumber, t.AgentName, t.TurnType, t.Content)
					}
					for _, dec := range d.Decisions {
						_, _ = fmt.Fprint(w, "  ")
						printDecision(w, dec)
					}
					for _, t := range d.ActionItems {
						_, _ = fmt.Fprint(w, "  ")
						printTask(w, t)
					}
				})
			})
		},
	}
}

func newMeetingTransitionCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <meeting-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				var (
					m   *models.Meeting
					err error
				)
				switch verb {
				case "start":
					m, err = c.Meetings.Start(cmd.Context(), args[0])
				case "end":
					m, err = c.Meetings.End(cmd.Context(), args[0])
				default:
					m, err = c.Meetings.Cancel(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				return emit(cmd, m, func(w io.Writer) { printMeeting(w, *m) })
			})
		},
	}
}

func newMeetingTurnCmd() *cobra.Command {
	var in meeting.TurnInput
	cmd := &cobra.Command{
		Use:   "turn <meeting-id> <content>",
		Short: "Add a turn to a meeting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.MeetingID, in.Content = args[0], args[1]
			return withCore(cmd, func(c *coord.Core) error {
				t, err := c.Meetings.AddTurn(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, t, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "turn #%d by %s\n", t.TurnNumber, t.AgentName)
				})
			})
		},
	}
	cmd.Flags().StringVar(&in.AgentName, "agent", "", "Speaking agent id")
	cmd.Flags().StringVar(&in.TurnType, "type", "", "Turn type (default comment)")
	return cmd
}

func newMeetingProposeCmd() *cobra.Command {
	var (
		in          decision.ProposeInput
		description string
	)
	cmd := &cobra.Command{
		Use:   "propose <meeting-id> <title>",
		Short: "Propose a decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.MeetingID, in.Title, in.Description = args[0], args[1], optional(description)
			return withCore(cmd, func(c *coord.Core) error {
				d, err := c.Decisions.Propose(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, d, func(w io.Writer) { printDecision(w, *d) })
			})
		},
	}
	cmd.Flags().StringVar(&in.ProposedBy, "by", "", "Proposing agent id")
	cmd.Flags().StringVar(&in.DecisionType, "type", "", "majority, unanimous, consensus or advisory (default majority)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	return cmd
}

func newMeetingVoteCmd() *cobra.Command {
	var (
		agent     string
		reasoning string
	)
	cmd := &cobra.Command{
		Use:   "vote <decision-id> <yes|no|abstain>",
		Short: "Cast or replace a vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				v, err := c.Decisions.CastVote(cmd.Context(), args[0], agent, args[1], optional(reasoning))
				if err != nil {
					return err
				}
				return emit(cmd, v, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s voted %s on %s\n", v.AgentName, v.Vote, v.DecisionID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Voting agent id")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Why")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newMeetingResolveCmd() *cobra.Command {
	var (
		outcome string
		by      string
	)
	cmd := &cobra.Command{
		Use:   "resolve <decision-id> <approved|rejected|cancelled>",
		Short: "Resolve a decision (once)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				d, err := c.Decisions.Resolve(cmd.Context(), args[0], args[1], optional(outcome), optional(by))
				if err != nil {
					return err
				}
				return emit(cmd, d, func(w io.Writer) { printDecision(w, *d) })
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "Outcome text")
	cmd.Flags().StringVar(&by, "by", "", "Resolving agent id")
	return cmd
}

func newMeetingTallyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tally <decision-id>",
		Short: "Count votes (advisory; never changes the decision)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				t, err := c.Decisions.Tally(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, t, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "yes %d  no %d  abstain %d  (%s, would pass: %v)\n", t.Yes, t.No, t.Abstain, t.DecisionType, t.WouldPass)
				})
			})
		},
	}
}

func printAgendaItem(w io.Writer, a models.AgendaItem) {
	_, _ = fmt.Fprintf(w, "%s  %2d. %-11s %s\n", a.ID, a.SortOrder, a.Status, a.Title)
}

func newMeetingAgendaCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "agenda <meeting-id> <title>",
		Short: "Append an agenda item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := meeting.AgendaInput{Title: args[1]}
			if cmd.Flags().Changed("minutes") {
				in.DurationMinutes = &minutes
			}
			return withCore(cmd, func(c *coord.Core) error {
				a, err := c.Meetings.AddAgendaItem(cmd.Context(), args[0], in)
				if err != nil {
					return err
				}
				return emit(cmd, a, func(w io.Writer) { printAgendaItem(w, *a) })
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Planned duration in minutes")
	return cmd
}

func newMeetingAgendaSetCmd() *cobra.Command {
	var (
		status string
		order  int
		title  string
	)
	cmd := &cobra.Command{
		Use:   "agenda-set <meeting-id> <item-id>",
		Short: "Change an agenda item's status, position or title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in meeting.AgendaUpdateInput
			if cmd.Flags().Changed("status") {
				in.Status = &status
			}
			if cmd.Flags().Changed("order") {
				in.SortOrder = &order
			}
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			return withCore(cmd, func(c *coord.Core) error {
				a, err := c.Meetings.UpdateAgendaItem(cmd.Context(), args[0], args[1], in)
				if err != nil {
					return err
				}
				return emit(cmd, a, func(w io.Writer) { printAgendaItem(w, *a) })
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, discussed or skipped")
	cmd.Flags().IntVar(&order, "order", 0, "New position (1-based)")
	cmd.Flags().StringVar(&title, "title", "", "New title")
	return cmd
}

func newMeetingLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <meeting-id> <agent>",
		Short: "Remove a participant from a meeting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				if err := c.Meetings.RemoveParticipant(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				return emit(cmd, map[string]bool{"deleted": true}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s left meeting %s\n", args[1], args[0])
				})
			})
		},
	}
}

func newMeetingAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <meeting-id>",
		Short: "Show a meeting's change history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				entries, err := c.Meetings.Audit(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return emit(cmd, entries, func(w io.Writer) {
					for _, e := range entries {
						_, _ = fmt.Fprintf(w, "%s  %-20s %-10s %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.AgentName, e.EntityID)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max entries")
	return cmd
}
