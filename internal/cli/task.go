package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/taskgraph"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks and their dependencies",
	}
	cmd.AddCommand(newTaskAssignCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskDependCmd())
	cmd.AddCommand(newTaskBlockedCmd())
	cmd.AddCommand(newTaskDuplicateCmd())
	cmd.AddCommand(newTaskWorkloadCmd())
	return cmd
}

func newTaskAssignCmd() *cobra.Command {
	var (
		in          taskgraph.TaskInput
		description string
		due         string
		meetingID   string
	)
	cmd := &cobra.Command{
		Use:   "assign <title>",
		Short: "Create a task and notify its assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			in.Description, in.DueDate, in.MeetingID = optional(description), optional(due), optional(meetingID)
			return withCore(cmd, func(c *coord.Core) error {
				t, err := c.Tasks.Assign(cmd.Context(), in)
				if err != nil {
					return err
				}
				return emit(cmd, t, func(w io.Writer) { printTask(w, *t) })
			})
		},
	}
	cmd.Flags().StringVar(&in.AssignedTo, "to", "", "Assignee agent id")
	cmd.Flags().StringVar(&in.CreatedBy, "by", "", "Creating agent id (default system)")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "critical, high, medium or low (default medium)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&due, "due", "", "Due date")
	cmd.Flags().StringVar(&meetingID, "meeting", "", "Meeting this task came out of")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				t, err := c.Tasks.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				deps, err := c.Tasks.Dependencies(cmd.Context(), t.ID)
				if err != nil {
					return err
				}
				out := map[string]any{"task": t, "dependencies": deps}
				return emit(cmd, out, func(w io.Writer) {
					printTask(w, *t)
					for _, d := range deps {
						_, _ = fmt.Fprintf(w, "  depends on %s [%s] %s\n", d.DependsOnTaskID, d.DependencyStatus, d.DependencyTitle)
					}
				})
			})
		},
	}
}

func newTaskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to pending, in_progress, done or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := args[1]
			return withCore(cmd, func(c *coord.Core) error {
				t, err := c.Tasks.UpdateTask(cmd.Context(), args[0], taskgraph.TaskUpdate{Status: &status})
				if err != nil {
					return err
				}
				return emit(cmd, t, func(w io.Writer) { printTask(w, *t) })
			})
		},
	}
}

func newTaskDependCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "depend <task-id> <depends-on-id>",
		Short: "Record that a task cannot start until another is done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				dep, err := c.Tasks.AddDependency(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd, dep, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s now depends on %s\n", dep.TaskID, dep.DependsOnTaskID)
				})
			})
		},
	}
}

func newTaskBlockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked [task-id]",
		Short: "List blocked tasks, or check one task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				if len(args) == 1 {
					b, err := c.Tasks.IsBlocked(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return emit(cmd, map[string]any{"task_id": args[0], "blocked": b}, func(w io.Writer) {
						_, _ = fmt.Fprintf(w, "%s blocked: %v\n", args[0], b)
					})
				}
				blocked, err := c.Tasks.ListBlocked(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, blocked, func(w io.Writer) {
					if len(blocked) == 0 {
						_, _ = fmt.Fprintln(w, "Nothing is blocked")
						return
					}
					for _, b := range blocked {
						printTask(w, b.Task)
						for _, d := range b.BlockingDependencies {
							_, _ = fmt.Fprintf(w, "  waiting on %s [%s] %s\n", d.DependsOn, d.Status, d.Title)
						}
					}
				})
			})
		},
	}
}

func newTaskDuplicateCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "duplicate <title>",
		Short: "Check for open tasks with the same title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				d, err := c.Tasks.CheckDuplicate(cmd.Context(), args[0], assignee)
				if err != nil {
					return err
				}
				return emit(cmd, d, func(w io.Writer) {
					if !d.IsDuplicate {
						_, _ = fmt.Fprintln(w, "No duplicate")
						return
					}
					for _, t := range d.ExistingTasks {
						printTask(w, t)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "Only tasks assigned to this agent")
	return cmd
}

func newTaskWorkloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload <agent>",
		Short: "Show an agent's tasks, highest priority first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(c *coord.Core) error {
				wl, err := c.Tasks.Workload(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, wl, func(w io.Writer) {
					for _, t := range wl.Tasks {
						printTask(w, t)
					}
					printMember(w, models.TeamMember{Agent: models.Agent{Name: wl.Agent}, TaskStats: wl.Summary})
				})
			})
		},
	}
}
