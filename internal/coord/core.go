// Package coord wires the four coordination processors over one store, roster and event bus.
// Every transport (HTTP, gRPC, CLI) goes through a Core.
package coord

import (
	"context"
	"log/slog"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/internal/decision"
	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/internal/meeting"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/internal/taskgraph"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Options tune a Core. Zero values mean the wall clock, random UUIDs and slog.Default.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type Core struct {
	Store     store.Store
	Roster    *roster.Roster
	Events    *events.Bus
	Neuron    *neuron.Bus
	Tasks     *taskgraph.Graph
	Decisions *decision.Engine
	Meetings  *meeting.Lifecycle
}

// New builds a Core. Task, decision and meeting notifications are posted through the Neuron bus.
func New(st store.Store, r *roster.Roster, opts Options) *Core {
	if r == nil {
		r = roster.Default()
	}
	ev := &events.Bus{Logger: opts.Logger, Now: opts.Now}

	bus := neuron.New(st, r, ev)
	bus.Logger, bus.Now, bus.NewID = opts.Logger, opts.Now, opts.NewID

	tasks := taskgraph.New(st, bus, ev)
	tasks.Logger, tasks.Now, tasks.NewID = opts.Logger, opts.Now, opts.NewID

	decisions := decision.New(st, bus, ev)
	decisions.Logger, decisions.Now, decisions.NewID = opts.Logger, opts.Now, opts.NewID

	meetings := meeting.New(st, r, bus, ev)
	meetings.Decisions, meetings.Tasks = decisions, tasks
	meetings.Logger, meetings.Now, meetings.NewID = opts.Logger, opts.Now, opts.NewID

	return &Core{
		Store:     st,
		Roster:    r,
		Events:    ev,
		Neuron:    bus,
		Tasks:     tasks,
		Decisions: decisions,
		Meetings:  meetings,
	}
}

// Team returns every roster agent with its live task counts.
func (c *Core) Team(ctx context.Context) ([]models.TeamMember, error) {
	blocked, err := c.Tasks.ListBlocked(ctx)
	if err != nil {
		return nil, err
	}
	blockedIDs := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		blockedIDs[b.ID] = true
	}
	out := make([]models.TeamMember, 0, len(c.Roster.Agents))
	for _, a := range c.Roster.Agents {
		tasks, err := c.Store.QueryTasks(ctx, store.TaskQuery{AssignedTo: a.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, models.TeamMember{Agent: a, TaskStats: taskgraph.Summarize(tasks, blockedIDs)})
	}
	return out, nil
}

// Health pings the store.
func (c *Core) Health(ctx context.Context) error {
	return c.Store.Ping(ctx)
}

func (c *Core) Close() error {
	return c.Store.Close()
}
