// Package taskgraph manages tasks and the dependency edges between them. Blocking is derived from
// the edges on every read and never stored.
package taskgraph

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Notifier posts bus messages. *neuron.Bus satisfies it.
type Notifier interface {
	Post(ctx context.Context, in neuron.PostInput) (*models.Message, error)
}

// Graph is the task graph processor.
type Graph struct {
	Store    store.Store
	Notifier Notifier
	Events   *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// New returns a Graph over st that notifies through n.
func New(st store.Store, n Notifier, ev *events.Bus) *Graph {
	return &Graph{Store: st, Notifier: n, Events: ev}
}

func (g *Graph) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Graph) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

func (g *Graph) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// TaskInput describes a new task. AssignedTo is optional except for Assign.
type TaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssignedTo  string  `json:"assigned_to,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	MeetingID   *string `json:"meeting_id,omitempty"`
	DecisionID  *string `json:"decision_id,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
}

// CreateTask stores a pending task without notifying anyone.
func (g *Graph) CreateTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, store.Validation("create task", "title is required")
	}
	prio := models.TaskPriority(in.Priority)
	if prio == "" {
		prio = models.TaskPriorityMedium
	}
	if !prio.Valid() {
		return nil, store.Validation("create task", "invalid priority %q, must be one of: critical, high, medium, low", in.Priority)
	}
	createdBy := in.CreatedBy
	if createdBy == "" {
		createdBy = models.SenderSystem
	}
	now := g.now()
	t := &models.Task{
		ID:          g.newID(),
		Title:       in.Title,
		Description: in.Description,
		Priority:    prio,
		Status:      models.TaskPending,
		DueDate:     in.DueDate,
		MeetingID:   in.MeetingID,
		DecisionID:  in.DecisionID,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a := strings.TrimSpace(in.AssignedTo); a != "" {
		t.AssignedTo = &a
	}
	if err := g.Store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "create", string(t.Status))
	g.Events.Emit(ctx, events.TaskCreated, t.ID, t)
	return t, nil
}

// Assign creates a task for an agent and then tells the agent about it on the bus. The notification
// is best effort: if it fails the task still exists and the failure is only logged.
func (g *Graph) Assign(ctx context.Context, in TaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.AssignedTo) == "" {
		return nil, store.Validation("assign", "title and assigned_to are required")
	}
	t, err := g.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "assign", string(t.Status))
	g.notify(ctx, "assignment", neuron.PostInput{
		SenderAgent: t.CreatedBy,
		MessageType: string(models.MessageTaskAssignment),
		Subject:     models.TaskSubjectPrefix + t.Title,
		Body:        t.Description,
		Channel:     models.ChannelTasks,
		Priority:    messagePriority(t.Priority),
		TargetAgent: *t.AssignedTo,
		Metadata:    map[string]any{"task_id": t.ID, "task_priority": string(t.Priority)},
	})
	return t, nil
}

func (g *Graph) notify(ctx context.Context, kind string, in neuron.PostInput) {
	if g.Notifier == nil {
		return
	}
	if _, err := g.Notifier.Post(ctx, in); err != nil {
		g.logger().Warn("task notification failed", "kind", kind, "target", in.TargetAgent, "err", err)
	}
}

// messagePriority maps the task scale onto the bus scale (medium becomes normal).
func messagePriority(p models.TaskPriority) string {
	if p == models.TaskPriorityMedium {
		return string(models.PriorityNormal)
	}
	return string(p)
}

func (g *Graph) Get(ctx context.Context, id string) (*models.Task, error) {
	return g.Store.GetTask(ctx, id)
}

// TaskUpdate holds the fields a caller may change. Status moves are checked against the task lifecycle.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// UpdateTask applies u. Completing a task posts a best-effort task_completion message.
func (g *Graph) UpdateTask(ctx context.Context, id string, u TaskUpdate) (*models.Task, error) {
	cur, err := g.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	p := store.TaskPatch{Title: u.Title, Description: u.Description, AssignedTo: u.AssignedTo, DueDate: u.DueDate}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, store.Validation("update task", "title cannot be empty")
	}
	if u.Priority != nil {
		prio := models.TaskPriority(*u.Priority)
		if !prio.Valid() {
			return nil, store.Validation("update task", "invalid priority %q", *u.Priority)
		}
		p.Priority = &prio
	}
	if u.Status != nil && models.TaskStatus(*u.Status) != cur.Status {
		to := models.TaskStatus(*u.Status)
		if !to.Valid() {
			return nil, store.Validation("update task", "invalid status %q, must be one of: pending, in_progress, done, cancelled", *u.Status)
		}
		if !cur.Status.CanTransition(to) {
			return nil, store.InvalidTransition("update task", "task %s cannot move from %s to %s", id, cur.Status, to)
		}
		from := cur.Status
		p.Status, p.FromStatus = &to, &from
	}
	t, err := g.Store.UpdateTask(ctx, id, p, g.now())
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "update", string(t.Status))
	g.Events.Emit(ctx, events.TaskUpdated, t.ID, t)
	if p.Status != nil && *p.Status == models.TaskDone {
		sender := t.CreatedBy
		if t.AssignedTo != nil {
			sender = *t.AssignedTo
		}
		g.notify(ctx, "completion", neuron.PostInput{
			SenderAgent: sender,
			MessageType: string(models.MessageTaskCompletion),
			Subject:     "Done: " + t.Title,
			Channel:     models.ChannelTasks,
			TargetAgent: t.CreatedBy,
			Metadata:    map[string]any{"task_id": t.ID},
		})
	}
	return t, nil
}

// AddDependency records that taskID depends on dependsOnID. Self-edges and edges that would close a
// cycle are rejected with CycleDetected; the check and the insert share one store transaction.
// Adding an existing edge is a no-op that returns it.
func (g *Graph) AddDependency(ctx context.Context, taskID, dependsOnID string) (*models.TaskDependency, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(dependsOnID) == "" {
		return nil, store.Validation("add dependency", "task_id and depends_on_task_id are required")
	}
	if taskID == dependsOnID {
		return nil, store.CycleDetected("add dependency", "task %s cannot depend on itself", taskID)
	}
	guard := func(existing []models.TaskDependency) error {
		if WouldCycle(existing, taskID, dependsOnID) {
			return store.CycleDetected("add dependency", "task %s already depends (transitively) on %s", dependsOnID, taskID)
		}
		return nil
	}
	dep, created, err := g.Store.InsertDependency(ctx, models.TaskDependency{TaskID: taskID, DependsOnTaskID: dependsOnID, CreatedAt: g.now()}, guard)
	if err != nil {
		return nil, err
	}
	if created {
		otel.RecordTaskOp(ctx, "depend", "")
		g.Events.Emit(ctx, events.DependencyAdded, taskID, dep)
	}
	return dep, nil
}

// WouldCycle reports whether adding taskID -> dependsOnID to edges closes a cycle, i.e. whether
// taskID is already reachable from dependsOnID.
func WouldCycle(edges []models.TaskDependency, taskID, dependsOnID string) bool {
	if taskID == dependsOnID {
		return true
	}
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e.TaskID] = append(adj[e.TaskID], e.DependsOnTaskID)
	}
	seen := map[string]bool{dependsOnID: true}
	queue := []string{dependsOnID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == taskID {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Dependencies lists taskID's edges with each dependency's title, status and assignee.
func (g *Graph) Dependencies(ctx context.Context, taskID string) ([]models.DependencyDetail, error) {
	if _, err := g.Store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return g.Store.ListDependencies(ctx, taskID)
}

// IsBlocked reports whether any dependency of taskID is not done.
func (g *Graph) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	deps, err := g.Dependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		if d.DependencyStatus != models.TaskDone {
			return true, nil
		}
	}
	return false, nil
}

// ListBlocked returns every non-done task held back by at least one non-done dependency.
func (g *Graph) ListBlocked(ctx context.Context) ([]models.BlockedTask, error) {
	return g.Store.ListBlocked(ctx)
}

// CheckDuplicate looks for open tasks with the same title (ignoring case), optionally scoped to an
// assignee. The result is advisory and never prevents creation.
func (g *Graph) CheckDuplicate(ctx context.Context, title, assignedTo string) (*models.DuplicateCheck, error) {
	if strings.TrimSpace(title) == "" {
		return nil, store.Validation("check duplicate", "title is required")
	}
	tasks, err := g.Store.QueryTasks(ctx, store.TaskQuery{
		TitleFold:     strings.TrimSpace(title),
		AssignedTo:    assignedTo,
		ExcludeStatus: []models.TaskStatus{models.TaskDone},
	})
	if err != nil {
		return nil, err
	}
	return &models.DuplicateCheck{IsDuplicate: len(tasks) > 0, ExistingTasks: tasks}, nil
}

// Workload returns the agent's tasks, most urgent first and newest first within a priority, with
// counts by status and by derived blocking.
func (g *Graph) Workload(ctx context.Context, agent string) (*models.Workload, error) {
	if strings.TrimSpace(agent) == "" {
		return nil, store.Validation("workload", "agent is required")
	}
	tasks, err := g.Store.QueryTasks(ctx, store.TaskQuery{AssignedTo: agent})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
	})
	blocked, err := g.Store.ListBlocked(ctx)
	if err != nil {
		return nil, err
	}
	blockedIDs := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		blockedIDs[b.ID] = true
	}
	w := &models.Workload{Agent: agent, Tasks: tasks}
	w.Summary = Summarize(tasks, blockedIDs)
	return w, nil
}

// Summarize counts tasks by status. blocked names the tasks that are currently blocked.
func Summarize(tasks []models.Task, blocked map[string]bool) models.WorkloadSummary {
	s := models.WorkloadSummary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskPending:
			s.Pending++
		case models.TaskInProgress:
			s.InProgress++
		case models.TaskDone:
			s.Done++
		case models.TaskCancelled:
			s.Cancelled++
		}
		if blocked[t.ID] {
			s.Blocked++
		}
	}
	return s
}
