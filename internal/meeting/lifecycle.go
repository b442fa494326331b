// Package meeting drives meetings through draft, in_progress, completed and cancelled, and records
// what happens in them: participants, agenda, numbered turns, decisions and action items.
package meeting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plfl21/openclaw-meeting-hub/internal/decision"
	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/internal/taskgraph"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Notifier posts bus messages. *neuron.Bus satisfies it.
type Notifier interface {
	Post(ctx context.Context, in neuron.PostInput) (*models.Message, error)
}

// Lifecycle is the meeting processor. Decisions and Tasks are used for meeting detail and action
// items and may be nil in tests that do not need them.
type Lifecycle struct {
	Store     store.Store
	Roster    *roster.Roster
	Notifier  Notifier
	Decisions *decision.Engine
	Tasks     *taskgraph.Graph
	Events    *events.Bus
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

func New(st store.Store, r *roster.Roster, n Notifier, ev *events.Bus) *Lifecycle {
	return &Lifecycle{Store: st, Roster: r, Notifier: n, Events: ev}
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Lifecycle) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}

func (l *Lifecycle) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

type CreateInput struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	MeetingType  string   `json:"meeting_type,omitempty"`
	ScheduledFor *string  `json:"scheduled_for,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Create stores a draft meeting together with its listed participants. Participant names are
// checked before anything is written, so a rejected list leaves no meeting behind.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (*models.Meeting, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, store.Validation("create meeting", "title is required")
	}
	typ := models.MeetingType(in.MeetingType)
	if typ == "" {
		typ = models.MeetingGeneral
	}
	if !typ.Valid() {
		return nil, store.Validation("create meeting", "invalid meeting_type %q", in.MeetingType)
	}
	by := in.CreatedBy
	if by == "" {
		by = models.SenderSystem
	}
	now := l.now()
	m := &models.Meeting{
		ID:           l.newID(),
		Title:        in.Title,
		Description:  in.Description,
		MeetingType:  typ,
		Status:       models.MeetingDraft,
		ScheduledFor: in.ScheduledFor,
		CreatedBy:    by,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	seen := make(map[string]bool, len(in.Participants))
	participants := make([]*models.Participant, 0, len(in.Participants))
	for _, agent := range in.Participants {
		agent = strings.TrimSpace(agent)
		if agent == "" {
			return nil, store.Validation("create meeting", "participant names cannot be empty")
		}
		if seen[agent] {
			return nil, store.Validation("create meeting", "%s is listed more than once", agent)
		}
		seen[agent] = true
		participants = append(participants, l.participant(m.ID, agent, ""))
	}
	if err := l.Store.InsertMeeting(ctx, m, participants...); err != nil {
		return nil, err
	}
	m.ParticipantCount = len(participants)
	l.audit(ctx, m.ID, by, "meeting.created", "meeting", m.ID, map[string]any{"title": m.Title, "participants": in.Participants})
	l.Events.Emit(ctx, events.MeetingChanged, m.ID, m)
	return m, nil
}

// audit records a meeting change. Failures are logged and never returned.
func (l *Lifecycle) audit(ctx context.Context, meetingID, actor, action, entityType, entityID string, details map[string]any) {
	if actor == "" {
		actor = models.SenderSystem
	}
	e := &models.AuditEntry{
		ID:         l.newID(),
		MeetingID:  meetingID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		AgentName:  actor,
		Details:    details,
		CreatedAt:  l.now(),
	}
	if err := l.Store.InsertAudit(ctx, e); err != nil {
		l.logger().Warn("meeting audit failed", "meeting", meetingID, "action", action, "err", err)
	}
}

// Audit returns the meeting's change history, newest first.
func (l *Lifecycle) Audit(ctx context.Context, meetingID string, limit int) ([]models.AuditEntry, error) {
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return l.Store.ListAudit(ctx, meetingID, neuron.ClampLimit(limit))
}

// Get returns the meeting with its participants, agenda, turns, decisions and action items.
func (l *Lifecycle) Get(ctx context.Context, id string) (*models.MeetingDetail, error) {
	m, err := l.Store.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &models.MeetingDetail{Meeting: *m}
	if d.Participants, err = l.Store.ListParticipants(ctx, id); err != nil {
		return nil, err
	}
	if d.Agenda, err = l.Store.ListAgenda(ctx, id); err != nil {
		return nil, err
	}
	if d.Turns, err = l.Store.ListTurns(ctx, id); err != nil {
		return nil, err
	}
	if l.Decisions != nil {
		d.Decisions, err = l.Decisions.List(ctx, id)
	} else {
		d.Decisions, err = l.Store.ListDecisions(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if d.ActionItems, err = l.Store.QueryTasks(ctx, store.TaskQuery{MeetingID: id}); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns meetings newest first, optionally filtered by status.
func (l *Lifecycle) List(ctx context.Context, status string, limit int) ([]models.Meeting, error) {
	s := models.MeetingStatus(status)
	if s != "" && !s.Valid() {
		return nil, store.Validation("list meetings", "invalid status %q", status)
	}
	return l.Store.ListMeetings(ctx, s, neuron.ClampLimit(limit))
}

// UpdateInput holds the meeting fields callers may edit. Status changes go through Start, End and
// Cancel.
type UpdateInput struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	MeetingType  *string `json:"meeting_type,omitempty"`
	CurrentPhase *string `json:"current_phase,omitempty"`
	ScheduledFor *string `json:"scheduled_for,omitempty"`
}

func (l *Lifecycle) Update(ctx context.Context, id string, in UpdateInput) (*models.Meeting, error) {
	p := store.MeetingPatch{Title: in.Title, Description: in.Description, CurrentPhase: in.CurrentPhase, ScheduledFor: in.ScheduledFor}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, store.Validation("update meeting", "title cannot be empty")
	}
	if in.MeetingType != nil {
		t := models.MeetingType(*in.MeetingType)
		if !t.Valid() {
			return nil, store.Validation("update meeting", "invalid meeting_type %q", *in.MeetingType)
		}
		p.MeetingType = &t
	}
	m, err := l.Store.UpdateMeeting(ctx, id, p, l.now())
	if err != nil {
		return nil, err
	}
	l.audit(ctx, m.ID, "", "meeting.updated", "meeting", m.ID, updatedFields(in))
	l.Events.Emit(ctx, events.MeetingChanged, m.ID, m)
	return m, nil
}

func updatedFields(in UpdateInput) map[string]any {
	out := map[string]any{}
	if in.Title != nil {
		out["title"] = *in.Title
	}
	if in.Description != nil {
		out["description"] = *in.Description
	}
	if in.MeetingType != nil {
		out["meeting_type"] = *in.MeetingType
	}
	if in.CurrentPhase != nil {
		out["current_phase"] = *in.CurrentPhase
	}
	if in.ScheduledFor != nil {
		out["scheduled_for"] = *in.ScheduledFor
	}
	return out
}

// SetPhase records the meeting's current phase label.
func (l *Lifecycle) SetPhase(ctx context.Context, id, phase string) (*models.Meeting, error) {
	if strings.TrimSpace(phase) == "" {
		return nil, store.Validation("set phase", "phase is required")
	}
	return l.Update(ctx, id, UpdateInput{CurrentPhase: &phase})
}

// Start moves a draft meeting to in_progress. Starting any other meeting fails with
// InvalidTransition.
func (l *Lifecycle) Start(ctx context.Context, id string) (*models.Meeting, error) {
	return l.transition(ctx, id, models.MeetingDraft, models.MeetingInProgress)
}

// End completes an in-progress meeting.
func (l *Lifecycle) End(ctx context.Context, id string) (*models.Meeting, error) {
	return l.transition(ctx, id, models.MeetingInProgress, models.MeetingCompleted)
}

// Cancel cancels a meeting that is still draft or in progress.
func (l *Lifecycle) Cancel(ctx context.Context, id string) (*models.Meeting, error) {
	cur, err := l.Store.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Status.CanTransition(models.MeetingCancelled) {
		return nil, store.InvalidTransition("cancel meeting", "meeting %s is already %s", id, cur.Status)
	}
	return l.transition(ctx, id, cur.Status, models.MeetingCancelled)
}

func (l *Lifecycle) transition(ctx context.Context, id string, from, to models.MeetingStatus) (*models.Meeting, error) {
	m, err := l.Store.TransitionMeeting(ctx, id, from, to, l.now())
	if err != nil {
		return nil, err
	}
	otel.RecordMeetingTransition(ctx, string(to))
	l.audit(ctx, m.ID, "", "meeting."+string(to), "meeting", m.ID, map[string]any{"from": string(from), "to": string(to)})
	l.Events.Emit(ctx, events.MeetingChanged, m.ID, m)
	l.announce(ctx, m)
	return m, nil
}

var announcements = map[models.MeetingStatus]string{
	models.MeetingInProgress: "Meeting started: ",
	models.MeetingCompleted:  "Meeting ended: ",
	models.MeetingCancelled:  "Meeting cancelled: ",
}

func (l *Lifecycle) announce(ctx context.Context, m *models.Meeting) {
	if l.Notifier == nil {
		return
	}
	_, err := l.Notifier.Post(ctx, neuron.PostInput{
		SenderAgent: models.SenderSystem,
		MessageType: string(models.MessageAnnouncement),
		Subject:     announcements[m.Status] + m.Title,
		Channel:     models.ChannelMeetings,
		Metadata:    map[string]any{"meeting_id": m.ID, "status": string(m.Status)},
	})
	if err != nil {
		l.logger().Warn("meeting announcement failed", "meeting", m.ID, "status", m.Status, "err", err)
	}
}

type TurnInput struct {
	MeetingID string         `json:"meeting_id"`
	AgentName string         `json:"agent_name"`
	Content   string         `json:"content"`
	TurnType  string         `json:"turn_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AddTurn appends a turn to a draft or in-progress meeting. Turn numbers are assigned by the store
// and are strictly increasing per meeting even under concurrent writers.
func (l *Lifecycle) AddTurn(ctx context.Context, in TurnInput) (*models.Turn, error) {
	if strings.TrimSpace(in.AgentName) == "" || strings.TrimSpace(in.Content) == "" {
		return nil, store.Validation("add turn", "agent_name and content are required")
	}
	m, err := l.Store.GetMeeting(ctx, in.MeetingID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, store.InvalidTransition("add turn", "meeting %s is %s", m.ID, m.Status)
	}
	typ := in.TurnType
	if typ == "" {
		typ = models.TurnTypeComment
	}
	t := &models.Turn{
		ID:        l.newID(),
		MeetingID: m.ID,
		AgentName: in.AgentName,
		Content:   in.Content,
		TurnType:  typ,
		Metadata:  in.Metadata,
		CreatedAt: l.now(),
	}
	if err := l.Store.InsertTurn(ctx, t); err != nil {
		return nil, err
	}
	l.audit(ctx, m.ID, t.AgentName, "turn.added", "turn", t.ID, map[string]any{"turn_number": t.TurnNumber})
	l.Events.Emit(ctx, events.TurnAdded, m.ID, t)
	return t, nil
}

func (l *Lifecycle) Turns(ctx context.Context, meetingID string) ([]models.Turn, error) {
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return l.Store.ListTurns(ctx, meetingID)
}

// AddParticipant adds agent to the meeting.
func (l *Lifecycle) AddParticipant(ctx context.Context, meetingID, agent, role string) (*models.Participant, error) {
	if strings.TrimSpace(agent) == "" {
		return nil, store.Validation("add participant", "agent_name is required")
	}
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	p := l.participant(meetingID, agent, role)
	if err := l.Store.InsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	l.audit(ctx, meetingID, agent, "participant.added", "participant", p.ID, map[string]any{"role": p.Role})
	return p, nil
}

// participant builds a participant record. The display name comes from the roster when the agent
// is listed there.
func (l *Lifecycle) participant(meetingID, agent, role string) *models.Participant {
	if role == "" {
		role = models.RoleParticipant
	}
	name := agent
	if l.Roster != nil {
		name = l.Roster.DisplayName(agent)
	}
	return &models.Participant{
		ID:          l.newID(),
		MeetingID:   meetingID,
		AgentName:   agent,
		DisplayName: name,
		Role:        role,
		JoinedAt:    l.now(),
	}
}

// RemoveParticipant takes agent off the meeting's participant list.
func (l *Lifecycle) RemoveParticipant(ctx context.Context, meetingID, agent string) error {
	if strings.TrimSpace(agent) == "" {
		return store.Validation("remove participant", "agent_name is required")
	}
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return err
	}
	if err := l.Store.DeleteParticipant(ctx, meetingID, agent); err != nil {
		return err
	}
	l.audit(ctx, meetingID, agent, "participant.removed", "participant", agent, nil)
	return nil
}

type AgendaInput struct {
	Title           string  `json:"title"`
	Description     *string `json:"description,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

// AddAgendaItem appends an item to the end of the meeting's agenda.
func (l *Lifecycle) AddAgendaItem(ctx context.Context, meetingID string, in AgendaInput) (*models.AgendaItem, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, store.Validation("add agenda item", "title is required")
	}
	if in.DurationMinutes != nil && *in.DurationMinutes < 0 {
		return nil, store.Validation("add agenda item", "duration_minutes cannot be negative")
	}
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	a := &models.AgendaItem{
		ID:              l.newID(),
		MeetingID:       meetingID,
		Title:           in.Title,
		Description:     in.Description,
		DurationMinutes: in.DurationMinutes,
		Status:          models.AgendaPending,
		CreatedAt:       l.now(),
	}
	if err := l.Store.InsertAgendaItem(ctx, a); err != nil {
		return nil, err
	}
	l.audit(ctx, meetingID, "", "agenda.added", "agenda_item", a.ID, map[string]any{"title": a.Title, "sort_order": a.SortOrder})
	return a, nil
}

type AgendaUpdateInput struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	SortOrder       *int    `json:"sort_order,omitempty"`
	Status          *string `json:"status,omitempty"`
}

// UpdateAgendaItem edits an agenda item. Status follows pending, in_progress, then discussed or
// skipped; discussed and skipped are final. Setting the current status again is a no-op.
func (l *Lifecycle) UpdateAgendaItem(ctx context.Context, meetingID, itemID string, in AgendaUpdateInput) (*models.AgendaItem, error) {
	p := store.AgendaPatch{Title: in.Title, Description: in.Description, DurationMinutes: in.DurationMinutes, SortOrder: in.SortOrder}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, store.Validation("update agenda item", "title cannot be empty")
	}
	if in.DurationMinutes != nil && *in.DurationMinutes < 0 {
		return nil, store.Validation("update agenda item", "duration_minutes cannot be negative")
	}
	if in.SortOrder != nil && *in.SortOrder < 1 {
		return nil, store.Validation("update agenda item", "sort_order must be at least 1")
	}
	cur, err := l.Store.GetAgendaItem(ctx, meetingID, itemID)
	if err != nil {
		return nil, err
	}
	details := map[string]any{}
	if in.Status != nil {
		to := models.AgendaStatus(*in.Status)
		if !to.Valid() {
			return nil, store.Validation("update agenda item", "invalid status %q", *in.Status)
		}
		if to != cur.Status {
			if !cur.Status.CanTransition(to) {
				return nil, store.InvalidTransition("update agenda item", "agenda item %s is %s, cannot move to %s", itemID, cur.Status, to)
			}
			from := cur.Status
			p.Status, p.FromStatus = &to, &from
			details["from"], details["to"] = string(from), string(to)
		}
	}
	if p.Title == nil && p.Description == nil && p.DurationMinutes == nil && p.SortOrder == nil && p.Status == nil {
		if in.Status != nil {
			return cur, nil
		}
		return nil, store.Validation("update agenda item", "no fields to update")
	}
	a, err := l.Store.UpdateAgendaItem(ctx, meetingID, itemID, p)
	if err != nil {
		return nil, err
	}
	if in.SortOrder != nil {
		details["sort_order"] = *in.SortOrder
	}
	if in.Title != nil {
		details["title"] = *in.Title
	}
	l.audit(ctx, meetingID, "", "agenda.updated", "agenda_item", a.ID, details)
	return a, nil
}

// AddActionItem creates a task tied to the meeting. An assigned action item notifies its assignee.
func (l *Lifecycle) AddActionItem(ctx context.Context, meetingID string, in taskgraph.TaskInput) (*models.Task, error) {
	if l.Tasks == nil {
		return nil, store.Validation("add action item", "task graph not configured")
	}
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	in.MeetingID = &meetingID
	var (
		t   *models.Task
		err error
	)
	if strings.TrimSpace(in.AssignedTo) != "" {
		t, err = l.Tasks.Assign(ctx, in)
	} else {
		t, err = l.Tasks.CreateTask(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	l.audit(ctx, meetingID, t.CreatedBy, "action_item.added", "task", t.ID, map[string]any{"title": t.Title})
	return t, nil
}

// ActionItems lists the tasks created for the meeting.
func (l *Lifecycle) ActionItems(ctx context.Context, meetingID string) ([]models.Task, error) {
	if _, err := l.Store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return l.Store.QueryTasks(ctx, store.TaskQuery{MeetingID: meetingID})
}
