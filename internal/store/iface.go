package store

import (
	"context"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Store is the persistence interface for messages, tasks, dependency edges, meetings and decisions.
// Implementations: the SQLite store returned by Open and *postgres.Store.
type Store interface {
	// Messages
	InsertMessages(ctx context.Context, msgs ...*models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	QueryMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	CountMessages(ctx context.Context, q MessageQuery) (int, error)
	GroupMessages(ctx context.Context, since time.Time, by MessageGroup) (map[string]int, error)
	AcknowledgeMessage(ctx context.Context, id, agent string, at time.Time) (*models.Message, error)

	// Tasks
	InsertTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch, at time.Time) (*models.Task, error)
	QueryTasks(ctx context.Context, q TaskQuery) ([]models.Task, error)

	// Dependency edges
	InsertDependency(ctx context.Context, dep models.TaskDependency, guard EdgeGuard) (*models.TaskDependency, bool, error)
	ListDependencies(ctx context.Context, taskID string) ([]models.DependencyDetail, error)
	ListBlocked(ctx context.Context) ([]models.BlockedTask, error)

	// Meetings
	InsertMeeting(ctx context.Context, m *models.Meeting, participants ...*models.Participant) error
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
	ListMeetings(ctx context.Context, status models.MeetingStatus, limit int) ([]models.Meeting, error)
	UpdateMeeting(ctx context.Context, id string, p MeetingPatch, at time.Time) (*models.Meeting, error)
	TransitionMeeting(ctx context.Context, id string, from, to models.MeetingStatus, at time.Time) (*models.Meeting, error)
	InsertTurn(ctx context.Context, t *models.Turn) error
	ListTurns(ctx context.Context, meetingID string) ([]models.Turn, error)
	InsertParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, meetingID string) ([]models.Participant, error)
	DeleteParticipant(ctx context.Context, meetingID, agent string) error
	InsertAgendaItem(ctx context.Context, a *models.AgendaItem) error
	ListAgenda(ctx context.Context, meetingID string) ([]models.AgendaItem, error)
	GetAgendaItem(ctx context.Context, meetingID, id string) (*models.AgendaItem, error)
	UpdateAgendaItem(ctx context.Context, meetingID, id string, p AgendaPatch) (*models.AgendaItem, error)
	InsertAudit(ctx context.Context, e *models.AuditEntry) error
	ListAudit(ctx context.Context, meetingID string, limit int) ([]models.AuditEntry, error)

	// Decisions
	InsertDecision(ctx context.Context, d *models.Decision) error
	GetDecision(ctx context.Context, id string) (*models.Decision, error)
	ListDecisions(ctx context.Context, meetingID string) ([]models.Decision, error)
	ResolveDecision(ctx context.Context, id string, status models.DecisionStatus, outcome, resolvedBy *string, at time.Time) (*models.Decision, error)
	ReplaceVote(ctx context.Context, v *models.Vote) error
	ListVotes(ctx context.Context, decisionID string) ([]models.Vote, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// MessageQuery filters messages. Zero fields do not filter. Results are newest first unless
// ByPriority is set, in which case priority rank comes first.
type MessageQuery struct {
	Channel        string
	Type           models.MessageType
	Sender         string
	Involving      string // sent by, addressed to, or broadcast
	AddressedTo    string // addressed to or broadcast
	Since          time.Time
	Unacknowledged bool
	ByPriority     bool
	Limit          int
}

// MessageGroup is a column messages can be counted by.
type MessageGroup string

const (
	GroupByType         MessageGroup = "message_type"
	GroupBySender       MessageGroup = "sender_agent"
	GroupByChannel      MessageGroup = "channel"
	GroupByAcknowledged MessageGroup = "acknowledged"
)

// TaskQuery filters tasks. TitleFold matches the title case-insensitively.
type TaskQuery struct {
	AssignedTo    string
	MeetingID     string
	TitleFold     string
	ExcludeStatus []models.TaskStatus
	Limit         int
}

// TaskPatch lists the task fields an update may touch. FromStatus guards a status change.
type TaskPatch struct {
	Title       *string
	Description *string
	AssignedTo  *string
	Priority    *models.TaskPriority
	DueDate     *string
	Status      *models.TaskStatus
	FromStatus  *models.TaskStatus
}

// MeetingPatch lists the meeting fields an update may touch. Status is deliberately absent.
type MeetingPatch struct {
	Title        *string
	Description  *string
	MeetingType  *models.MeetingType
	CurrentPhase *string
	ScheduledFor *string
}

// AgendaPatch lists the agenda item fields an update may touch. FromStatus guards a status change.
type AgendaPatch struct {
	Title           *string
	Description     *string
	DurationMinutes *int
	SortOrder       *int
	Status          *models.AgendaStatus
	FromStatus      *models.AgendaStatus
}

// EdgeGuard inspects the existing edge set inside the insert transaction and rejects the new edge by
// returning an error.
type EdgeGuard func(existing []models.TaskDependency) error
