// Package models provides shared types for the Meeting Hub HTTP API, the gRPC surface and external tools.
// JSON field names match the API wire format and are stable for use by pkg/client.
package models

import "time"

// Message is a Neuron bus message. Only the acknowledgment fields ever change after insert.
type Message struct {
	ID             string         `json:"id"`
	Seq            int64          `json:"seq,omitempty"`
	SenderAgent    string         `json:"sender_agent"`
	SenderName     string         `json:"sender_name"`
	MessageType    MessageType    `json:"message_type"`
	Subject        string         `json:"subject"`
	Body           *string        `json:"body,omitempty"`
	Channel        string         `json:"channel"`
	Priority       Priority       `json:"priority"`
	TargetAgent    string         `json:"target_agent"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy *string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AckState reports where the message is in its acknowledgment lifecycle.
func (m *Message) AckState() AckState {
	return AckStateOf(m.Acknowledged)
}

// Task is an action item, optionally tied to a meeting or a decision.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	AssignedTo  *string      `json:"assigned_to,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	DueDate     *string      `json:"due_date,omitempty"`
	MeetingID   *string      `json:"meeting_id,omitempty"`
	DecisionID  *string      `json:"decision_id,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskDependency is a directed edge: TaskID cannot start until DependsOnTaskID is done.
type TaskDependency struct {
	TaskID          string    `json:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// DependencyDetail is an edge annotated with the dependency's current state.
type DependencyDetail struct {
	TaskDependency
	DependencyTitle  string     `json:"dependency_title"`
	DependencyStatus TaskStatus `json:"dependency_status"`
	AssignedTo       *string    `json:"assigned_to,omitempty"`
}

// BlockingDependency identifies a dependency that is not yet done.
type BlockingDependency struct {
	DependsOn string     `json:"depends_on"`
	Title     string     `json:"dep_title"`
	Status    TaskStatus `json:"dep_status"`
}

// BlockedTask is a non-done task with at least one non-done dependency.
type BlockedTask struct {
	Task
	BlockingDependencies []BlockingDependency `json:"blocking_dependencies"`
}

// WorkloadSummary counts an agent's tasks by status.
type WorkloadSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Cancelled  int `json:"cancelled"`
	Blocked    int `json:"blocked"`
}

// Workload is an agent's task list ordered by priority then recency.
type Workload struct {
	Agent   string          `json:"agent"`
	Tasks   []Task          `json:"tasks"`
	Summary WorkloadSummary `json:"summary"`
}

// DuplicateCheck is the advisory result of a duplicate-title lookup.
type DuplicateCheck struct {
	IsDuplicate   bool   `json:"is_duplicate"`
	ExistingTasks []Task `json:"existing_tasks"`
}

// Decision is a proposal raised in a meeting. Resolution is always explicit.
type Decision struct {
	ID           string         `json:"id"`
	MeetingID    string         `json:"meeting_id"`
	Title        string         `json:"title"`
	Description  *string        `json:"description,omitempty"`
	ProposedBy   string         `json:"proposed_by"`
	DecisionType DecisionType   `json:"decision_type"`
	Options      any            `json:"options,omitempty"`
	Status       DecisionStatus `json:"status"`
	Outcome      *string        `json:"outcome,omitempty"`
	ResolvedBy   *string        `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Votes        []Vote         `json:"votes,omitempty"`
}

// Vote is the single live vote of one agent on one decision.
type Vote struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	AgentName  string    `json:"agent_name"`
	Vote       VoteValue `json:"vote"`
	Reasoning  *string   `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tally is an informational vote count. It never changes decision status.
type Tally struct {
	DecisionID   string       `json:"decision_id"`
	DecisionType DecisionType `json:"decision_type"`
	Yes          int          `json:"yes"`
	No           int          `json:"no"`
	Abstain      int          `json:"abstain"`
	WouldPass    bool         `json:"would_pass"`
}

// Meeting is a structured session whose turns, decisions and action items hang off it.
type Meeting struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  *string       `json:"description,omitempty"`
	MeetingType  MeetingType   `json:"meeting_type"`
	Status       MeetingStatus `json:"status"`
	CurrentPhase *string       `json:"current_phase,omitempty"`
	ScheduledFor *string       `json:"scheduled_for,omitempty"`
	CreatedBy    string        `json:"created_by"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	ParticipantCount int `json:"participant_count,omitempty"`
	DecisionCount    int `json:"decision_count,omitempty"`
	ActionItemCount  int `json:"action_item_count,omitempty"`
}

// MeetingDetail is a meeting with everything attached to it.
type MeetingDetail struct {
	Meeting
	Participants []Participant `json:"participants"`
	Agenda       []AgendaItem  `json:"agenda"`
	Turns        []Turn        `json:"turns"`
	Decisions    []Decision    `json:"decisions"`
	ActionItems  []Task        `json:"action_items"`
}

// Turn is one contribution to a meeting. TurnNumber is strictly increasing per meeting.
type Turn struct {
	ID         string         `json:"id"`
	MeetingID  string         `json:"meeting_id"`
	AgentName  string         `json:"agent_name"`
	Content    string         `json:"content"`
	TurnType   string         `json:"turn_type"`
	TurnNumber int            `json:"turn_number"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Participant is an agent or human attending a meeting.
type Participant struct {
	ID          string    `json:"id"`
	MeetingID   string    `json:"meeting_id"`
	AgentName   string    `json:"agent_name"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// AgendaItem is one ordered agenda entry.
type AgendaItem struct {
	ID              string       `json:"id"`
	MeetingID       string       `json:"meeting_id"`
	Title           string       `json:"title"`
	Description     *string      `json:"description,omitempty"`
	DurationMinutes *int         `json:"duration_minutes,omitempty"`
	SortOrder       int          `json:"sort_order"`
	Status          AgendaStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
}

// AuditEntry records one change to a meeting or something attached to it.
type AuditEntry struct {
	ID         string         `json:"id"`
	MeetingID  string         `json:"meeting_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	AgentName  string         `json:"agent_name"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Agent is a roster entry.
type Agent struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Role        string   `json:"role" yaml:"role"`
	Color       string   `json:"color,omitempty" yaml:"color,omitempty"`
	Domains     []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// TeamMember is a roster entry with its live task counts.
type TeamMember struct {
	Agent
	TaskStats WorkloadSummary `json:"task_stats"`
}

// Section is a titled block of a briefing or report.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// ConflictCheck is the answer to "is this resource currently claimed?".
type ConflictCheck struct {
	ConflictExists  bool       `json:"conflict_exists"`
	ClaimedBy       *string    `json:"claimed_by"`
	ClaimedAt       *time.Time `json:"claimed_at"`
	RequestingAgent string     `json:"requesting_agent"`
	MessageID       *string    `json:"message_id,omitempty"`
}

// HandoffResult holds both halves of an atomic handoff.
type HandoffResult struct {
	HandoffMessage   Message `json:"handoff_message"`
	TaskAssignment   Message `json:"task_assignment"`
	TaskAssignmentID string  `json:"task_assignment_id"`
}

// ReportValidation lists which required headings a report is missing.
type ReportValidation struct {
	Valid            bool     `json:"valid"`
	ProvidedSections []string `json:"provided_sections"`
	RequiredSections []string `json:"required_sections"`
	MissingSections  []string `json:"missing_sections"`
}

// ProtocolStats summarizes bus usage over a trailing window.
type ProtocolStats struct {
	WindowDays            int            `json:"window_days"`
	ByType                map[string]int `json:"by_type"`
	Total                 int            `json:"total"`
	Acknowledged          int            `json:"acknowledged"`
	Unacknowledged        int            `json:"unacknowledged"`
	AcknowledgmentRatePct int            `json:"acknowledgment_rate_pct"`
}

// BusStatus is the overall Neuron health snapshot.
type BusStatus struct {
	TotalMessages  int            `json:"total_messages"`
	Last24h        int            `json:"last_24h"`
	Unacknowledged int            `json:"unacknowledged"`
	ActiveAgents   int            `json:"active_agents"`
	ActiveChannels int            `json:"active_channels"`
	ByType         map[string]int `json:"by_type"`
	ByAgent        map[string]int `json:"by_agent"`
}

// Event is a state change pushed to SSE subscribers and external relays.
type Event struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
