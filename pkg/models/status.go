package models

// MessageType is the closed set of Neuron message kinds.
type MessageType string

const (
	MessageStatusUpdate   MessageType = "status_update"
	MessageTaskAssignment MessageType = "task_assignment"
	MessageTaskCompletion MessageType = "task_completion"
	MessageConflictFlag   MessageType = "conflict_flag"
	MessageBriefing       MessageType = "briefing"
	MessageQuestion       MessageType = "question"
	MessageResponse       MessageType = "response"
	MessageAnnouncement   MessageType = "announcement"
	MessageDiagnostic     MessageType = "diagnostic"
	MessageHandoff        MessageType = "handoff"
)

// MessageTypes lists every valid MessageType in declaration order.
var MessageTypes = []MessageType{
	MessageStatusUpdate, MessageTaskAssignment, MessageTaskCompletion, MessageConflictFlag,
	MessageBriefing, MessageQuestion, MessageResponse, MessageAnnouncement,
	MessageDiagnostic, MessageHandoff,
}

func (t MessageType) Valid() bool {
	for _, v := range MessageTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Priority orders delivery in an agent queue. Lower Rank is delivered first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns 0 for critical through 3 for low; unknown priorities sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// TaskPriority is the priority scale for tasks (medium instead of normal).
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityLow      TaskPriority = "low"
)

var taskPriorityRank = map[TaskPriority]int{
	TaskPriorityCritical: 0,
	TaskPriorityHigh:     1,
	TaskPriorityMedium:   2,
	TaskPriorityLow:      3,
}

func (p TaskPriority) Valid() bool {
	_, ok := taskPriorityRank[p]
	return ok
}

func (p TaskPriority) Rank() int {
	if r, ok := taskPriorityRank[p]; ok {
		return r
	}
	return len(taskPriorityRank)
}

// TaskStatus is the stored lifecycle of a task. "blocked" is derived and never stored.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskDone, TaskCancelled},
	TaskInProgress: {TaskPending, TaskDone, TaskCancelled},
	TaskDone:       nil,
	TaskCancelled:  nil,
}

func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

func (s TaskStatus) Terminal() bool {
	return s.Valid() && len(taskTransitions[s]) == 0
}

// CanTransition reports whether a task may move from s to to.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	return contains(taskTransitions[s], to)
}

// DecisionStatus is the lifecycle of a decision. Only proposed is non-terminal.
type DecisionStatus string

const (
	DecisionProposed  DecisionStatus = "proposed"
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionCancelled DecisionStatus = "cancelled"
)

var decisionTransitions = map[DecisionStatus][]DecisionStatus{
	DecisionProposed:  {DecisionApproved, DecisionRejected, DecisionCancelled},
	DecisionApproved:  nil,
	DecisionRejected:  nil,
	DecisionCancelled: nil,
}

func (s DecisionStatus) Valid() bool {
	_, ok := decisionTransitions[s]
	return ok
}

func (s DecisionStatus) Terminal() bool {
	return s.Valid() && len(decisionTransitions[s]) == 0
}

func (s DecisionStatus) CanTransition(to DecisionStatus) bool {
	return contains(decisionTransitions[s], to)
}

// DecisionType names the voting policy a decision is proposed under. The policy is advisory.
type DecisionType string

const (
	DecisionMajority  DecisionType = "majority"
	DecisionUnanimous DecisionType = "unanimous"
	DecisionConsensus DecisionType = "consensus"
	DecisionAdvisory  DecisionType = "advisory"
)

func (t DecisionType) Valid() bool {
	switch t {
	case DecisionMajority, DecisionUnanimous, DecisionConsensus, DecisionAdvisory:
		return true
	}
	return false
}

// VoteValue is a single agent's vote.
type VoteValue string

const (
	VoteYes     VoteValue = "yes"
	VoteNo      VoteValue = "no"
	VoteAbstain VoteValue = "abstain"
)

func (v VoteValue) Valid() bool {
	return v == VoteYes || v == VoteNo || v == VoteAbstain
}

// AckState is the acknowledgment lifecycle of a message. It only moves forward: once acknowledged,
// later acknowledgments keep the first acknowledger.
type AckState string

const (
	AckUnacknowledged AckState = "unacknowledged"
	AckAcknowledged   AckState = "acknowledged"
)

var ackTransitions = map[AckState][]AckState{
	AckUnacknowledged: {AckAcknowledged},
	AckAcknowledged:   nil,
}

func (s AckState) Valid() bool {
	_, ok := ackTransitions[s]
	return ok
}

func (s AckState) Terminal() bool {
	return s.Valid() && len(ackTransitions[s]) == 0
}

func (s AckState) CanTransition(to AckState) bool {
	return contains(ackTransitions[s], to)
}

// Stored is the value of the messages.acknowledged column for s.
func (s AckState) Stored() bool {
	return s == AckAcknowledged
}

// AckStateOf maps the stored acknowledged flag back to its state.
func AckStateOf(acknowledged bool) AckState {
	if acknowledged {
		return AckAcknowledged
	}
	return AckUnacknowledged
}

// MeetingStatus is the lifecycle of a meeting.
type MeetingStatus string

const (
	MeetingDraft      MeetingStatus = "draft"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingCancelled  MeetingStatus = "cancelled"
)

var meetingTransitions = map[MeetingStatus][]MeetingStatus{
	MeetingDraft:      {MeetingInProgress, MeetingCancelled},
	MeetingInProgress: {MeetingCompleted, MeetingCancelled},
	MeetingCompleted:  nil,
	MeetingCancelled:  nil,
}

func (s MeetingStatus) Valid() bool {
	_, ok := meetingTransitions[s]
	return ok
}

func (s MeetingStatus) Terminal() bool {
	return s.Valid() && len(meetingTransitions[s]) == 0
}

func (s MeetingStatus) CanTransition(to MeetingStatus) bool {
	return contains(meetingTransitions[s], to)
}

// AgendaStatus tracks an agenda item through a meeting.
type AgendaStatus string

const (
	AgendaPending    AgendaStatus = "pending"
	AgendaInProgress AgendaStatus = "in_progress"
	AgendaDiscussed  AgendaStatus = "discussed"
	AgendaSkipped    AgendaStatus = "skipped"
)

var agendaTransitions = map[AgendaStatus][]AgendaStatus{
	AgendaPending:    {AgendaInProgress, AgendaDiscussed, AgendaSkipped},
	AgendaInProgress: {AgendaPending, AgendaDiscussed, AgendaSkipped},
	AgendaDiscussed:  nil,
	AgendaSkipped:    nil,
}

func (s AgendaStatus) Valid() bool {
	_, ok := agendaTransitions[s]
	return ok
}

func (s AgendaStatus) Terminal() bool {
	return s.Valid() && len(agendaTransitions[s]) == 0
}

func (s AgendaStatus) CanTransition(to AgendaStatus) bool {
	return contains(agendaTransitions[s], to)
}

// MeetingType classifies a meeting.
type MeetingType string

const (
	MeetingGeneral       MeetingType = "general"
	MeetingStandup       MeetingType = "standup"
	MeetingPlanning      MeetingType = "planning"
	MeetingReview        MeetingType = "review"
	MeetingRetrospective MeetingType = "retrospective"
	MeetingDecision      MeetingType = "decision"
	MeetingBrainstorm    MeetingType = "brainstorm"
)

var MeetingTypes = []MeetingType{
	MeetingGeneral, MeetingStandup, MeetingPlanning, MeetingReview,
	MeetingRetrospective, MeetingDecision, MeetingBrainstorm,
}

func (t MeetingType) Valid() bool {
	for _, v := range MeetingTypes {
		if v == t {
			return true
		}
	}
	return false
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Well-known values shared by the bus, the API and the CLI.
const (
	TargetAll          = "all"
	SenderSystem       = "system"
	ChannelGeneral     = "general"
	ChannelBriefings   = "briefings"
	ChannelHandoffs    = "handoffs"
	ChannelTasks       = "tasks"
	ChannelMeetings    = "meetings"
	ChannelDecisions   = "decisions"
	TurnTypeComment    = "comment"
	RoleParticipant    = "participant"
	HandoffPrefix      = "[Handoff] "
	TaskSubjectPrefix  = "Task: "
	UnknownAcknowledge = "unknown"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultFeedLimit           = 50
	MaxFeedLimit               = 200
	DefaultSSEChannelBuffer    = 256
	DefaultStatsWindowDays     = 7
)
