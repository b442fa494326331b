// Package neuron is the shared message bus agents use to talk to each other: prioritized delivery,
// idempotent acknowledgment, briefings, handoffs and soft resource claims.
package neuron

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

const (
	// ClaimWindow is how long a conflict flag holds a resource.
	ClaimWindow = time.Hour
	// ConflictInboxWindow is how far back ListConflicts looks.
	ConflictInboxWindow = 72 * time.Hour
)

// DefaultReportHeadings are required by ValidateReport when the caller names none.
var DefaultReportHeadings = []string{"summary", "findings", "recommendations", "next_steps"}

// Bus is the Neuron message bus. It is stateless over the store; every call reads or writes through.
type Bus struct {
	Store  store.Store
	Roster *roster.Roster
	Events *events.Bus
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// New returns a Bus over st with the wall clock and random UUIDs.
func New(st store.Store, r *roster.Roster, ev *events.Bus) *Bus {
	return &Bus{Store: st, Roster: r, Events: ev}
}

func (b *Bus) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func (b *Bus) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

func (b *Bus) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// PostInput is a message to publish. Empty optional fields take the bus defaults.
type PostInput struct {
	SenderAgent string         `json:"sender_agent"`
	SenderName  string         `json:"sender_name,omitempty"`
	MessageType string         `json:"message_type"`
	Subject     string         `json:"subject"`
	Body        *string        `json:"body,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// build validates in and turns it into an unacknowledged message stamped now.
func (b *Bus) build(op string, in PostInput) (*models.Message, error) {
	sender := strings.TrimSpace(in.SenderAgent)
	if sender == "" {
		return nil, store.Validation(op, "sender_agent is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, store.Validation(op, "subject is required")
	}
	mt := models.MessageType(in.MessageType)
	if !mt.Valid() {
		allowed := make([]string, len(models.MessageTypes))
		for i, t := range models.MessageTypes {
			allowed[i] = string(t)
		}
		return nil, store.Validation(op, "invalid message_type %q, must be one of: %s", in.MessageType, strings.Join(allowed, ", "))
	}
	prio := models.Priority(in.Priority)
	if prio == "" {
		prio = models.PriorityNormal
	}
	if !prio.Valid() {
		return nil, store.Validation(op, "invalid priority %q, must be one of: critical, high, normal, low", in.Priority)
	}
	if !b.Roster.Allows(sender) {
		return nil, store.Validation(op, "unknown sender %q", sender)
	}
	name := in.SenderName
	if name == "" {
		name = b.Roster.DisplayName(sender)
	}
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelGeneral
	}
	target := in.TargetAgent
	if target == "" {
		target = models.TargetAll
	}
	return &models.Message{
		ID:          b.newID(),
		SenderAgent: sender,
		SenderName:  name,
		MessageType: mt,
		Subject:     in.Subject,
		Body:        in.Body,
		Channel:     channel,
		Priority:    prio,
		TargetAgent: target,
		Metadata:    in.Metadata,
		CreatedAt:   b.now(),
	}, nil
}

// Post validates and stores one message.
func (b *Bus) Post(ctx context.Context, in PostInput) (*models.Message, error) {
	m, err := b.build("post", in)
	if err != nil {
		return nil, err
	}
	if err := b.Store.InsertMessages(ctx, m); err != nil {
		return nil, err
	}
	b.posted(ctx, m)
	return m, nil
}

func (b *Bus) posted(ctx context.Context, msgs ...*models.Message) {
	for _, m := range msgs {
		otel.RecordMessagePosted(ctx, string(m.MessageType), string(m.Priority))
		b.Events.Emit(ctx, events.MessagePosted, m.ID, m)
	}
}

// FeedFilter narrows Feed. Agent matches messages sent by, addressed to, or broadcast to the agent.
type FeedFilter struct {
	Channel string
	Agent   string
	Type    string
	Since   time.Time
	Limit   int
}

// Feed lists messages newest first. Limit defaults to 50 and is capped at 200.
func (b *Bus) Feed(ctx context.Context, f FeedFilter) ([]models.Message, error) {
	if f.Type != "" && !models.MessageType(f.Type).Valid() {
		return nil, store.Validation("feed", "invalid message_type %q", f.Type)
	}
	return b.Store.QueryMessages(ctx, store.MessageQuery{
		Channel:   f.Channel,
		Involving: f.Agent,
		Type:      models.MessageType(f.Type),
		Since:     f.Since,
		Limit:     ClampLimit(f.Limit),
	})
}

// ClampLimit applies the feed default and cap.
func ClampLimit(n int) int {
	if n <= 0 {
		return models.DefaultFeedLimit
	}
	if n > models.MaxFeedLimit {
		return models.MaxFeedLimit
	}
	return n
}

// AgentQueue returns the agent's unacknowledged inbox: messages addressed to it or to everyone,
// most urgent first, newest first within a priority.
func (b *Bus) AgentQueue(ctx context.Context, agent string) ([]models.Message, error) {
	if strings.TrimSpace(agent) == "" {
		return nil, store.Validation("agent queue", "agent is required")
	}
	return b.Store.QueryMessages(ctx, store.MessageQuery{AddressedTo: agent, Unacknowledged: true, ByPriority: true})
}

// Acknowledge marks a message read. Repeating it is harmless: the first acknowledger and time stick.
func (b *Bus) Acknowledge(ctx context.Context, messageID, agent string) (*models.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, store.Validation("acknowledge", "message_id is required")
	}
	if agent == "" {
		agent = models.UnknownAcknowledge
	}
	at := b.now()
	m, err := b.Store.AcknowledgeMessage(ctx, messageID, agent, at)
	if err != nil {
		return nil, err
	}
	first := m.AcknowledgedAt != nil && m.AcknowledgedAt.Equal(at) && m.AcknowledgedBy != nil && *m.AcknowledgedBy == agent
	otel.RecordAcknowledge(ctx, agent, first)
	if first {
		b.Events.Emit(ctx, events.MessageAcknowledged, m.ID, m)
	}
	return m, nil
}

// BriefingInput is a structured briefing. RequiredHeadings, when set, must all be present.
type BriefingInput struct {
	SenderAgent      string           `json:"sender_agent"`
	SenderName       string           `json:"sender_name,omitempty"`
	Subject          string           `json:"subject"`
	Sections         []models.Section `json:"sections"`
	Channel          string           `json:"channel,omitempty"`
	Priority         string           `json:"priority,omitempty"`
	TargetAgent      string           `json:"target_agent,omitempty"`
	RequiredHeadings []string         `json:"required_sections,omitempty"`
}

// RenderSections joins sections as "## heading\ncontent" blocks separated by a blank line.
func RenderSections(sections []models.Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = "## " + s.Heading + "\n" + s.Content
	}
	return strings.Join(parts, "\n\n")
}

// PostBriefing renders the sections into one briefing message.
func (b *Bus) PostBriefing(ctx context.Context, in BriefingInput) (*models.Message, error) {
	if len(in.Sections) == 0 {
		return nil, store.Validation("briefing", "sections are required")
	}
	for i, s := range in.Sections {
		if strings.TrimSpace(s.Heading) == "" {
			return nil, store.Validation("briefing", "section %d has no heading", i)
		}
	}
	if len(in.RequiredHeadings) > 0 {
		if v := ValidateReport(in.Sections, in.RequiredHeadings); !v.Valid {
			return nil, store.Validation("briefing", "missing required sections: %s", strings.Join(v.MissingSections, ", "))
		}
	}
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelBriefings
	}
	body := RenderSections(in.Sections)
	sections := make([]any, len(in.Sections))
	for i, s := range in.Sections {
		sections[i] = map[string]any{"heading": s.Heading, "content": s.Content}
	}
	return b.Post(ctx, PostInput{
		SenderAgent: in.SenderAgent,
		SenderName:  in.SenderName,
		MessageType: string(models.MessageBriefing),
		Subject:     in.Subject,
		Body:        &body,
		Channel:     channel,
		Priority:    in.Priority,
		TargetAgent: in.TargetAgent,
		Metadata:    map[string]any{"sections": sections},
	})
}

// ValidateReport reports which required headings are missing from sections, ignoring case.
// An empty required list means DefaultReportHeadings.
func ValidateReport(sections []models.Section, required []string) models.ReportValidation {
	if len(required) == 0 {
		required = DefaultReportHeadings
	}
	provided := make([]string, 0, len(sections))
	have := make(map[string]bool, len(sections))
	for _, s := range sections {
		h := strings.ToLower(strings.TrimSpace(s.Heading))
		provided = append(provided, h)
		have[h] = true
	}
	missing := []string{}
	for _, r := range required {
		if !have[strings.ToLower(strings.TrimSpace(r))] {
			missing = append(missing, r)
		}
	}
	return models.ReportValidation{
		Valid:            len(missing) == 0,
		ProvidedSections: provided,
		RequiredSections: append([]string(nil), required...),
		MissingSections:  missing,
	}
}

// HandoffInput transfers work from one agent to another.
type HandoffInput struct {
	From        string         `json:"from_agent"`
	To          string         `json:"to_agent"`
	Subject     string         `json:"subject"`
	Body        *string        `json:"body,omitempty"`
	TaskContext map[string]any `json:"task_context,omitempty"`
	Priority    string         `json:"priority,omitempty"`
}

// Handoff writes a handoff notice and the matching task assignment in one store transaction.
// Either both messages exist afterwards or neither does.
func (b *Bus) Handoff(ctx context.Context, in HandoffInput) (*models.HandoffResult, error) {
	if strings.TrimSpace(in.To) == "" {
		return nil, store.Validation("handoff", "to_agent is required")
	}
	if in.To == models.TargetAll {
		return nil, store.Validation("handoff", "to_agent must name a single agent")
	}
	prio := in.Priority
	if prio == "" {
		prio = string(models.PriorityHigh)
	}
	notice, err := b.build("handoff", PostInput{
		SenderAgent: in.From,
		MessageType: string(models.MessageHandoff),
		Subject:     in.Subject,
		Body:        in.Body,
		Channel:     models.ChannelHandoffs,
		Priority:    prio,
		TargetAgent: in.To,
		Metadata:    map[string]any{"task_context": in.TaskContext},
	})
	if err != nil {
		return nil, err
	}
	assignment, err := b.build("handoff", PostInput{
		SenderAgent: in.From,
		MessageType: string(models.MessageTaskAssignment),
		Subject:     models.HandoffPrefix + in.Subject,
		Body:        in.Body,
		Channel:     models.ChannelTasks,
		Priority:    prio,
		TargetAgent: in.To,
		Metadata: map[string]any{
			"handoff_from":       notice.SenderAgent,
			"handoff_message_id": notice.ID,
			"task_context":       in.TaskContext,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := b.Store.InsertMessages(ctx, notice, assignment); err != nil {
		return nil, err
	}
	b.posted(ctx, notice, assignment)
	b.logger().Info("handoff", "from", notice.SenderAgent, "to", in.To, "subject", in.Subject)
	return &models.HandoffResult{HandoffMessage: *notice, TaskAssignment: *assignment, TaskAssignmentID: assignment.ID}, nil
}

// ListConflicts returns unacknowledged conflict flags raised in the last 72 hours, newest first.
func (b *Bus) ListConflicts(ctx context.Context) ([]models.Message, error) {
	return b.Store.QueryMessages(ctx, store.MessageQuery{
		Type:           models.MessageConflictFlag,
		Unacknowledged: true,
		Since:          b.now().Add(-ConflictInboxWindow),
	})
}

// ClaimActive reports whether a claim made at createdAt still holds at now.
func ClaimActive(now, createdAt time.Time, window time.Duration) bool {
	age := now.Sub(createdAt)
	return age >= 0 && age < window
}

// CheckConflict looks for a live claim on (resourceType, resourceID): the newest unacknowledged
// conflict flag for that pair from the last hour. The answer is advisory.
func (b *Bus) CheckConflict(ctx context.Context, resourceType, resourceID, requestingAgent string) (*models.ConflictCheck, error) {
	if strings.TrimSpace(resourceType) == "" || strings.TrimSpace(resourceID) == "" {
		return nil, store.Validation("check conflict", "resource_type and resource_id are required")
	}
	now := b.now()
	flags, err := b.Store.QueryMessages(ctx, store.MessageQuery{
		Type:           models.MessageConflictFlag,
		Unacknowledged: true,
		Since:          now.Add(-ClaimWindow),
	})
	if err != nil {
		return nil, err
	}
	out := &models.ConflictCheck{RequestingAgent: requestingAgent}
	for _, f := range flags {
		if !ClaimActive(now, f.CreatedAt, ClaimWindow) {
			continue
		}
		if metaString(f.Metadata, "resource_type") != resourceType || metaString(f.Metadata, "resource_id") != resourceID {
			continue
		}
		by, at, id := f.SenderAgent, f.CreatedAt, f.ID
		out.ConflictExists = true
		out.ClaimedBy, out.ClaimedAt, out.MessageID = &by, &at, &id
		break
	}
	otel.RecordConflictCheck(ctx, out.ConflictExists)
	return out, nil
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// FlagInput claims a resource by raising a conflict flag.
type FlagInput struct {
	SenderAgent  string  `json:"sender_agent"`
	ResourceType string  `json:"resource_type"`
	ResourceID   string  `json:"resource_id"`
	Subject      string  `json:"subject,omitempty"`
	Body         *string `json:"body,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	TargetAgent  string  `json:"target_agent,omitempty"`
}

// FlagConflict posts a conflict_flag whose metadata names the claimed resource.
func (b *Bus) FlagConflict(ctx context.Context, in FlagInput) (*models.Message, error) {
	if strings.TrimSpace(in.ResourceType) == "" || strings.TrimSpace(in.ResourceID) == "" {
		return nil, store.Validation("flag conflict", "resource_type and resource_id are required")
	}
	subject := in.Subject
	if subject == "" {
		subject = "Claiming " + in.ResourceType + " " + in.ResourceID
	}
	prio := in.Priority
	if prio == "" {
		prio = string(models.PriorityHigh)
	}
	return b.Post(ctx, PostInput{
		SenderAgent: in.SenderAgent,
		MessageType: string(models.MessageConflictFlag),
		Subject:     subject,
		Body:        in.Body,
		Priority:    prio,
		TargetAgent: in.TargetAgent,
		Metadata:    map[string]any{"resource_type": in.ResourceType, "resource_id": in.ResourceID},
	})
}

// ProtocolStats counts messages by type and acknowledgment over the trailing windowDays (default 7).
func (b *Bus) ProtocolStats(ctx context.Context, windowDays int) (*models.ProtocolStats, error) {
	if windowDays <= 0 {
		windowDays = models.DefaultStatsWindowDays
	}
	since := b.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	byType, err := b.Store.GroupMessages(ctx, since, store.GroupByType)
	if err != nil {
		return nil, err
	}
	byAck, err := b.Store.GroupMessages(ctx, since, store.GroupByAcknowledged)
	if err != nil {
		return nil, err
	}
	out := &models.ProtocolStats{
		WindowDays:     windowDays,
		ByType:         byType,
		Acknowledged:   byAck["true"],
		Unacknowledged: byAck["false"],
	}
	out.Total = out.Acknowledged + out.Unacknowledged
	out.AcknowledgmentRatePct = RatePct(out.Acknowledged, out.Total)
	return out, nil
}

// RatePct is part/total as a rounded percentage, 0 when total is 0.
func RatePct(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

// Status is a health snapshot of the bus: totals plus the last day's activity by type and sender.
func (b *Bus) Status(ctx context.Context) (*models.BusStatus, error) {
	day := b.now().Add(-24 * time.Hour)
	total, err := b.Store.CountMessages(ctx, store.MessageQuery{})
	if err != nil {
		return nil, err
	}
	last24, err := b.Store.CountMessages(ctx, store.MessageQuery{Since: day})
	if err != nil {
		return nil, err
	}
	unacked, err := b.Store.CountMessages(ctx, store.MessageQuery{Unacknowledged: true})
	if err != nil {
		return nil, err
	}
	byType, err := b.Store.GroupMessages(ctx, day, store.GroupByType)
	if err != nil {
		return nil, err
	}
	byAgent, err := b.Store.GroupMessages(ctx, day, store.GroupBySender)
	if err != nil {
		return nil, err
	}
	byChannel, err := b.Store.GroupMessages(ctx, day, store.GroupByChannel)
	if err != nil {
		return nil, err
	}
	return &models.BusStatus{
		TotalMessages:  total,
		Last24h:        last24,
		Unacknowledged: unacked,
		ActiveAgents:   len(byAgent),
		ActiveChannels: len(byChannel),
		ByType:         byType,
		ByAgent:        byAgent,
	}, nil
}
