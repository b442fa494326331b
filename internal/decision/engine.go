// Package decision records proposals raised in meetings, the votes cast on them and their explicit
// resolution. Vote counts are advisory: nothing here resolves a decision on its own.
package decision

import (
	"context"
	"fmt"
	"log/slog"
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

type Engine struct {
	Store    store.Store
	Notifier Notifier
	Events   *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

func New(st store.Store, n Notifier, ev *events.Bus) *Engine {
	return &Engine{Store: st, Notifier: n, Events: ev}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

type ProposeInput struct {
	MeetingID    string  `json:"meeting_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	ProposedBy   string  `json:"proposed_by,omitempty"`
	DecisionType string  `json:"decision_type,omitempty"`
	Options      any     `json:"options,omitempty"`
}

// Propose records a new decision in the proposed state.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (*models.Decision, error) {
	if strings.TrimSpace(in.MeetingID) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, store.Validation("propose", "meeting_id and title are required")
	}
	typ := models.DecisionType(in.DecisionType)
	if typ == "" {
		typ = models.DecisionMajority
	}
	if !typ.Valid() {
		return nil, store.Validation("propose", "invalid decision_type %q, must be one of: majority, unanimous, consensus, advisory", in.DecisionType)
	}
	if _, err := e.Store.GetMeeting(ctx, in.MeetingID); err != nil {
		return nil, err
	}
	by := in.ProposedBy
	if by == "" {
		by = models.SenderSystem
	}
	d := &models.Decision{
		ID:           e.newID(),
		MeetingID:    in.MeetingID,
		Title:        in.Title,
		Description:  in.Description,
		ProposedBy:   by,
		DecisionType: typ,
		Options:      in.Options,
		Status:       models.DecisionProposed,
		CreatedAt:    e.now(),
	}
	if err := e.Store.InsertDecision(ctx, d); err != nil {
		return nil, err
	}
	e.Events.Emit(ctx, events.DecisionProposed, d.ID, d)
	return d, nil
}

// CastVote stores agent's vote, replacing any earlier vote by the same agent. Resolved decisions
// reject new votes with InvalidTransition.
func (e *Engine) CastVote(ctx context.Context, decisionID, agent, value string, reasoning *string) (*models.Vote, error) {
	if strings.TrimSpace(decisionID) == "" || strings.TrimSpace(agent) == "" {
		return nil, store.Validation("cast vote", "decision_id and agent_name are required")
	}
	v := models.VoteValue(value)
	if !v.Valid() {
		return nil, store.Validation("cast vote", "invalid vote %q, must be one of: yes, no, abstain", value)
	}
	vote := &models.Vote{
		ID:         e.newID(),
		DecisionID: decisionID,
		AgentName:  agent,
		Vote:       v,
		Reasoning:  reasoning,
		CreatedAt:  e.now(),
	}
	if err := e.Store.ReplaceVote(ctx, vote); err != nil {
		return nil, err
	}
	otel.RecordVote(ctx, string(v))
	e.Events.Emit(ctx, events.VoteCast, decisionID, vote)
	return vote, nil
}

// Resolve moves a proposed decision to a terminal status. Only one of several concurrent
// resolvers succeeds.
func (e *Engine) Resolve(ctx context.Context, decisionID, status string, outcome, resolvedBy *string) (*models.Decision, error) {
	to := models.DecisionStatus(status)
	if !to.Terminal() {
		return nil, store.Validation("resolve", "invalid status %q, must be one of: approved, rejected, cancelled", status)
	}
	d, err := e.Store.ResolveDecision(ctx, decisionID, to, outcome, resolvedBy, e.now())
	if err != nil {
		return nil, err
	}
	otel.RecordResolution(ctx, string(to))
	e.Events.Emit(ctx, events.DecisionResolved, d.ID, d)
	e.announce(ctx, d)
	return d, nil
}

func (e *Engine) announce(ctx context.Context, d *models.Decision) {
	if e.Notifier == nil {
		return
	}
	sender := models.SenderSystem
	if d.ResolvedBy != nil && *d.ResolvedBy != "" {
		sender = *d.ResolvedBy
	}
	subject := fmt.Sprintf("Decision %s: %s", d.Status, d.Title)
	_, err := e.Notifier.Post(ctx, neuron.PostInput{
		SenderAgent: sender,
		MessageType: string(models.MessageAnnouncement),
		Subject:     subject,
		Body:        d.Outcome,
		Channel:     models.ChannelDecisions,
		Metadata:    map[string]any{"decision_id": d.ID, "meeting_id": d.MeetingID, "status": string(d.Status)},
	})
	if err != nil {
		e.logger().Warn("decision announcement failed", "decision", d.ID, "err", err)
	}
}

// Get returns the decision with its votes.
func (e *Engine) Get(ctx context.Context, id string) (*models.Decision, error) {
	d, err := e.Store.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Votes, err = e.Store.ListVotes(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the meeting's decisions, each with its votes.
func (e *Engine) List(ctx context.Context, meetingID string) ([]models.Decision, error) {
	ds, err := e.Store.ListDecisions(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	for i := range ds {
		if ds[i].Votes, err = e.Store.ListVotes(ctx, ds[i].ID); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Tally counts the live votes and reports whether the decision's policy would pass on them.
func (e *Engine) Tally(ctx context.Context, decisionID string) (*models.Tally, error) {
	d, err := e.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	t := Count(d.DecisionType, d.Votes)
	t.DecisionID = d.ID
	return &t, nil
}

// Count tallies votes under typ. Majority passes on more yes than no; unanimous and consensus pass
// on at least one yes and no "no"; advisory decisions never pass on their own.
func Count(typ models.DecisionType, votes []models.Vote) models.Tally {
	t := models.Tally{DecisionType: typ}
	for _, v := range votes {
		switch v.Vote {
		case models.VoteYes:
			t.Yes++
		case models.VoteNo:
			t.No++
		case models.VoteAbstain:
			t.Abstain++
		}
	}
	switch typ {
	case models.DecisionMajority:
		t.WouldPass = t.Yes > t.No
	case models.DecisionUnanimous, models.DecisionConsensus:
		t.WouldPass = t.Yes > 0 && t.No == 0
	}
	return t
}
