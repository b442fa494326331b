// Package agenttools binds bus, task and vote operations to one agent's identity.
package agenttools

import (
	"context"
	"strings"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Toolkit exposes the operations an agent performs on its own behalf. The agent id is baked into
// every call so a tool-calling agent cannot post, acknowledge or vote as someone else.
type Toolkit struct {
	Core  *coord.Core
	Agent string
}

// New returns a toolkit for agent. The agent id must be non-empty.
func New(c *coord.Core, agent string) (*Toolkit, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, store.Validation("agent tools", "agent is required")
	}
	return &Toolkit{Core: c, Agent: agent}, nil
}

// Say posts in as this agent. Any sender in the input is replaced.
func (t *Toolkit) Say(ctx context.Context, in neuron.PostInput) (*models.Message, error) {
	in.SenderAgent, in.SenderName = t.Agent, ""
	return t.Core.Neuron.Post(ctx, in)
}

// Inbox returns this agent's unacknowledged queue.
func (t *Toolkit) Inbox(ctx context.Context) ([]models.Message, error) {
	return t.Core.Neuron.AgentQueue(ctx, t.Agent)
}

// AckAll acknowledges every message currently in the inbox and returns how many it saw.
func (t *Toolkit) AckAll(ctx context.Context) (int, error) {
	msgs, err := t.Inbox(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if _, err := t.Core.Neuron.Acknowledge(ctx, m.ID, t.Agent); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

// Claim flags the resource unless another agent holds a live claim on it. It returns the
// conflict check it made and the new flag, which is nil when the resource was already claimed.
// A live claim by this agent is reported as held without posting a second flag.
func (t *Toolkit) Claim(ctx context.Context, resourceType, resourceID string) (*models.ConflictCheck, *models.Message, error) {
	chk, err := t.Core.Neuron.CheckConflict(ctx, resourceType, resourceID, t.Agent)
	if err != nil {
		return nil, nil, err
	}
	if chk.ConflictExists {
		return chk, nil, nil
	}
	m, err := t.Core.Neuron.FlagConflict(ctx, neuron.FlagInput{SenderAgent: t.Agent, ResourceType: resourceType, ResourceID: resourceID})
	if err != nil {
		return nil, nil, err
	}
	return chk, m, nil
}

// Vote casts or replaces this agent's vote.
func (t *Toolkit) Vote(ctx context.Context, decisionID, value string, reasoning *string) (*models.Vote, error) {
	return t.Core.Decisions.CastVote(ctx, decisionID, t.Agent, value, reasoning)
}

// Workload returns the tasks assigned to this agent.
func (t *Toolkit) Workload(ctx context.Context) (*models.Workload, error) {
	return t.Core.Tasks.Workload(ctx, t.Agent)
}
