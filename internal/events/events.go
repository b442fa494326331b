// Package events fans state changes out to best-effort observers (SSE clients, the Kafka relay,
// Slack escalation). Publishing never fails the operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Event types.
const (
	MessagePosted       = "message.posted"
	MessageAcknowledged = "message.acknowledged"
	TaskCreated         = "task.created"
	TaskUpdated         = "task.updated"
	DependencyAdded     = "task.dependency_added"
	MeetingChanged      = "meeting.changed"
	TurnAdded           = "meeting.turn_added"
	DecisionProposed    = "decision.proposed"
	VoteCast            = "decision.vote_cast"
	DecisionResolved    = "decision.resolved"
)

// Publisher receives events. Implementations must not block for long; errors are logged by the caller.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev models.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// Bus delivers each event to every registered publisher. A failing publisher is logged and
// does not stop delivery to the rest. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	subs   []namedPublisher
	Logger *slog.Logger
	Now    func() time.Time
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Add registers p under name (used in logs).
func (b *Bus) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, namedPublisher{name: name, pub: p})
	b.mu.Unlock()
}

// Emit builds an event and publishes it. It is safe to call on a nil *Bus.
func (b *Bus) Emit(ctx context.Context, typ, subject string, data any) {
	if b == nil {
		return
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	_ = b.Publish(ctx, models.Event{Type: typ, Subject: subject, Data: data, CreatedAt: now().UTC()})
}

// Publish implements Publisher. It always returns nil.
func (b *Bus) Publish(ctx context.Context, ev models.Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	subs := append([]namedPublisher(nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.pub.Publish(ctx, ev); err != nil {
			b.logger().Warn("event publish failed", "publisher", s.name, "type", ev.Type, "err", err)
		}
	}
	return nil
}

func (b *Bus) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
