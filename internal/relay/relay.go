// Package relay mirrors coordination events to a Kafka topic for downstream consumers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Writer is the subset of *kafka.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures a Kafka relay.
type Options struct {
	Brokers []string
	Topic   string
	// Types limits which event types are mirrored; empty means all.
	Types  []string
	Logger *slog.Logger
}

// Relay is an events.Publisher that writes each event as one Kafka record keyed by its subject,
// so records about the same entity land on the same partition in order.
type Relay struct {
	w      Writer
	types  map[string]bool
	logger *slog.Logger
}

// New builds an asynchronous kafka.Writer for opts.Brokers and opts.Topic.
func New(opts Options) (*Relay, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("relay: at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("relay: topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	r := NewWithWriter(w, opts)
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			r.logger.Warn("kafka relay write failed", "topic", opts.Topic, "records", len(msgs), "err", err)
		}
	}
	return r, nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w Writer, opts Options) *Relay {
	r := &Relay{w: w, logger: opts.Logger}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if len(opts.Types) > 0 {
		r.types = make(map[string]bool, len(opts.Types))
		for _, t := range opts.Types {
			r.types[t] = true
		}
	}
	return r
}

// Publish implements events.Publisher.
func (r *Relay) Publish(ctx context.Context, ev models.Event) error {
	if r.types != nil && !r.types[ev.Type] {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:     []byte(ev.Subject),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}},
		Time:    ev.CreatedAt,
	}
	if err := r.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("relay: write %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes pending records and closes the writer.
func (r *Relay) Close() error {
	return r.w.Close()
}
