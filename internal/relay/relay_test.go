package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishWritesKeyedRecord(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := &fakeWriter{}
	r := NewWithWriter(w, Options{})
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	err := r.Publish(context.Background(), models.Event{Type: events.TaskCreated, Subject: "task-1", Data: map[string]any{"title": "x"}, CreatedAt: at})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "task-1", string(got.Key))
	assert.Equal(t, at, got.Time)
	require.Len(t, got.Headers, 1)
	assert.Equal(t, events.TaskCreated, string(got.Headers[0].Value))

	var ev models.Event
	require.NoError(t, json.Unmarshal(got.Value, &ev))
	assert.Equal(t, events.TaskCreated, ev.Type)

	require.NoError(t, r.Close())
	assert.True(t, w.closed)
}

func TestTypeFilter(t *testing.T) {
	w := &fakeWriter{}
	r := NewWithWriter(w, Options{Types: []string{events.DecisionResolved}})
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, models.Event{Type: events.MessagePosted, Subject: "m"}))
	require.NoError(t, r.Publish(ctx, models.Event{Type: events.DecisionResolved, Subject: "d"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "d", string(w.msgs[0].Key))
}

func TestWriteErrorIsReturnedNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	r := NewWithWriter(w, Options{})
	bus := &events.Bus{}
	bus.Add("kafka", r)
	// Bus swallows the failure after logging it.
	assert.NoError(t, bus.Publish(context.Background(), models.Event{Type: events.TaskUpdated}))
	assert.ErrorContains(t, r.Publish(context.Background(), models.Event{Type: events.TaskUpdated}), "broker down")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Topic: "t"})
	assert.Error(t, err)
	_, err = New(Options{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	r, err := New(Options{Brokers: []string{"localhost:9092"}, Topic: "meetinghub.events"})
	require.NoError(t, err)
	require.NoError(t, r.Close())
}
