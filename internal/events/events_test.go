package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func TestBusDeliversPastFailingPublisher(t *testing.T) {
	var got []models.Event
	b := &Bus{Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	b.Add("broken", PublisherFunc(func(context.Context, models.Event) error { return errors.New("down") }))
	b.Add("nil", nil)
	b.Add("recorder", PublisherFunc(func(_ context.Context, ev models.Event) error {
		got = append(got, ev)
		return nil
	}))

	b.Emit(context.Background(), MessagePosted, "m1", map[string]string{"id": "m1"})

	require.Len(t, got, 1)
	assert.Equal(t, MessagePosted, got[0].Type)
	assert.Equal(t, "m1", got[0].Subject)
	assert.Equal(t, 2026, got[0].CreatedAt.Year())
}

func TestNilBusIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(context.Background(), TaskCreated, "t", nil)
	assert.NoError(t, b.Publish(context.Background(), models.Event{}))
}
