package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// SSEHub fans events out to /stream subscribers. It implements events.Publisher.
type SSEHub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	closed bool

	// Keepalive is the comment-ping interval; zero means 30s.
	Keepalive time.Duration
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a buffered subscriber. On a closed hub the returned channel is already closed.
func (h *SSEHub) Subscribe() chan []byte {
	ch := make(chan []byte, models.DefaultSSEChannelBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	otel.AddSSEConnection()
	return ch
}

func (h *SSEHub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// Subscribers returns the number of live subscribers.
func (h *SSEHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber; streaming handlers return once their channel closes.
func (h *SSEHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSSEConnection()
	}
}

// Publish implements events.Publisher.
func (h *SSEHub) Publish(ctx context.Context, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: marshal %s: %w", ev.Type, err)
	}
	otel.RecordSSEEvent(ctx)
	h.PublishBytes(b)
	return nil
}

// PublishJSON marshals v and broadcasts it.
func (h *SSEHub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.PublishBytes(b)
}

// PublishBytes broadcasts b. Slow subscribers whose buffer is full miss the event.
func (h *SSEHub) PublishBytes(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

func (h *SSEHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// The stream outlives the server's WriteTimeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		every := h.Keepalive
		if every <= 0 {
			every = 30 * time.Second
		}
		keepalive := time.NewTicker(every)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", string(msg))
				flusher.Flush()
			}
		}
	}
}
