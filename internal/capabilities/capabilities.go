package capabilities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Capability is an outside integration that can be told about urgent bus traffic.
type Capability interface {
	Name() string
	// Notify sends a message to the capability's default target.
	Notify(ctx context.Context, message string) error
}

// Registry holds loaded capabilities by name.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

func (r *Registry) Register(name string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[name] = c
}

func (r *Registry) Get(name string) Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// Names lists registered capabilities in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.caps))
	for n := range r.caps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Notify(ctx context.Context, name, message string) error {
	c := r.Get(name)
	if c == nil {
		return fmt.Errorf("capability %q not found", name)
	}
	return c.Notify(ctx, message)
}

// NotifyAll sends message to every capability and joins their errors.
func (r *Registry) NotifyAll(ctx context.Context, message string) error {
	var errs []error
	for _, n := range r.Names() {
		if err := r.Notify(ctx, n, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// SlackWebhook posts to a Slack channel via an incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	HTTPClient *http.Client
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return errors.New("slack webhook URL not set")
	}
	msg := &slack.WebhookMessage{Text: message, Channel: s.Channel, Username: s.Username}
	if s.HTTPClient != nil {
		return slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, s.HTTPClient, msg)
	}
	return slack.PostWebhookContext(ctx, s.WebhookURL, msg)
}

// Escalator is an events.Publisher that forwards critical messages and conflict flags posted on
// the bus to every registered capability.
// Notifications run inline on the publishing request, bounded by Timeout (zero means 5s).
type Escalator struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Publish implements events.Publisher. Other events are ignored.
func (e *Escalator) Publish(ctx context.Context, ev models.Event) error {
	if ev.Type != events.MessagePosted || e.Registry == nil {
		return nil
	}
	m, ok := ev.Data.(*models.Message)
	if !ok || !Escalates(m) {
		return nil
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.Registry.NotifyAll(ctx, Format(m)); err != nil {
		return fmt.Errorf("escalate %s: %w", m.ID, err)
	}
	if e.Logger != nil {
		e.Logger.Info("escalated message", "id", m.ID, "type", m.MessageType, "priority", m.Priority)
	}
	return nil
}

// Escalates reports whether m should leave the bus: critical priority or a conflict flag.
func Escalates(m *models.Message) bool {
	return m.Priority == models.PriorityCritical || m.MessageType == models.MessageConflictFlag
}

// Format renders m as a single Slack line plus the body, if any.
func Format(m *models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: *%s*", strings.ToUpper(string(m.Priority)), m.SenderName, m.Subject)
	if m.TargetAgent != "" && m.TargetAgent != models.TargetAll {
		fmt.Fprintf(&b, " (to %s)", m.TargetAgent)
	}
	if m.Body != nil && *m.Body != "" {
		b.WriteString("\n")
		b.WriteString(*m.Body)
	}
	return b.String()
}
