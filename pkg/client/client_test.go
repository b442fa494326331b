package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/httpapi"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3847", "")
	if c.BaseURL != "http://localhost:3847" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:3847", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok":false,"error":"down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Health(context.Background())
	if err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, _ = New(srv.URL, "mykey").AgentQueue(context.Background(), "claude")
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestClient_decodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"adding this dependency would create a cycle","kind":"cycle_detected"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").AddDependency(context.Background(), "a", "b")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "cycle_detected", apiErr.Kind)
	assert.Contains(t, apiErr.Error(), "cycle")
}

func newLiveClient(t *testing.T, apiKey string) *Client {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	core := coord.New(st, nil, coord.Options{})
	app, err := httpapi.NewApp(core, httpapi.ServerOptions{APIKey: apiKey})
	require.NoError(t, err)
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		app.Hub.Close()
		ts.Close()
		_ = core.Close()
	})
	return New(ts.URL, apiKey)
}

func TestLive_busRoundTrip(t *testing.T) {
	c := newLiveClient(t, "k")
	ctx := context.Background()

	ok, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := c.Post(ctx, PostRequest{SenderAgent: "claude", MessageType: "question", Subject: "Disk?", TargetAgent: "replit", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, m.Priority)

	q, err := c.AgentQueue(ctx, "replit")
	require.NoError(t, err)
	require.Len(t, q, 1)

	acked, err := c.Acknowledge(ctx, m.ID, "replit")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	feed, err := c.Feed(ctx, FeedQuery{Agent: "replit", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, feed, 1)

	_, err = c.FlagConflict(ctx, "lovable", "file", "ui.tsx")
	require.NoError(t, err)
	chk, err := c.CheckConflict(ctx, "file", "ui.tsx", "claude")
	require.NoError(t, err)
	assert.True(t, chk.ConflictExists)

	res, err := c.Handoff(ctx, HandoffRequest{From: "replit", To: "lovable", Subject: "Dashboard"})
	require.NoError(t, err)
	assert.Equal(t, res.TaskAssignment.ID, res.TaskAssignmentID)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalMessages)

	bad := New(c.BaseURL, "wrong")
	_, err = bad.AgentQueue(ctx, "replit")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestLive_tasksAndMeetings(t *testing.T) {
	c := newLiveClient(t, "")
	ctx := context.Background()

	a, err := c.AssignTask(ctx, TaskRequest{Title: "Schema", AssignedTo: "replit"})
	require.NoError(t, err)
	b, err := c.AssignTask(ctx, TaskRequest{Title: "API", AssignedTo: "replit"})
	require.NoError(t, err)

	_, err = c.AddDependency(ctx, b.ID, a.ID)
	require.NoError(t, err)
	_, err = c.AddDependency(ctx, a.ID, b.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "cycle_detected", apiErr.Kind)

	blocked, err := c.BlockedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, b.ID, blocked[0].ID)

	_, err = c.SetTaskStatus(ctx, a.ID, "done")
	require.NoError(t, err)
	wl, err := c.Workload(ctx, "replit")
	require.NoError(t, err)
	assert.Equal(t, 1, wl.Summary.Done)

	m, err := c.CreateMeeting(ctx, MeetingRequest{Title: "Planning", Participants: []string{"claude", "petro"}})
	require.NoError(t, err)
	_, err = c.StartMeeting(ctx, m.ID)
	require.NoError(t, err)
	_, err = c.StartMeeting(ctx, m.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	turn, err := c.AddTurn(ctx, m.ID, "claude", "Proposal incoming")
	require.NoError(t, err)
	assert.Equal(t, 1, turn.TurnNumber)

	d, err := c.Propose(ctx, m.ID, "Adopt Go", "claude", "unanimous")
	require.NoError(t, err)
	_, err = c.Vote(ctx, m.ID, d.ID, "claude", "yes")
	require.NoError(t, err)
	_, err = c.Vote(ctx, m.ID, d.ID, "petro", "yes")
	require.NoError(t, err)
	tally, err := c.Tally(ctx, m.ID, d.ID)
	require.NoError(t, err)
	assert.True(t, tally.WouldPass)

	resolved, err := c.Resolve(ctx, m.ID, d.ID, "approved", "Go it is")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resolved.Status)

	_, err = c.EndMeeting(ctx, m.ID)
	require.NoError(t, err)
	detail, err := c.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingCompleted, detail.Status)
	assert.Len(t, detail.Participants, 2)

	team, err := c.Team(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, team)
}

func TestLive_agendaAndAudit(t *testing.T) {
	c := newLiveClient(t, "")
	ctx := context.Background()

	_, err := c.CreateMeeting(ctx, MeetingRequest{Title: "Dup", Participants: []string{"claude", "claude"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "validation", apiErr.Kind)

	m, err := c.CreateMeeting(ctx, MeetingRequest{Title: "Standup", Participants: []string{"claude", "petro"}})
	require.NoError(t, err)
	require.NoError(t, c.RemoveParticipant(ctx, m.ID, "petro"))
	err = c.RemoveParticipant(ctx, m.ID, "petro")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	detail, err := c.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Participants, 1)

	item, err := c.AddAgendaItem(ctx, m.ID, "Blockers")
	require.NoError(t, err)
	skipped := "skipped"
	item, err = c.UpdateAgendaItem(ctx, m.ID, item.ID, AgendaPatch{Status: &skipped})
	require.NoError(t, err)
	assert.Equal(t, models.AgendaSkipped, item.Status)

	entries, err := c.Audit(ctx, m.ID, 0)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"agenda.updated", "agenda.added", "participant.removed", "meeting.created"}, actions)
}
