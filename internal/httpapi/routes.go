package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/internal/decision"
	"github.com/plfl21/openclaw-meeting-hub/internal/meeting"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/internal/taskgraph"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// --- Neuron ---

func (a *App) registerNeuron() {
	bus := a.Core.Neuron

	a.route("POST /api/neuron/post", http.StatusCreated, func(r *http.Request) (any, error) {
		var in neuron.PostInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.Post(r.Context(), in)
	})

	a.route("GET /api/neuron/feed", http.StatusOK, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		f := neuron.FeedFilter{Channel: q.Get("channel"), Agent: q.Get("agent"), Type: q.Get("type")}
		var err error
		if f.Limit, err = intParam(q.Get("limit")); err != nil {
			return nil, err
		}
		if f.Since, err = timeParam(q.Get("since")); err != nil {
			return nil, err
		}
		return bus.Feed(r.Context(), f)
	})

	a.route("GET /api/neuron/agent-queue/{agent}", http.StatusOK, func(r *http.Request) (any, error) {
		return bus.AgentQueue(r.Context(), r.PathValue("agent"))
	})

	a.route("POST /api/neuron/acknowledge", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			MessageID string `json:"message_id"`
			AgentName string `json:"agent_name"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.Acknowledge(r.Context(), in.MessageID, in.AgentName)
	})

	a.route("GET /api/neuron/status", http.StatusOK, func(r *http.Request) (any, error) {
		return bus.Status(r.Context())
	})

	a.route("POST /api/neuron/briefing", http.StatusCreated, func(r *http.Request) (any, error) {
		var in neuron.BriefingInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.PostBriefing(r.Context(), in)
	})

	a.route("GET /api/neuron/conflicts", http.StatusOK, func(r *http.Request) (any, error) {
		return bus.ListConflicts(r.Context())
	})

	a.route("POST /api/neuron/flag-conflict", http.StatusCreated, func(r *http.Request) (any, error) {
		var in neuron.FlagInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.FlagConflict(r.Context(), in)
	})

	a.route("POST /api/neuron/handoff", http.StatusCreated, func(r *http.Request) (any, error) {
		var in neuron.HandoffInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.Handoff(r.Context(), in)
	})

	a.route("POST /api/neuron/validate-report", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			Sections         []models.Section `json:"sections"`
			RequiredSections []string         `json:"required_sections"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return neuron.ValidateReport(in.Sections, in.RequiredSections), nil
	})

	a.route("POST /api/neuron/check-conflict", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			ResourceType    string `json:"resource_type"`
			ResourceID      string `json:"resource_id"`
			RequestingAgent string `json:"requesting_agent"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return bus.CheckConflict(r.Context(), in.ResourceType, in.ResourceID, in.RequestingAgent)
	})

	a.route("GET /api/neuron/protocol-stats", http.StatusOK, func(r *http.Request) (any, error) {
		days, err := intParam(r.URL.Query().Get("days"))
		if err != nil {
			return nil, err
		}
		return bus.ProtocolStats(r.Context(), days)
	})
}

// --- Tasks ---

func (a *App) registerTasks() {
	tasks := a.Core.Tasks

	a.route("POST /api/tasks", http.StatusCreated, func(r *http.Request) (any, error) {
		var in taskgraph.TaskInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return tasks.CreateTask(r.Context(), in)
	})

	a.route("POST /api/tasks/assign", http.StatusCreated, func(r *http.Request) (any, error) {
		var in taskgraph.TaskInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return tasks.Assign(r.Context(), in)
	})

	a.route("POST /api/tasks/check-duplicate", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			Title      string `json:"title"`
			AssignedTo string `json:"assigned_to"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return tasks.CheckDuplicate(r.Context(), in.Title, in.AssignedTo)
	})

	a.route("GET /api/tasks/blocked", http.StatusOK, func(r *http.Request) (any, error) {
		return tasks.ListBlocked(r.Context())
	})

	a.route("GET /api/tasks/{id}", http.StatusOK, func(r *http.Request) (any, error) {
		return tasks.Get(r.Context(), r.PathValue("id"))
	})

	a.route("PATCH /api/tasks/{id}", http.StatusOK, func(r *http.Request) (any, error) {
		var in taskgraph.TaskUpdate
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return tasks.UpdateTask(r.Context(), r.PathValue("id"), in)
	})

	a.route("POST /api/tasks/{id}/dependencies", http.StatusCreated, func(r *http.Request) (any, error) {
		var in struct {
			DependsOnTaskID string `json:"depends_on_task_id"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return tasks.AddDependency(r.Context(), r.PathValue("id"), in.DependsOnTaskID)
	})

	// agent-workload/{agent} and {id}/dependencies overlap as mux patterns, so one route
	// dispatches both shapes.
	a.route("GET /api/tasks/{first}/{second}", http.StatusOK, func(r *http.Request) (any, error) {
		first, second := r.PathValue("first"), r.PathValue("second")
		if first == "agent-workload" {
			return tasks.Workload(r.Context(), second)
		}
		switch second {
		case "dependencies":
			return tasks.Dependencies(r.Context(), first)
		case "blocked":
			blocked, err := tasks.IsBlocked(r.Context(), first)
			if err != nil {
				return nil, err
			}
			return map[string]any{"task_id": first, "blocked": blocked}, nil
		}
		return nil, store.NotFound("route", "no such task resource %q", second)
	})
}

// --- Meetings ---

func (a *App) registerMeetings() {
	meetings, decisions := a.Core.Meetings, a.Core.Decisions
	const base = "/api/meeting-hub/meetings"

	a.route("GET /api/meeting-hub/team", http.StatusOK, func(r *http.Request) (any, error) {
		return a.Core.Team(r.Context())
	})

	a.route("GET "+base, http.StatusOK, func(r *http.Request) (any, error) {
		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			return nil, err
		}
		return meetings.List(r.Context(), r.URL.Query().Get("status"), limit)
	})

	a.route("POST "+base, http.StatusCreated, func(r *http.Request) (any, error) {
		var in meeting.CreateInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.Create(r.Context(), in)
	})

	a.route("GET "+base+"/{id}", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.Get(r.Context(), r.PathValue("id"))
	})

	a.route("PATCH "+base+"/{id}", http.StatusOK, func(r *http.Request) (any, error) {
		var in meeting.UpdateInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.Update(r.Context(), r.PathValue("id"), in)
	})

	a.route("POST "+base+"/{id}/start", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.Start(r.Context(), r.PathValue("id"))
	})
	a.route("POST "+base+"/{id}/end", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.End(r.Context(), r.PathValue("id"))
	})
	a.route("POST "+base+"/{id}/cancel", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.Cancel(r.Context(), r.PathValue("id"))
	})

	a.route("POST "+base+"/{id}/phase", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			Phase string `json:"phase"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.SetPhase(r.Context(), r.PathValue("id"), in.Phase)
	})

	a.route("POST "+base+"/{id}/participants", http.StatusCreated, func(r *http.Request) (any, error) {
		var in struct {
			AgentName string `json:"agent_name"`
			Role      string `json:"role"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.AddParticipant(r.Context(), r.PathValue("id"), in.AgentName, in.Role)
	})

	a.route("DELETE "+base+"/{id}/participants/{agent}", http.StatusOK, func(r *http.Request) (any, error) {
		if err := meetings.RemoveParticipant(r.Context(), r.PathValue("id"), r.PathValue("agent")); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	})

	a.route("POST "+base+"/{id}/agenda", http.StatusCreated, func(r *http.Request) (any, error) {
		var in meeting.AgendaInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.AddAgendaItem(r.Context(), r.PathValue("id"), in)
	})

	a.route("PATCH "+base+"/{id}/agenda/{aid}", http.StatusOK, func(r *http.Request) (any, error) {
		var in meeting.AgendaUpdateInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.UpdateAgendaItem(r.Context(), r.PathValue("id"), r.PathValue("aid"), in)
	})

	a.route("GET "+base+"/{id}/audit", http.StatusOK, func(r *http.Request) (any, error) {
		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			return nil, err
		}
		return meetings.Audit(r.Context(), r.PathValue("id"), limit)
	})

	a.route("GET "+base+"/{id}/turns", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.Turns(r.Context(), r.PathValue("id"))
	})

	a.route("POST "+base+"/{id}/turns", http.StatusCreated, func(r *http.Request) (any, error) {
		var in meeting.TurnInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		in.MeetingID = r.PathValue("id")
		return meetings.AddTurn(r.Context(), in)
	})

	a.route("GET "+base+"/{id}/decisions", http.StatusOK, func(r *http.Request) (any, error) {
		if _, err := a.Core.Store.GetMeeting(r.Context(), r.PathValue("id")); err != nil {
			return nil, err
		}
		return decisions.List(r.Context(), r.PathValue("id"))
	})

	a.route("POST "+base+"/{id}/decisions", http.StatusCreated, func(r *http.Request) (any, error) {
		var in decision.ProposeInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		in.MeetingID = r.PathValue("id")
		return decisions.Propose(r.Context(), in)
	})

	a.route("POST "+base+"/{id}/decisions/{did}/vote", http.StatusOK, func(r *http.Request) (any, error) {
		var in struct {
			AgentName string  `json:"agent_name"`
			Vote      string  `json:"vote"`
			Reasoning *string `json:"reasoning"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		if err := a.decisionInMeeting(r); err != nil {
			return nil, err
		}
		return decisions.CastVote(r.Context(), r.PathValue("did"), in.AgentName, in.Vote, in.Reasoning)
	})

	a.route("GET "+base+"/{id}/decisions/{did}/tally", http.StatusOK, func(r *http.Request) (any, error) {
		if err := a.decisionInMeeting(r); err != nil {
			return nil, err
		}
		return decisions.Tally(r.Context(), r.PathValue("did"))
	})

	resolve := func(r *http.Request) (any, error) {
		var in struct {
			Status     string  `json:"status"`
			Outcome    *string `json:"outcome"`
			ResolvedBy *string `json:"resolved_by"`
		}
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		if err := a.decisionInMeeting(r); err != nil {
			return nil, err
		}
		return decisions.Resolve(r.Context(), r.PathValue("did"), in.Status, in.Outcome, in.ResolvedBy)
	}
	a.route("PATCH "+base+"/{id}/decisions/{did}", http.StatusOK, resolve)
	a.route("POST "+base+"/{id}/decisions/{did}/resolve", http.StatusOK, resolve)

	a.route("GET "+base+"/{id}/action-items", http.StatusOK, func(r *http.Request) (any, error) {
		return meetings.ActionItems(r.Context(), r.PathValue("id"))
	})

	a.route("POST "+base+"/{id}/action-items", http.StatusCreated, func(r *http.Request) (any, error) {
		var in taskgraph.TaskInput
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		return meetings.AddActionItem(r.Context(), r.PathValue("id"), in)
	})

	a.route("PATCH "+base+"/{id}/action-items/{aid}", http.StatusOK, func(r *http.Request) (any, error) {
		var in taskgraph.TaskUpdate
		if err := decode(r, &in); err != nil {
			return nil, err
		}
		t, err := a.Core.Tasks.Get(r.Context(), r.PathValue("aid"))
		if err != nil {
			return nil, err
		}
		if t.MeetingID == nil || *t.MeetingID != r.PathValue("id") {
			return nil, store.NotFound("update action item", "action item %s not found in meeting %s", t.ID, r.PathValue("id"))
		}
		return a.Core.Tasks.UpdateTask(r.Context(), t.ID, in)
	})
}

// decisionInMeeting checks that {did} belongs to meeting {id}.
func (a *App) decisionInMeeting(r *http.Request) error {
	d, err := a.Core.Store.GetDecision(r.Context(), r.PathValue("did"))
	if err != nil {
		return err
	}
	if d.MeetingID != r.PathValue("id") {
		return store.NotFound("decision", "decision %s not found in meeting %s", d.ID, r.PathValue("id"))
	}
	return nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, store.Validation("query", "invalid integer %q", s)
	}
	return n, nil
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, store.Validation("query", "invalid timestamp %q, want RFC 3339", s)
	}
	return t, nil
}
