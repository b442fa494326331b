// Package client provides a Go SDK for the Meeting Hub HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Client calls the Meeting Hub HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3847"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3847").
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// APIError is a non-2xx response. Kind is the server's error classification
// (validation, not_found, invalid_transition, cycle_detected, store_unavailable, unauthorized).
type APIError struct {
	Method  string
	Path    string
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.Status)
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

// doJSON sends body and decodes the "data" member of the response envelope into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Kind: errBody.Kind, Message: errBody.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	return json.NewDecoder(resp.Body).Decode(&env)
}

// Health reports whether the server and its store are up.
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{Method: http.MethodGet, Path: "/health", Status: resp.StatusCode, Kind: "store_unavailable", Message: out.Error}
	}
	return out.OK, nil
}

// --- Neuron ---

// PostRequest is the body of a bus post. Empty optional fields take server defaults.
type PostRequest struct {
	SenderAgent string         `json:"sender_agent"`
	MessageType string         `json:"message_type"`
	Subject     string         `json:"subject"`
	Body        *string        `json:"body,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Post publishes a message to the bus.
func (c *Client) Post(ctx context.Context, req PostRequest) (*models.Message, error) {
	var out models.Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/neuron/post", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeedQuery filters Feed. Zero values are omitted.
type FeedQuery struct {
	Channel string
	Agent   string
	Type    string
	Since   time.Time
	Limit   int
}

// Feed lists recent messages, newest first.
func (c *Client) Feed(ctx context.Context, q FeedQuery) ([]models.Message, error) {
	v := url.Values{}
	if q.Channel != "" {
		v.Set("channel", q.Channel)
	}
	if q.Agent != "" {
		v.Set("agent", q.Agent)
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/neuron/feed"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// AgentQueue returns the agent's unacknowledged inbox, most urgent first.
func (c *Client) AgentQueue(ctx context.Context, agent string) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/api/neuron/agent-queue/"+url.PathEscape(agent), nil, &out)
	return out, err
}

// Acknowledge marks a message acknowledged by agent.
func (c *Client) Acknowledge(ctx context.Context, messageID, agent string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/api/neuron/acknowledge", map[string]string{
		"message_id": messageID, "agent_name": agent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// HandoffRequest is the body of a handoff.
type HandoffRequest struct {
	From        string         `json:"from_agent"`
	To          string         `json:"to_agent"`
	Subject     string         `json:"subject"`
	Body        *string        `json:"body,omitempty"`
	TaskContext map[string]any `json:"task_context,omitempty"`
	Priority    string         `json:"priority,omitempty"`
}

// Handoff posts a handoff notice and the matching task assignment atomically.
func (c *Client) Handoff(ctx context.Context, req HandoffRequest) (*models.HandoffResult, error) {
	var out models.HandoffResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/neuron/handoff", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FlagConflict claims a resource on behalf of agent.
func (c *Client) FlagConflict(ctx context.Context, agent, resourceType, resourceID string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/api/neuron/flag-conflict", map[string]string{
		"sender_agent": agent, "resource_type": resourceType, "resource_id": resourceID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckConflict reports whether another agent holds a live claim on the resource.
func (c *Client) CheckConflict(ctx context.Context, resourceType, resourceID, agent string) (*models.ConflictCheck, error) {
	var out models.ConflictCheck
	err := c.doJSON(ctx, http.MethodPost, "/api/neuron/check-conflict", map[string]string{
		"resource_type": resourceType, "resource_id": resourceID, "requesting_agent": agent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns bus-wide counters.
func (c *Client) Status(ctx context.Context) (*models.BusStatus, error) {
	var out models.BusStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/neuron/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Tasks ---

// TaskRequest is the body of a task create or assign.
type TaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssignedTo  string  `json:"assigned_to,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	MeetingID   *string `json:"meeting_id,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
}

// AssignTask creates a task and posts the assignment notice to its assignee.
func (c *Client) AssignTask(ctx context.Context, req TaskRequest) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/tasks/assign", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask returns a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetTaskStatus moves a task to status.
func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), map[string]string{"status": status}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDependency records that taskID cannot start until dependsOn is done.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOn string) (*models.TaskDependency, error) {
	var out models.TaskDependency
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/dependencies",
		map[string]string{"depends_on_task_id": dependsOn}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockedTasks lists non-done tasks waiting on unfinished dependencies.
func (c *Client) BlockedTasks(ctx context.Context) ([]models.BlockedTask, error) {
	var out []models.BlockedTask
	err := c.doJSON(ctx, http.MethodGet, "/api/tasks/blocked", nil, &out)
	return out, err
}

// Workload returns an agent's tasks with per-status counts.
func (c *Client) Workload(ctx context.Context, agent string) (*models.Workload, error) {
	var out models.Workload
	if err := c.doJSON(ctx, http.MethodGet, "/api/tasks/agent-workload/"+url.PathEscape(agent), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Meetings ---

const meetingsPath = "/api/meeting-hub/meetings"

// Team returns the roster with live task counts.
func (c *Client) Team(ctx context.Context) ([]models.TeamMember, error) {
	var out []models.TeamMember
	err := c.doJSON(ctx, http.MethodGet, "/api/meeting-hub/team", nil, &out)
	return out, err
}

// MeetingRequest is the body of a meeting create.
type MeetingRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	MeetingType  string   `json:"meeting_type,omitempty"`
	ScheduledFor *string  `json:"scheduled_for,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

func (c *Client) CreateMeeting(ctx context.Context, req MeetingRequest) (*models.Meeting, error) {
	var out models.Meeting
	if err := c.doJSON(ctx, http.MethodPost, meetingsPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMeeting returns a meeting with its participants, agenda, turns, decisions and action items.
func (c *Client) GetMeeting(ctx context.Context, id string) (*models.MeetingDetail, error) {
	var out models.MeetingDetail
	if err := c.doJSON(ctx, http.MethodGet, meetingsPath+"/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) transition(ctx context.Context, id, verb string) (*models.Meeting, error) {
	var out models.Meeting
	if err := c.doJSON(ctx, http.MethodPost, meetingsPath+"/"+url.PathEscape(id)+"/"+verb, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	return c.transition(ctx, id, "start")
}

func (c *Client) EndMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	return c.transition(ctx, id, "end")
}

func (c *Client) CancelMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	return c.transition(ctx, id, "cancel")
}

// AddTurn appends a turn; the server assigns the turn number.
func (c *Client) AddTurn(ctx context.Context, meetingID, agent, content string) (*models.Turn, error) {
	var out models.Turn
	err := c.doJSON(ctx, http.MethodPost, meetingsPath+"/"+url.PathEscape(meetingID)+"/turns",
		map[string]string{"agent_name": agent, "content": content}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveParticipant takes agent off the meeting.
func (c *Client) RemoveParticipant(ctx context.Context, meetingID, agent string) error {
	return c.doJSON(ctx, http.MethodDelete, meetingsPath+"/"+url.PathEscape(meetingID)+"/participants/"+url.PathEscape(agent), nil, nil)
}

// AddAgendaItem appends an item to the meeting's agenda.
func (c *Client) AddAgendaItem(ctx context.Context, meetingID, title string) (*models.AgendaItem, error) {
	var out models.AgendaItem
	err := c.doJSON(ctx, http.MethodPost, meetingsPath+"/"+url.PathEscape(meetingID)+"/agenda", map[string]string{"title": title}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AgendaPatch holds the agenda item fields to change. Nil fields are left alone.
type AgendaPatch struct {
	Title     *string `json:"title,omitempty"`
	SortOrder *int    `json:"sort_order,omitempty"`
	Status    *string `json:"status,omitempty"`
}

func (c *Client) UpdateAgendaItem(ctx context.Context, meetingID, itemID string, p AgendaPatch) (*models.AgendaItem, error) {
	var out models.AgendaItem
	err := c.doJSON(ctx, http.MethodPatch, meetingsPath+"/"+url.PathEscape(meetingID)+"/agenda/"+url.PathEscape(itemID), p, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Audit returns the meeting's change history, newest first.
func (c *Client) Audit(ctx context.Context, meetingID string, limit int) ([]models.AuditEntry, error) {
	path := meetingsPath + "/" + url.PathEscape(meetingID) + "/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.AuditEntry
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Propose raises a decision in a meeting. decisionType may be empty for majority.
func (c *Client) Propose(ctx context.Context, meetingID, title, proposedBy, decisionType string) (*models.Decision, error) {
	body := map[string]string{"title": title, "proposed_by": proposedBy}
	if decisionType != "" {
		body["decision_type"] = decisionType
	}
	var out models.Decision
	if err := c.doJSON(ctx, http.MethodPost, meetingsPath+"/"+url.PathEscape(meetingID)+"/decisions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decisionPath(meetingID, decisionID string) string {
	return meetingsPath + "/" + url.PathEscape(meetingID) + "/decisions/" + url.PathEscape(decisionID)
}

// Vote casts or replaces agent's vote.
func (c *Client) Vote(ctx context.Context, meetingID, decisionID, agent, vote string) (*models.Vote, error) {
	var out models.Vote
	err := c.doJSON(ctx, http.MethodPost, decisionPath(meetingID, decisionID)+"/vote",
		map[string]string{"agent_name": agent, "vote": vote}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Tally counts votes without changing the decision.
func (c *Client) Tally(ctx context.Context, meetingID, decisionID string) (*models.Tally, error) {
	var out models.Tally
	if err := c.doJSON(ctx, http.MethodGet, decisionPath(meetingID, decisionID)+"/tally", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve sets the final status of a decision. outcome may be empty.
func (c *Client) Resolve(ctx context.Context, meetingID, decisionID, status, outcome string) (*models.Decision, error) {
	body := map[string]string{"status": status}
	if outcome != "" {
		body["outcome"] = outcome
	}
	var out models.Decision
	if err := c.doJSON(ctx, http.MethodPost, decisionPath(meetingID, decisionID)+"/resolve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
