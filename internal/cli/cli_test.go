package cli

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "doctor", "roster", "neuron", "task", "meeting", "agent", "apikey", "nuke", "daemon"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
	if NewRootCmd("").Version != "dev" {
		t.Error("empty version should default to dev")
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	if root.PersistentFlags().Lookup("home") == nil {
		t.Fatal("expected --home persistent flag")
	}
	if root.PersistentFlags().Lookup("json") == nil {
		t.Fatal("expected --json persistent flag")
	}
}

func TestApikeyGenerate(t *testing.T) {
	out := run(t, t.TempDir(), "apikey", "generate")
	if !regexp.MustCompile(`(?m)^  [a-f0-9]{64}$`).MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	for _, want := range []string{"MEETINGHUB_API_KEY", "X-API-Key"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should mention %s", want)
		}
	}
	quiet := strings.TrimSpace(run(t, t.TempDir(), "apikey", "generate", "-q"))
	assert.Regexp(t, `^[a-f0-9]{64}$`, quiet)
}

// run executes the CLI against home and returns stdout.
func run(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := runErr(home, args...)
	require.NoError(t, err, "meetinghub %s\n%s", strings.Join(args, " "), out)
	return out
}

func runErr(home string, args ...string) (string, error) {
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return buf.String(), err
}

func runJSON(t *testing.T, home string, v any, args ...string) {
	t.Helper()
	out := run(t, home, append(args, "--json")...)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestTaskCommands(t *testing.T) {
	color.NoColor = true
	home := t.TempDir()

	var a, b models.Task
	runJSON(t, home, &a, "task", "assign", "Write migration", "--to", "replit", "--priority", "high")
	runJSON(t, home, &b, "task", "assign", "Ship release", "--to", "replit")
	assert.Equal(t, models.TaskPriorityHigh, a.Priority)
	assert.Equal(t, models.TaskPriorityMedium, b.Priority)

	run(t, home, "task", "depend", b.ID, a.ID)
	_, err := runErr(home, "task", "depend", a.ID, b.ID)
	assert.Error(t, err, "reverse edge closes a cycle")

	var blocked []models.BlockedTask
	runJSON(t, home, &blocked, "task", "blocked")
	require.Len(t, blocked, 1)
	assert.Equal(t, b.ID, blocked[0].ID)

	run(t, home, "task", "status", a.ID, "done")
	out := run(t, home, "task", "blocked", b.ID)
	assert.Contains(t, out, "blocked: false")

	var wl models.Workload
	runJSON(t, home, &wl, "task", "workload", "replit")
	assert.Equal(t, 2, wl.Summary.Total)
	assert.Equal(t, 1, wl.Summary.Done)

	var dup models.DuplicateCheck
	runJSON(t, home, &dup, "task", "duplicate", "ship RELEASE")
	assert.True(t, dup.IsDuplicate)

	// The assignment notice sits in replit's queue.
	out = run(t, home, "neuron", "queue", "replit")
	assert.Contains(t, out, "Task: Write migration")
	assert.Contains(t, out, "HIGH")
}

func TestNeuronCommands(t *testing.T) {
	color.NoColor = true
	home := t.TempDir()

	var m models.Message
	runJSON(t, home, &m, "neuron", "post", "--from", "claude", "--type", "question", "--subject", "Disk full?", "--to", "replit", "--priority", "critical", "--metadata", `{"host":"vps1"}`)
	assert.Equal(t, "vps1", m.Metadata["host"])

	out := run(t, home, "neuron", "queue", "replit")
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, m.ID)

	out = run(t, home, "neuron", "ack", m.ID, "--agent", "replit")
	assert.Contains(t, out, "acknowledged by replit")
	assert.Contains(t, run(t, home, "neuron", "queue", "replit"), "No messages")

	run(t, home, "neuron", "flag", "file", "main.go", "--from", "lovable")
	out = run(t, home, "neuron", "check-conflict", "file", "main.go", "--agent", "claude")
	assert.Contains(t, out, "Claimed by lovable")

	var res models.HandoffResult
	runJSON(t, home, &res, "neuron", "handoff", "--from", "replit", "--to", "lovable", "--subject", "Dashboard")
	assert.Equal(t, res.TaskAssignment.ID, res.TaskAssignmentID)

	_, err := runErr(home, "neuron", "handoff", "--from", "replit", "--to", "all", "--subject", "x")
	assert.Error(t, err)

	out = run(t, home, "neuron", "stats")
	assert.Contains(t, out, "Last 7 days")
}

func TestMeetingCommands(t *testing.T) {
	home := t.TempDir()

	var m models.Meeting
	runJSON(t, home, &m, "meeting", "create", "Launch review", "--participants", "claude,replit")
	run(t, home, "meeting", "start", m.ID)
	_, err := runErr(home, "meeting", "start", m.ID)
	assert.Error(t, err, "second start")

	assert.Contains(t, run(t, home, "meeting", "turn", m.ID, "Looks good", "--agent", "claude"), "turn #1")
	assert.Contains(t, run(t, home, "meeting", "turn", m.ID, "Agreed", "--agent", "replit"), "turn #2")

	var d models.Decision
	runJSON(t, home, &d, "meeting", "propose", m.ID, "Launch Friday", "--by", "claude")
	run(t, home, "meeting", "vote", d.ID, "yes", "--agent", "claude")
	run(t, home, "meeting", "vote", d.ID, "no", "--agent", "replit")
	run(t, home, "meeting", "vote", d.ID, "yes", "--agent", "replit")

	var tally models.Tally
	runJSON(t, home, &tally, "meeting", "tally", d.ID)
	assert.Equal(t, 2, tally.Yes)
	assert.Equal(t, 0, tally.No)
	assert.True(t, tally.WouldPass)

	run(t, home, "meeting", "resolve", d.ID, "approved", "--outcome", "Go")
	_, err = runErr(home, "meeting", "resolve", d.ID, "rejected")
	assert.Error(t, err, "resolution is final")

	var item models.AgendaItem
	runJSON(t, home, &item, "meeting", "agenda", m.ID, "Launch checklist", "--minutes", "15")
	assert.Equal(t, 1, item.SortOrder)
	assert.Contains(t, run(t, home, "meeting", "agenda-set", m.ID, item.ID, "--status", "discussed"), "discussed")
	_, err = runErr(home, "meeting", "agenda-set", m.ID, item.ID, "--status", "pending")
	assert.Error(t, err, "discussed items stay discussed")

	assert.Contains(t, run(t, home, "meeting", "leave", m.ID, "replit"), "replit left meeting")
	_, err = runErr(home, "meeting", "leave", m.ID, "replit")
	assert.Error(t, err)

	out := run(t, home, "meeting", "audit", m.ID)
	assert.Contains(t, out, "participant.removed")
	assert.Contains(t, out, "meeting.created")

	run(t, home, "meeting", "end", m.ID)
	var detail models.MeetingDetail
	runJSON(t, home, &detail, "meeting", "show", m.ID)
	assert.Equal(t, models.MeetingCompleted, detail.Status)
	assert.Len(t, detail.Turns, 2)
	assert.Len(t, detail.Participants, 1)
	require.Len(t, detail.Decisions, 1)
	assert.Equal(t, models.DecisionApproved, detail.Decisions[0].Status)
}

func TestRosterCommands(t *testing.T) {
	home := t.TempDir()
	assert.Contains(t, run(t, home, "roster", "list"), "Tech Wizard")
	run(t, home, "roster", "init")
	_, err := runErr(home, "roster", "init")
	assert.Error(t, err, "refuses to overwrite")
	run(t, home, "roster", "init", "--force")

	run(t, home, "task", "assign", "x", "--to", "petro")
	var team []models.TeamMember
	runJSON(t, home, &team, "roster", "team")
	for _, m := range team {
		if m.ID == "petro" {
			assert.Equal(t, 1, m.TaskStats.Pending)
		}
	}
}

func TestDoctorAndStatus(t *testing.T) {
	home := t.TempDir()
	assert.Contains(t, run(t, home, "doctor"), "ok")
	assert.Contains(t, run(t, home, "status"), "not running")
	assert.Contains(t, run(t, home, "stop"), "not running")
}

func TestNuke(t *testing.T) {
	home := t.TempDir()
	run(t, home, "task", "assign", "x", "--to", "petro")
	assert.Contains(t, run(t, home, "nuke", "--yes"), "Deleted")
	var blocked []models.BlockedTask
	runJSON(t, home, &blocked, "task", "blocked")
	assert.Empty(t, blocked)
	var wl models.Workload
	runJSON(t, home, &wl, "task", "workload", "petro")
	assert.Zero(t, wl.Summary.Total)
}

func TestAgentCommands(t *testing.T) {
	home := t.TempDir()
	run(t, home, "agent", "--as", "petro", "say", "Standup at 9", "--to", "replit")
	assert.Contains(t, run(t, home, "agent", "--as", "replit", "inbox"), "Standup at 9")
	assert.Contains(t, run(t, home, "agent", "--as", "replit", "ack-all"), "1 acknowledged")
	assert.Contains(t, run(t, home, "agent", "--as", "replit", "inbox"), "No messages")

	run(t, home, "agent", "--as", "lovable", "claim", "file", "ui.tsx")
	assert.Contains(t, run(t, home, "agent", "--as", "claude", "claim", "file", "ui.tsx"), "Already claimed by lovable")

	_, err := runErr(home, "agent", "inbox")
	assert.Error(t, err, "--as is required")
}
