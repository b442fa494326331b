package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func openTestStore(t testing.TB) *SQLStore {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender, target string, typ models.MessageType, prio models.Priority, at time.Time) *models.Message {
	return &models.Message{
		ID: id, SenderAgent: sender, SenderName: sender, MessageType: typ, Subject: "s-" + id,
		Channel: models.ChannelGeneral, Priority: prio, TargetAgent: target, CreatedAt: at,
	}
}

func task(id, title string, status models.TaskStatus) *models.Task {
	return &models.Task{ID: id, Title: title, Priority: models.TaskPriorityMedium, Status: status, CreatedBy: "system", CreatedAt: t0, UpdatedAt: t0}
}

func ptr(s string) *string { return &s }

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()
	home := filepath.Join(t.TempDir(), "home")
	for i := 0; i < 2; i++ {
		if err := EnsureSchema(home); err != nil {
			t.Fatalf("EnsureSchema run %d: %v", i, err)
		}
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if st.Dialect() != "sqlite" {
		t.Fatalf("Dialect = %q", st.Dialect())
	}
}

func TestMessagesInsertQueryAck(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a := msg("m1", "johnny", "claude", models.MessageQuestion, models.PriorityLow, t0)
	b := msg("m2", "petro", models.TargetAll, models.MessageAnnouncement, models.PriorityCritical, t0.Add(time.Minute))
	c := msg("m3", "replit", "lovable", models.MessageStatusUpdate, models.PriorityHigh, t0.Add(2*time.Minute))
	b.Metadata = map[string]any{"k": "v"}
	if err := st.InsertMessages(ctx, a, b, c); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}
	if a.Seq == 0 || b.Seq <= a.Seq || c.Seq <= b.Seq {
		t.Fatalf("seq not increasing: %d %d %d", a.Seq, b.Seq, c.Seq)
	}

	got, err := st.GetMessage(ctx, "m2")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Metadata["k"] != "v" || got.Acknowledged || !got.CreatedAt.Equal(b.CreatedAt) {
		t.Fatalf("GetMessage: got %+v", got)
	}

	queue, err := st.QueryMessages(ctx, MessageQuery{AddressedTo: "claude", Unacknowledged: true, ByPriority: true})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != "m2" || queue[1].ID != "m1" {
		t.Fatalf("queue for claude: %+v", queue)
	}

	feed, err := st.QueryMessages(ctx, MessageQuery{Involving: "replit"})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if len(feed) != 2 || feed[0].ID != "m3" || feed[1].ID != "m2" {
		t.Fatalf("feed for replit: %+v", feed)
	}

	first, err := st.AcknowledgeMessage(ctx, "m1", "claude", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("AcknowledgeMessage: %v", err)
	}
	second, err := st.AcknowledgeMessage(ctx, "m1", "someone-else", t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("AcknowledgeMessage again: %v", err)
	}
	if !second.Acknowledged || *second.AcknowledgedBy != "claude" || !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatalf("second ack changed fields: %+v", second)
	}
	if _, err := st.AcknowledgeMessage(ctx, "nope", "claude", t0); !IsKind(err, KindNotFound) {
		t.Fatalf("ack unknown: want not_found, got %v", err)
	}

	n, err := st.CountMessages(ctx, MessageQuery{Unacknowledged: true})
	if err != nil || n != 2 {
		t.Fatalf("CountMessages unacked = %d, %v", n, err)
	}
	byAck, err := st.GroupMessages(ctx, time.Time{}, GroupByAcknowledged)
	if err != nil {
		t.Fatalf("GroupMessages: %v", err)
	}
	if byAck["true"] != 1 || byAck["false"] != 2 {
		t.Fatalf("GroupMessages ack: %v", byAck)
	}
	byType, err := st.GroupMessages(ctx, t0, GroupByType)
	if err != nil {
		t.Fatalf("GroupMessages: %v", err)
	}
	if len(byType) != 2 || byType["question"] != 0 {
		t.Fatalf("GroupMessages since t0 should exclude m1: %v", byType)
	}
	if _, err := st.GroupMessages(ctx, t0, MessageGroup("subject; DROP TABLE messages")); !IsKind(err, KindValidation) {
		t.Fatalf("bad group column: %v", err)
	}
}

func TestInsertMessagesAtomic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertMessages(ctx, msg("dup", "a", "b", models.MessageQuestion, models.PriorityNormal, t0)); err != nil {
		t.Fatal(err)
	}
	err := st.InsertMessages(ctx,
		msg("fresh", "a", "b", models.MessageHandoff, models.PriorityHigh, t0),
		msg("dup", "a", "b", models.MessageTaskAssignment, models.PriorityHigh, t0))
	if err == nil {
		t.Fatal("expected duplicate id failure")
	}
	if _, err := st.GetMessage(ctx, "fresh"); !IsKind(err, KindNotFound) {
		t.Fatalf("first message of failed batch must not persist: %v", err)
	}
}

func TestTasksAndDependencies(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, tk := range []*models.Task{task("a", "Write docs", models.TaskPending), task("b", "Review docs", models.TaskPending)} {
		if err := st.InsertTask(ctx, tk); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}
	if _, err := st.GetTask(ctx, "zzz"); !IsKind(err, KindNotFound) {
		t.Fatalf("GetTask unknown: %v", err)
	}

	guardCalls := 0
	guard := func(existing []models.TaskDependency) error {
		guardCalls++
		return nil
	}
	dep, created, err := st.InsertDependency(ctx, models.TaskDependency{TaskID: "b", DependsOnTaskID: "a", CreatedAt: t0}, guard)
	if err != nil || !created || dep.DependsOnTaskID != "a" {
		t.Fatalf("InsertDependency: %+v %v %v", dep, created, err)
	}
	_, created, err = st.InsertDependency(ctx, models.TaskDependency{TaskID: "b", DependsOnTaskID: "a", CreatedAt: t0.Add(time.Hour)}, guard)
	if err != nil || created {
		t.Fatalf("duplicate edge should be a no-op: created=%v err=%v", created, err)
	}
	if guardCalls != 1 {
		t.Fatalf("guard calls = %d, want 1", guardCalls)
	}

	rejected := CycleDetected("test", "nope")
	if _, _, err := st.InsertDependency(ctx, models.TaskDependency{TaskID: "a", DependsOnTaskID: "b", CreatedAt: t0}, func([]models.TaskDependency) error { return rejected }); err != rejected {
		t.Fatalf("guard error should surface unchanged, got %v", err)
	}
	if _, _, err := st.InsertDependency(ctx, models.TaskDependency{TaskID: "a", DependsOnTaskID: "missing", CreatedAt: t0}, nil); !IsKind(err, KindNotFound) {
		t.Fatalf("missing dependency: %v", err)
	}

	deps, err := st.ListDependencies(ctx, "b")
	if err != nil || len(deps) != 1 || deps[0].DependencyTitle != "Write docs" || deps[0].DependencyStatus != models.TaskPending {
		t.Fatalf("ListDependencies: %+v %v", deps, err)
	}

	blocked, err := st.ListBlocked(ctx)
	if err != nil {
		t.Fatalf("ListBlocked: %v", err)
	}
	if len(blocked) != 1 || blocked[0].ID != "b" || len(blocked[0].BlockingDependencies) != 1 || blocked[0].BlockingDependencies[0].DependsOn != "a" {
		t.Fatalf("ListBlocked: %+v", blocked)
	}

	done := models.TaskDone
	pending := models.TaskPending
	updated, err := st.UpdateTask(ctx, "a", TaskPatch{Status: &done, FromStatus: &pending}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != models.TaskDone || updated.CompletedAt == nil {
		t.Fatalf("UpdateTask done: %+v", updated)
	}
	if _, err := st.UpdateTask(ctx, "a", TaskPatch{Status: &done, FromStatus: &pending}, t0); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("stale FromStatus: %v", err)
	}
	blocked, _ = st.ListBlocked(ctx)
	if len(blocked) != 0 {
		t.Fatalf("nothing should be blocked once a is done: %+v", blocked)
	}

	dups, err := st.QueryTasks(ctx, TaskQuery{TitleFold: "REVIEW DOCS", ExcludeStatus: []models.TaskStatus{models.TaskDone}})
	if err != nil || len(dups) != 1 || dups[0].ID != "b" {
		t.Fatalf("QueryTasks TitleFold: %+v %v", dups, err)
	}
}

func TestMeetingsTurnsAndDecisions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m := &models.Meeting{ID: "mt", Title: "Sprint planning", MeetingType: models.MeetingPlanning, Status: models.MeetingDraft, CreatedBy: "johnny", CreatedAt: t0, UpdatedAt: t0}
	if err := st.InsertMeeting(ctx, m); err != nil {
		t.Fatalf("InsertMeeting: %v", err)
	}
	started, err := st.TransitionMeeting(ctx, "mt", models.MeetingDraft, models.MeetingInProgress, t0.Add(time.Minute))
	if err != nil || started.Status != models.MeetingInProgress || started.StartedAt == nil {
		t.Fatalf("TransitionMeeting start: %+v %v", started, err)
	}
	if _, err := st.TransitionMeeting(ctx, "mt", models.MeetingDraft, models.MeetingInProgress, t0); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("second start: %v", err)
	}
	phase := "discussion"
	upd, err := st.UpdateMeeting(ctx, "mt", MeetingPatch{CurrentPhase: &phase}, t0.Add(2*time.Minute))
	if err != nil || upd.CurrentPhase == nil || *upd.CurrentPhase != phase || upd.Status != models.MeetingInProgress {
		t.Fatalf("UpdateMeeting: %+v %v", upd, err)
	}

	for i := 0; i < 3; i++ {
		turn := &models.Turn{ID: fmt.Sprintf("t%d", i), MeetingID: "mt", AgentName: "claude", Content: "c", TurnType: "comment", CreatedAt: t0}
		if err := st.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("InsertTurn: %v", err)
		}
		if turn.TurnNumber != i+1 {
			t.Fatalf("turn number = %d, want %d", turn.TurnNumber, i+1)
		}
	}
	turns, err := st.ListTurns(ctx, "mt")
	if err != nil || len(turns) != 3 || turns[2].TurnNumber != 3 {
		t.Fatalf("ListTurns: %+v %v", turns, err)
	}

	if err := st.InsertParticipant(ctx, &models.Participant{ID: "p1", MeetingID: "mt", AgentName: "claude", DisplayName: "Claude", Role: "participant", JoinedAt: t0}); err != nil {
		t.Fatalf("InsertParticipant: %v", err)
	}
	if err := st.InsertParticipant(ctx, &models.Participant{ID: "p2", MeetingID: "mt", AgentName: "claude", DisplayName: "Claude", Role: "participant", JoinedAt: t0}); !IsKind(err, KindValidation) {
		t.Fatalf("duplicate participant: %v", err)
	}
	for i, title := range []string{"Intro", "Scope"} {
		item := &models.AgendaItem{ID: title, MeetingID: "mt", Title: title, Status: "pending", CreatedAt: t0}
		if err := st.InsertAgendaItem(ctx, item); err != nil || item.SortOrder != i+1 {
			t.Fatalf("InsertAgendaItem: %+v %v", item, err)
		}
	}

	d := &models.Decision{ID: "d1", MeetingID: "mt", Title: "Adopt Go", ProposedBy: "petro", DecisionType: models.DecisionMajority, Options: []any{"yes", "no"}, Status: models.DecisionProposed, CreatedAt: t0}
	if err := st.InsertDecision(ctx, d); err != nil {
		t.Fatalf("InsertDecision: %v", err)
	}
	for _, v := range []models.VoteValue{models.VoteYes, models.VoteNo} {
		if err := st.ReplaceVote(ctx, &models.Vote{ID: "v-" + string(v), DecisionID: "d1", AgentName: "claude", Vote: v, CreatedAt: t0}); err != nil {
			t.Fatalf("ReplaceVote: %v", err)
		}
	}
	votes, err := st.ListVotes(ctx, "d1")
	if err != nil || len(votes) != 1 || votes[0].Vote != models.VoteNo {
		t.Fatalf("ListVotes: %+v %v", votes, err)
	}

	resolved, err := st.ResolveDecision(ctx, "d1", models.DecisionApproved, ptr("go"), ptr("johnny"), t0.Add(time.Hour))
	if err != nil || resolved.Status != models.DecisionApproved || resolved.ResolvedAt == nil {
		t.Fatalf("ResolveDecision: %+v %v", resolved, err)
	}
	if _, err := st.ResolveDecision(ctx, "d1", models.DecisionRejected, nil, nil, t0); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("second resolve: %v", err)
	}
	if err := st.ReplaceVote(ctx, &models.Vote{ID: "late", DecisionID: "d1", AgentName: "replit", Vote: models.VoteYes, CreatedAt: t0}); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("vote after resolve: %v", err)
	}

	list, err := st.ListMeetings(ctx, "", 10)
	if err != nil || len(list) != 1 || list[0].ParticipantCount != 1 || list[0].DecisionCount != 1 {
		t.Fatalf("ListMeetings: %+v %v", list, err)
	}
}

func TestConcurrentResolveOneWinner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertMeeting(ctx, &models.Meeting{ID: "m", Title: "x", MeetingType: models.MeetingDecision, Status: models.MeetingDraft, CreatedBy: "system", CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertDecision(ctx, &models.Decision{ID: "d", MeetingID: "m", Title: "x", ProposedBy: "system", DecisionType: models.DecisionMajority, Status: models.DecisionProposed, CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := models.DecisionApproved
			if i%2 == 1 {
				status = models.DecisionRejected
			}
			if _, err := st.ResolveDecision(ctx, "d", status, nil, nil, t0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
}

func TestRebindNumbered(t *testing.T) {
	s := &SQLStore{dialect: Dialect{Numbered: true}}
	got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("rebind: %s", got)
	}
}

func TestLockedSelect(t *testing.T) {
	pg := &SQLStore{dialect: Dialect{Numbered: true, RowLock: " FOR UPDATE"}}
	if got := pg.lockedSelect(`SELECT status FROM decisions WHERE id = ?`); got != `SELECT status FROM decisions WHERE id = $1 FOR UPDATE` {
		t.Fatalf("numbered: %s", got)
	}
	lite := &SQLStore{dialect: SQLite}
	if got := lite.lockedSelect(`SELECT status FROM decisions WHERE id = ?`); got != `SELECT status FROM decisions WHERE id = ?` {
		t.Fatalf("sqlite: %s", got)
	}
}

func TestInsertMeetingWithParticipantsIsAtomic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	p := func(id, agent string) *models.Participant {
		return &models.Participant{ID: id, MeetingID: "mt", AgentName: agent, DisplayName: agent, Role: models.RoleParticipant, JoinedAt: t0}
	}
	m := &models.Meeting{ID: "mt", Title: "x", MeetingType: models.MeetingGeneral, Status: models.MeetingDraft, CreatedBy: "system", CreatedAt: t0, UpdatedAt: t0}
	if err := st.InsertMeeting(ctx, m, p("p1", "claude"), p("p2", "claude")); !IsKind(err, KindValidation) {
		t.Fatalf("duplicate participant: %v", err)
	}
	if _, err := st.GetMeeting(ctx, "mt"); !IsKind(err, KindNotFound) {
		t.Fatalf("meeting should have been rolled back: %v", err)
	}
	if err := st.InsertMeeting(ctx, m, p("p1", "claude"), p("p2", "replit")); err != nil {
		t.Fatalf("InsertMeeting: %v", err)
	}
	ps, err := st.ListParticipants(ctx, "mt")
	if err != nil || len(ps) != 2 {
		t.Fatalf("ListParticipants: %+v %v", ps, err)
	}

	if err := st.DeleteParticipant(ctx, "mt", "replit"); err != nil {
		t.Fatalf("DeleteParticipant: %v", err)
	}
	if err := st.DeleteParticipant(ctx, "mt", "replit"); !IsKind(err, KindNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestAgendaPatchAndAudit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertMeeting(ctx, &models.Meeting{ID: "mt", Title: "x", MeetingType: models.MeetingGeneral, Status: models.MeetingDraft, CreatedBy: "system", CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	item := &models.AgendaItem{ID: "a1", MeetingID: "mt", Title: "Intro", Status: models.AgendaPending, CreatedAt: t0}
	if err := st.InsertAgendaItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	pending, discussed, order := models.AgendaPending, models.AgendaDiscussed, 4
	got, err := st.UpdateAgendaItem(ctx, "mt", "a1", AgendaPatch{Status: &discussed, FromStatus: &pending, SortOrder: &order})
	if err != nil || got.Status != models.AgendaDiscussed || got.SortOrder != 4 {
		t.Fatalf("UpdateAgendaItem: %+v %v", got, err)
	}
	if _, err := st.UpdateAgendaItem(ctx, "mt", "a1", AgendaPatch{Status: &discussed, FromStatus: &pending}); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("stale from status: %v", err)
	}
	if _, err := st.UpdateAgendaItem(ctx, "mt", "a1", AgendaPatch{}); !IsKind(err, KindValidation) {
		t.Fatalf("empty patch: %v", err)
	}
	if _, err := st.UpdateAgendaItem(ctx, "other", "a1", AgendaPatch{SortOrder: &order}); !IsKind(err, KindNotFound) {
		t.Fatalf("wrong meeting: %v", err)
	}

	for i, action := range []string{"meeting.created", "agenda.updated"} {
		e := &models.AuditEntry{ID: action, MeetingID: "mt", Action: action, EntityType: "meeting", EntityID: "mt", AgentName: "system",
			Details: map[string]any{"n": i}, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		if err := st.InsertAudit(ctx, e); err != nil {
			t.Fatalf("InsertAudit: %v", err)
		}
	}
	entries, err := st.ListAudit(ctx, "mt", 10)
	if err != nil || len(entries) != 2 || entries[0].Action != "agenda.updated" || entries[1].Details["n"] != float64(0) {
		t.Fatalf("ListAudit: %+v %v", entries, err)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("op", "thing %d missing", 7))
	if KindOf(err) != KindNotFound || Detail(err) != "thing 7 missing" {
		t.Fatalf("KindOf/Detail: %q %q", KindOf(err), Detail(err))
	}
	if KindOf(fmt.Errorf("plain")) != "" {
		t.Fatal("unclassified error should have empty kind")
	}
	if Unavailable("op", nil) != nil {
		t.Fatal("Unavailable(nil) should be nil")
	}
}

func BenchmarkInsertAndQueue(b *testing.B) {
	st := openTestStore(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := msg(fmt.Sprintf("b%d", i), "johnny", "claude", models.MessageStatusUpdate, models.PriorityNormal, t0.Add(time.Duration(i)))
		if err := st.InsertMessages(ctx, m); err != nil {
			b.Fatal(err)
		}
		if _, err := st.QueryMessages(ctx, MessageQuery{AddressedTo: "claude", Unacknowledged: true, ByPriority: true, Limit: 50}); err != nil {
			b.Fatal(err)
		}
	}
}
