package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func openOrSkip(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MEETINGHUB_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEETINGHUB_TEST_DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenAndAcknowledge(t *testing.T) {
	st := openOrSkip(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m := &models.Message{
		ID: uuid.NewString(), SenderAgent: "johnny", SenderName: "Johnny", MessageType: models.MessageQuestion,
		Subject: "ping", Channel: models.ChannelGeneral, Priority: models.PriorityNormal, TargetAgent: "claude", CreatedAt: now,
	}
	if err := st.InsertMessages(ctx, m); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}
	if m.Seq == 0 {
		t.Fatal("seq not assigned")
	}
	first, err := st.AcknowledgeMessage(ctx, m.ID, "claude", now)
	if err != nil {
		t.Fatalf("AcknowledgeMessage: %v", err)
	}
	again, err := st.AcknowledgeMessage(ctx, m.ID, "replit", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("AcknowledgeMessage again: %v", err)
	}
	if *again.AcknowledgedBy != *first.AcknowledgedBy {
		t.Fatalf("ack not idempotent: %+v", again)
	}
}

func TestUniqueViolationDetection(t *testing.T) {
	if !Dialect.IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("23505 should be a unique violation")
	}
	if Dialect.IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("23503 is a foreign key violation")
	}
	if Dialect.IsUniqueViolation(store.NotFound("x", "y")) {
		t.Fatal("classified errors are not unique violations")
	}
}

func TestDialectLocks(t *testing.T) {
	if !strings.Contains(Dialect.LockEdges, "task_dependencies IN SHARE ROW EXCLUSIVE MODE") {
		t.Fatalf("LockEdges = %q", Dialect.LockEdges)
	}
	if Dialect.RowLock != " FOR UPDATE" {
		t.Fatalf("RowLock = %q", Dialect.RowLock)
	}
}

// rejectReverse refuses dep when the opposite edge already exists.
func rejectReverse(dep models.TaskDependency) store.EdgeGuard {
	return func(existing []models.TaskDependency) error {
		for _, e := range existing {
			if e.TaskID == dep.DependsOnTaskID && e.DependsOnTaskID == dep.TaskID {
				return store.CycleDetected("add dependency", "%s already depends on %s", e.TaskID, e.DependsOnTaskID)
			}
		}
		return nil
	}
}

func TestConcurrentOpposingEdges(t *testing.T) {
	st := openOrSkip(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for round := 0; round < 10; round++ {
		a, b := uuid.NewString(), uuid.NewString()
		for _, id := range []string{a, b} {
			if err := st.InsertTask(ctx, &models.Task{ID: id, Title: id, Priority: models.TaskPriorityMedium, Status: models.TaskPending, CreatedBy: "system", CreatedAt: now, UpdatedAt: now}); err != nil {
				t.Fatalf("InsertTask: %v", err)
			}
		}
		edges := []models.TaskDependency{{TaskID: a, DependsOnTaskID: b, CreatedAt: now}, {TaskID: b, DependsOnTaskID: a, CreatedAt: now}}
		var wg sync.WaitGroup
		errs := make([]error, len(edges))
		for i, e := range edges {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = st.InsertDependency(ctx, e, rejectReverse(e))
			}()
		}
		wg.Wait()

		var created, cycles int
		for _, err := range errs {
			switch {
			case err == nil:
				created++
			case store.IsKind(err, store.KindCycleDetected):
				cycles++
			default:
				t.Fatalf("InsertDependency: %v", err)
			}
		}
		if created != 1 || cycles != 1 {
			t.Fatalf("round %d: created=%d cycles=%d, want 1 and 1", round, created, cycles)
		}
	}
}

func TestVoteRacingResolve(t *testing.T) {
	st := openOrSkip(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mid := uuid.NewString()
	if err := st.InsertMeeting(ctx, &models.Meeting{ID: mid, Title: "race", MeetingType: models.MeetingDecision, Status: models.MeetingDraft, CreatedBy: "system", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertMeeting: %v", err)
	}
	for round := 0; round < 10; round++ {
		did := uuid.NewString()
		if err := st.InsertDecision(ctx, &models.Decision{ID: did, MeetingID: mid, Title: "x", ProposedBy: "system", DecisionType: models.DecisionMajority, Status: models.DecisionProposed, CreatedAt: now}); err != nil {
			t.Fatalf("InsertDecision: %v", err)
		}
		var (
			wg      sync.WaitGroup
			voteErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			voteErr = st.ReplaceVote(ctx, &models.Vote{ID: uuid.NewString(), DecisionID: did, AgentName: "claude", Vote: models.VoteYes, CreatedAt: now})
		}()
		go func() {
			defer wg.Done()
			if _, err := st.ResolveDecision(ctx, did, models.DecisionApproved, nil, nil, now); err != nil {
				t.Errorf("ResolveDecision: %v", err)
			}
		}()
		wg.Wait()

		votes, err := st.ListVotes(ctx, did)
		if err != nil {
			t.Fatalf("ListVotes: %v", err)
		}
		switch {
		case voteErr == nil && len(votes) == 1:
		case store.IsKind(voteErr, store.KindInvalidTransition) && len(votes) == 0:
		default:
			t.Fatalf("round %d: vote err %v with %d stored votes", round, voteErr, len(votes))
		}
	}
}
