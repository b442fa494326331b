package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

const decisionColumns = `id, meeting_id, title, description, proposed_by, decision_type, options, status, outcome, resolved_by, resolved_at, created_at`

func scanDecision(r rowScanner) (models.Decision, error) {
	var (
		d                                  models.Decision
		desc, options, outcome, resolvedBy sql.NullString
		resolvedAt                         sql.NullInt64
		created                            int64
		decisionType, status               string
	)
	if err := r.Scan(&d.ID, &d.MeetingID, &d.Title, &desc, &d.ProposedBy, &decisionType, &options, &status, &outcome, &resolvedBy, &resolvedAt, &created); err != nil {
		return d, err
	}
	d.Description = nullString(desc)
	d.DecisionType = models.DecisionType(decisionType)
	d.Status = models.DecisionStatus(status)
	d.Outcome = nullString(outcome)
	d.ResolvedBy = nullString(resolvedBy)
	d.ResolvedAt = nullTime(resolvedAt)
	d.CreatedAt = fromNanos(created)
	if options.Valid && options.String != "" {
		_ = json.Unmarshal([]byte(options.String), &d.Options)
	}
	return d, nil
}

func (s *SQLStore) InsertDecision(ctx context.Context, d *models.Decision) error {
	options, err := encodeJSON(d.Options)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, s.rebind(`INSERT INTO decisions(`+decisionColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.MeetingID, d.Title, strArg(d.Description), d.ProposedBy, string(d.DecisionType), options, string(d.Status),
		strArg(d.Outcome), strArg(d.ResolvedBy), nullTimeArg(d.ResolvedAt), toNanos(d.CreatedAt))
	if err != nil {
		return Unavailable("insert decision", err)
	}
	return nil
}

func (s *SQLStore) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	d, err := scanDecision(s.stmtGetDecision.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("get decision", "decision %s not found", id)
	}
	if err != nil {
		return nil, Unavailable("get decision", err)
	}
	return &d, nil
}

func (s *SQLStore) ListDecisions(ctx context.Context, meetingID string) ([]models.Decision, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT `+decisionColumns+` FROM decisions WHERE meeting_id = ? ORDER BY created_at, id`), meetingID)
	if err != nil {
		return nil, Unavailable("list decisions", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, Unavailable("list decisions", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list decisions", err)
	}
	return out, nil
}

// ResolveDecision moves a proposed decision to status. Of several concurrent resolvers exactly one
// updates the row; the rest get InvalidTransition.
func (s *SQLStore) ResolveDecision(ctx context.Context, id string, status models.DecisionStatus, outcome, resolvedBy *string, at time.Time) (*models.Decision, error) {
	res, err := s.DB.ExecContext(ctx, s.rebind(`UPDATE decisions SET status = ?, outcome = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND status = ?`),
		string(status), strArg(outcome), strArg(resolvedBy), toNanos(at), id, string(models.DecisionProposed))
	if err != nil {
		return nil, Unavailable("resolve decision", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, Unavailable("resolve decision", err)
	}
	cur, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, InvalidTransition("resolve decision", "decision %s is already %s", id, cur.Status)
	}
	return cur, nil
}

// ReplaceVote removes any earlier vote by the same agent and stores v, in one transaction.
// The decision must still be proposed. The decision row stays locked until commit, so a vote
// never lands after a concurrent resolve.
func (s *SQLStore) ReplaceVote(ctx context.Context, v *models.Vote) error {
	return s.inTx(ctx, "cast vote", func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, s.lockedSelect(`SELECT status FROM decisions WHERE id = ?`), v.DecisionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("cast vote", "decision %s not found", v.DecisionID)
		}
		if err != nil {
			return Unavailable("cast vote", err)
		}
		if models.DecisionStatus(status) != models.DecisionProposed {
			return InvalidTransition("cast vote", "decision %s is %s and no longer accepts votes", v.DecisionID, status)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM decision_votes WHERE decision_id = ? AND agent_name = ?`), v.DecisionID, v.AgentName); err != nil {
			return Unavailable("cast vote", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO decision_votes(id, decision_id, agent_name, vote, reasoning, created_at) VALUES(?, ?, ?, ?, ?, ?)`),
			v.ID, v.DecisionID, v.AgentName, string(v.Vote), strArg(v.Reasoning), toNanos(v.CreatedAt)); err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return InvalidTransition("cast vote", "concurrent vote by %s on decision %s", v.AgentName, v.DecisionID)
			}
			return Unavailable("cast vote", err)
		}
		return nil
	})
}

func (s *SQLStore) ListVotes(ctx context.Context, decisionID string) ([]models.Vote, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT id, decision_id, agent_name, vote, reasoning, created_at FROM decision_votes WHERE decision_id = ? ORDER BY created_at, agent_name`), decisionID)
	if err != nil {
		return nil, Unavailable("list votes", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Vote{}
	for rows.Next() {
		var (
			v         models.Vote
			vote      string
			reasoning sql.NullString
			at        int64
		)
		if err := rows.Scan(&v.ID, &v.DecisionID, &v.AgentName, &vote, &reasoning, &at); err != nil {
			return nil, Unavailable("list votes", err)
		}
		v.Vote = models.VoteValue(vote)
		v.Reasoning = nullString(reasoning)
		v.CreatedAt = fromNanos(at)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list votes", err)
	}
	return out, nil
}
