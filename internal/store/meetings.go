package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

const meetingColumns = `id, title, description, meeting_type, status, current_phase, scheduled_for, created_by, started_at, ended_at, created_at, updated_at`

// maxTurnAttempts bounds retries when two writers race for the same turn number.
const maxTurnAttempts = 5

func scanMeeting(r rowScanner) (models.Meeting, error) {
	var (
		m                      models.Meeting
		desc, phase, scheduled sql.NullString
		started, ended         sql.NullInt64
		created, updated       int64
		meetingType, status    string
	)
	if err := r.Scan(&m.ID, &m.Title, &desc, &meetingType, &status, &phase, &scheduled, &m.CreatedBy, &started, &ended, &created, &updated); err != nil {
		return m, err
	}
	m.Description = nullString(desc)
	m.MeetingType = models.MeetingType(meetingType)
	m.Status = models.MeetingStatus(status)
	m.CurrentPhase = nullString(phase)
	m.ScheduledFor = nullString(scheduled)
	m.StartedAt = nullTime(started)
	m.EndedAt = nullTime(ended)
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	return m, nil
}

// InsertMeeting stores m and its initial participants in one transaction. A rejected participant
// leaves no meeting behind.
func (s *SQLStore) InsertMeeting(ctx context.Context, m *models.Meeting, participants ...*models.Participant) error {
	return s.inTx(ctx, "insert meeting", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO meetings(`+meetingColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			m.ID, m.Title, strArg(m.Description), string(m.MeetingType), string(m.Status), strArg(m.CurrentPhase), strArg(m.ScheduledFor),
			m.CreatedBy, nullTimeArg(m.StartedAt), nullTimeArg(m.EndedAt), toNanos(m.CreatedAt), toNanos(m.UpdatedAt))
		if err != nil {
			return Unavailable("insert meeting", err)
		}
		for _, p := range participants {
			if err := s.insertParticipant(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	m, err := scanMeeting(s.stmtGetMeeting.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("get meeting", "meeting %s not found", id)
	}
	if err != nil {
		return nil, Unavailable("get meeting", err)
	}
	return &m, nil
}

// ListMeetings returns meetings newest first with participant, decision and action item counts.
func (s *SQLStore) ListMeetings(ctx context.Context, status models.MeetingStatus, limit int) ([]models.Meeting, error) {
	query := `SELECT ` + meetingColumns + `,
  (SELECT COUNT(*) FROM meeting_participants p WHERE p.meeting_id = meetings.id),
  (SELECT COUNT(*) FROM decisions d WHERE d.meeting_id = meetings.id),
  (SELECT COUNT(*) FROM tasks t WHERE t.meeting_id = meetings.id)
FROM meetings`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable("list meetings", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Meeting{}
	for rows.Next() {
		var pc, dc, ac int
		m, err := scanMeeting(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &pc, &dc, &ac)...)
		}))
		if err != nil {
			return nil, Unavailable("list meetings", err)
		}
		m.ParticipantCount, m.DecisionCount, m.ActionItemCount = pc, dc, ac
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list meetings", err)
	}
	return out, nil
}

func (s *SQLStore) UpdateMeeting(ctx context.Context, id string, p MeetingPatch, at time.Time) (*models.Meeting, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toNanos(at)}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.MeetingType != nil {
		add("meeting_type", string(*p.MeetingType))
	}
	if p.CurrentPhase != nil {
		add("current_phase", *p.CurrentPhase)
	}
	if p.ScheduledFor != nil {
		add("scheduled_for", *p.ScheduledFor)
	}
	args = append(args, id)
	if _, err := s.DB.ExecContext(ctx, s.rebind(`UPDATE meetings SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...); err != nil {
		return nil, Unavailable("update meeting", err)
	}
	return s.GetMeeting(ctx, id)
}

// TransitionMeeting moves a meeting from one status to another only if it is still in from.
// started_at is stamped on in_progress and ended_at on completed.
func (s *SQLStore) TransitionMeeting(ctx context.Context, id string, from, to models.MeetingStatus, at time.Time) (*models.Meeting, error) {
	sets := "status = ?, updated_at = ?"
	args := []any{string(to), toNanos(at)}
	switch to {
	case models.MeetingInProgress:
		sets += ", started_at = ?"
		args = append(args, toNanos(at))
	case models.MeetingCompleted:
		sets += ", ended_at = ?"
		args = append(args, toNanos(at))
	}
	args = append(args, id, string(from))
	res, err := s.DB.ExecContext(ctx, s.rebind(`UPDATE meetings SET `+sets+` WHERE id = ? AND status = ?`), args...)
	if err != nil {
		return nil, Unavailable("transition meeting", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, Unavailable("transition meeting", err)
	}
	cur, err := s.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, InvalidTransition("transition meeting", "meeting %s is %s, cannot move from %s to %s", id, cur.Status, from, to)
	}
	return cur, nil
}

// InsertTurn assigns the next turn number for the meeting and stores the turn. Two writers racing
// for the same number hit the unique index and the loser retries.
func (s *SQLStore) InsertTurn(ctx context.Context, t *models.Turn) error {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err := s.inTx(ctx, "add turn", func(tx *sql.Tx) error {
			var next int
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM meeting_turns WHERE meeting_id = ?`), t.MeetingID).Scan(&next); err != nil {
				return Unavailable("add turn", err)
			}
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO meeting_turns(id, meeting_id, agent_name, content, turn_type, turn_number, metadata, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
				t.ID, t.MeetingID, t.AgentName, t.Content, t.TurnType, next, meta, toNanos(t.CreatedAt))
			if err != nil {
				if s.dialect.IsUniqueViolation(err) {
					return errTurnCollision
				}
				return Unavailable("add turn", err)
			}
			t.TurnNumber = next
			return nil
		})
		if errors.Is(err, errTurnCollision) && attempt+1 < maxTurnAttempts {
			continue
		}
		if errors.Is(err, errTurnCollision) {
			return Unavailable("add turn", err)
		}
		return err
	}
}

var errTurnCollision = errors.New("turn number taken")

func (s *SQLStore) ListTurns(ctx context.Context, meetingID string) ([]models.Turn, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT id, meeting_id, agent_name, content, turn_type, turn_number, metadata, created_at FROM meeting_turns WHERE meeting_id = ? ORDER BY turn_number`), meetingID)
	if err != nil {
		return nil, Unavailable("list turns", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Turn{}
	for rows.Next() {
		var (
			t    models.Turn
			meta sql.NullString
			at   int64
		)
		if err := rows.Scan(&t.ID, &t.MeetingID, &t.AgentName, &t.Content, &t.TurnType, &t.TurnNumber, &meta, &at); err != nil {
			return nil, Unavailable("list turns", err)
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &t.Metadata)
		}
		t.CreatedAt = fromNanos(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list turns", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	return s.insertParticipant(ctx, s.DB, p)
}

func (s *SQLStore) insertParticipant(ctx context.Context, db execer, p *models.Participant) error {
	_, err := db.ExecContext(ctx, s.rebind(`INSERT INTO meeting_participants(id, meeting_id, agent_name, display_name, role, joined_at) VALUES(?, ?, ?, ?, ?, ?)`),
		p.ID, p.MeetingID, p.AgentName, p.DisplayName, p.Role, toNanos(p.JoinedAt))
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return Validation("add participant", "%s already participates in meeting %s", p.AgentName, p.MeetingID)
		}
		return Unavailable("add participant", err)
	}
	return nil
}

// DeleteParticipant removes agent from the meeting. NotFound when the agent is not a participant.
func (s *SQLStore) DeleteParticipant(ctx context.Context, meetingID, agent string) error {
	res, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM meeting_participants WHERE meeting_id = ? AND agent_name = ?`), meetingID, agent)
	if err != nil {
		return Unavailable("remove participant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unavailable("remove participant", err)
	}
	if n == 0 {
		return NotFound("remove participant", "%s does not participate in meeting %s", agent, meetingID)
	}
	return nil
}

func (s *SQLStore) ListParticipants(ctx context.Context, meetingID string) ([]models.Participant, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT id, meeting_id, agent_name, display_name, role, joined_at FROM meeting_participants WHERE meeting_id = ? ORDER BY joined_at, agent_name`), meetingID)
	if err != nil {
		return nil, Unavailable("list participants", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Participant{}
	for rows.Next() {
		var (
			p  models.Participant
			at int64
		)
		if err := rows.Scan(&p.ID, &p.MeetingID, &p.AgentName, &p.DisplayName, &p.Role, &at); err != nil {
			return nil, Unavailable("list participants", err)
		}
		p.JoinedAt = fromNanos(at)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list participants", err)
	}
	return out, nil
}

// InsertAgendaItem appends the item after the meeting's current last item.
func (s *SQLStore) InsertAgendaItem(ctx context.Context, a *models.AgendaItem) error {
	return s.inTx(ctx, "add agenda item", func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM meeting_agenda WHERE meeting_id = ?`), a.MeetingID).Scan(&next); err != nil {
			return Unavailable("add agenda item", err)
		}
		var dur any
		if a.DurationMinutes != nil {
			dur = *a.DurationMinutes
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO meeting_agenda(id, meeting_id, title, description, duration_minutes, sort_order, status, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, a.MeetingID, a.Title, strArg(a.Description), dur, next, string(a.Status), toNanos(a.CreatedAt)); err != nil {
			return Unavailable("add agenda item", err)
		}
		a.SortOrder = next
		return nil
	})
}

const agendaColumns = `id, meeting_id, title, description, duration_minutes, sort_order, status, created_at`

func scanAgendaItem(r rowScanner) (models.AgendaItem, error) {
	var (
		a      models.AgendaItem
		desc   sql.NullString
		dur    sql.NullInt64
		status string
		at     int64
	)
	if err := r.Scan(&a.ID, &a.MeetingID, &a.Title, &desc, &dur, &a.SortOrder, &status, &at); err != nil {
		return a, err
	}
	a.Description = nullString(desc)
	if dur.Valid {
		d := int(dur.Int64)
		a.DurationMinutes = &d
	}
	a.Status = models.AgendaStatus(status)
	a.CreatedAt = fromNanos(at)
	return a, nil
}

func (s *SQLStore) ListAgenda(ctx context.Context, meetingID string) ([]models.AgendaItem, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT `+agendaColumns+` FROM meeting_agenda WHERE meeting_id = ? ORDER BY sort_order, created_at`), meetingID)
	if err != nil {
		return nil, Unavailable("list agenda", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.AgendaItem{}
	for rows.Next() {
		a, err := scanAgendaItem(rows)
		if err != nil {
			return nil, Unavailable("list agenda", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list agenda", err)
	}
	return out, nil
}

func (s *SQLStore) GetAgendaItem(ctx context.Context, meetingID, id string) (*models.AgendaItem, error) {
	a, err := scanAgendaItem(s.DB.QueryRowContext(ctx, s.rebind(`SELECT `+agendaColumns+` FROM meeting_agenda WHERE id = ? AND meeting_id = ?`), id, meetingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("get agenda item", "agenda item %s not found in meeting %s", id, meetingID)
	}
	if err != nil {
		return nil, Unavailable("get agenda item", err)
	}
	return &a, nil
}

// UpdateAgendaItem applies p to the item. With FromStatus set the write only lands while the item
// is still in that status; otherwise it fails with InvalidTransition.
func (s *SQLStore) UpdateAgendaItem(ctx context.Context, meetingID, id string, p AgendaPatch) (*models.AgendaItem, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.DurationMinutes != nil {
		add("duration_minutes", *p.DurationMinutes)
	}
	if p.SortOrder != nil {
		add("sort_order", *p.SortOrder)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if len(sets) == 0 {
		return nil, Validation("update agenda item", "no fields to update")
	}
	query := `UPDATE meeting_agenda SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND meeting_id = ?`
	args = append(args, id, meetingID)
	if p.FromStatus != nil {
		query += ` AND status = ?`
		args = append(args, string(*p.FromStatus))
	}
	res, err := s.DB.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable("update agenda item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, Unavailable("update agenda item", err)
	}
	cur, err := s.GetAgendaItem(ctx, meetingID, id)
	if err != nil {
		return nil, err
	}
	if n == 0 && p.FromStatus != nil {
		return nil, InvalidTransition("update agenda item", "agenda item %s is %s, not %s", id, cur.Status, *p.FromStatus)
	}
	return cur, nil
}
