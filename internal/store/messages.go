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

const messageColumns = `seq, id, sender_agent, sender_name, message_type, subject, body, channel, priority, target_agent, metadata, acknowledged, acknowledged_by, acknowledged_at, created_at`

// priorityOrder ranks priorities for ORDER BY; unknown values sort last.
const priorityOrder = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (models.Message, error) {
	var (
		m        models.Message
		body     sql.NullString
		meta     sql.NullString
		ackBy    sql.NullString
		ackAt    sql.NullInt64
		created  int64
		msgType  string
		priority string
	)
	if err := r.Scan(&m.Seq, &m.ID, &m.SenderAgent, &m.SenderName, &msgType, &m.Subject, &body, &m.Channel, &priority, &m.TargetAgent, &meta, &m.Acknowledged, &ackBy, &ackAt, &created); err != nil {
		return m, err
	}
	m.MessageType = models.MessageType(msgType)
	m.Priority = models.Priority(priority)
	m.Body = nullString(body)
	m.AcknowledgedBy = nullString(ackBy)
	m.AcknowledgedAt = nullTime(ackAt)
	m.CreatedAt = fromNanos(created)
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
	}
	return m, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, Validation("encode", "metadata is not valid JSON: %v", err)
	}
	return string(b), nil
}

// InsertMessages stores all msgs in one transaction and fills in their Seq.
func (s *SQLStore) InsertMessages(ctx context.Context, msgs ...*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert messages", func(tx *sql.Tx) error {
		st := tx.StmtContext(ctx, s.stmtInsertMessage)
		for _, m := range msgs {
			meta, err := encodeJSON(m.Metadata)
			if err != nil {
				return err
			}
			row := st.QueryRowContext(ctx, m.ID, m.SenderAgent, m.SenderName, string(m.MessageType), m.Subject, strArg(m.Body),
				m.Channel, string(m.Priority), m.TargetAgent, meta, m.Acknowledged, toNanos(m.CreatedAt))
			if err := row.Scan(&m.Seq); err != nil {
				if s.dialect.IsUniqueViolation(err) {
					return Validation("insert message", "message %s already exists", m.ID)
				}
				return Unavailable("insert message", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.stmtGetMessage.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("get message", "message %s not found", id)
	}
	if err != nil {
		return nil, Unavailable("get message", err)
	}
	return &m, nil
}

func (q MessageQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Channel != "" {
		conds = append(conds, "channel = ?")
		args = append(args, q.Channel)
	}
	if q.Type != "" {
		conds = append(conds, "message_type = ?")
		args = append(args, string(q.Type))
	}
	if q.Sender != "" {
		conds = append(conds, "sender_agent = ?")
		args = append(args, q.Sender)
	}
	if q.Involving != "" {
		conds = append(conds, "(sender_agent = ? OR target_agent = ? OR target_agent = ?)")
		args = append(args, q.Involving, q.Involving, models.TargetAll)
	}
	if q.AddressedTo != "" {
		conds = append(conds, "(target_agent = ? OR target_agent = ?)")
		args = append(args, q.AddressedTo, models.TargetAll)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, toNanos(q.Since))
	}
	if q.Unacknowledged {
		conds = append(conds, "acknowledged = ?")
		args = append(args, false)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) QueryMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	where, args := q.where()
	query := `SELECT ` + messageColumns + ` FROM messages` + where + ` ORDER BY `
	if q.ByPriority {
		query += priorityOrder + `, `
	}
	query += `created_at DESC, seq DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable("query messages", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, Unavailable("query messages", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("query messages", err)
	}
	return out, nil
}

func (s *SQLStore) CountMessages(ctx context.Context, q MessageQuery) (int, error) {
	where, args := q.where()
	var n int
	if err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM messages`+where), args...).Scan(&n); err != nil {
		return 0, Unavailable("count messages", err)
	}
	return n, nil
}

// GroupMessages counts messages created after since (all time when zero) by one column.
// Acknowledged groups are keyed "true" and "false".
func (s *SQLStore) GroupMessages(ctx context.Context, since time.Time, by MessageGroup) (map[string]int, error) {
	switch by {
	case GroupByType, GroupBySender, GroupByChannel, GroupByAcknowledged:
	default:
		return nil, Validation("group messages", "cannot group by %q", by)
	}
	where, args := MessageQuery{Since: since}.where()
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT `+string(by)+`, COUNT(*) FROM messages`+where+` GROUP BY `+string(by)), args...)
	if err != nil {
		return nil, Unavailable("group messages", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var n int
		if by == GroupByAcknowledged {
			var ack bool
			if err := rows.Scan(&ack, &n); err != nil {
				return nil, Unavailable("group messages", err)
			}
			if ack {
				out["true"] += n
			} else {
				out["false"] += n
			}
			continue
		}
		var key string
		if err := rows.Scan(&key, &n); err != nil {
			return nil, Unavailable("group messages", err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("group messages", err)
	}
	return out, nil
}

// AcknowledgeMessage marks id acknowledged unless it already is; the first acknowledger wins.
func (s *SQLStore) AcknowledgeMessage(ctx context.Context, id, agent string, at time.Time) (*models.Message, error) {
	if _, err := s.stmtAckMessage.ExecContext(ctx, models.AckAcknowledged.Stored(), agent, toNanos(at), id, models.AckUnacknowledged.Stored()); err != nil {
		return nil, Unavailable("acknowledge", err)
	}
	return s.GetMessage(ctx, id)
}
