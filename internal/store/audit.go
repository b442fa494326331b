package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func (s *SQLStore) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, s.rebind(`INSERT INTO meeting_audit(id, meeting_id, action, entity_type, entity_id, agent_name, details, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.MeetingID, e.Action, e.EntityType, e.EntityID, e.AgentName, details, toNanos(e.CreatedAt))
	if err != nil {
		return Unavailable("record audit", err)
	}
	return nil
}

// ListAudit returns the meeting's audit trail newest first.
func (s *SQLStore) ListAudit(ctx context.Context, meetingID string, limit int) ([]models.AuditEntry, error) {
	query := `SELECT id, meeting_id, action, entity_type, entity_id, agent_name, details, created_at FROM meeting_audit WHERE meeting_id = ? ORDER BY created_at DESC, id`
	args := []any{meetingID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable("list audit", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			e       models.AuditEntry
			details sql.NullString
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.MeetingID, &e.Action, &e.EntityType, &e.EntityID, &e.AgentName, &details, &at); err != nil {
			return nil, Unavailable("list audit", err)
		}
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.CreatedAt = fromNanos(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list audit", err)
	}
	return out, nil
}
