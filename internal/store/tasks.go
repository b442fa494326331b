package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

const taskColumns = `id, title, description, assigned_to, priority, status, due_date, meeting_id, decision_id, created_by, completed_at, created_at, updated_at`

func scanTask(r rowScanner) (models.Task, error) {
	var (
		t                                          models.Task
		desc, assigned, due, meetingID, decisionID sql.NullString
		completed                                  sql.NullInt64
		created, updated                           int64
		priority, status                           string
	)
	if err := r.Scan(&t.ID, &t.Title, &desc, &assigned, &priority, &status, &due, &meetingID, &decisionID, &t.CreatedBy, &completed, &created, &updated); err != nil {
		return t, err
	}
	t.Description = nullString(desc)
	t.AssignedTo = nullString(assigned)
	t.Priority = models.TaskPriority(priority)
	t.Status = models.TaskStatus(status)
	t.DueDate = nullString(due)
	t.MeetingID = nullString(meetingID)
	t.DecisionID = nullString(decisionID)
	t.CompletedAt = nullTime(completed)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return t, nil
}

func (s *SQLStore) InsertTask(ctx context.Context, t *models.Task) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Title, strArg(t.Description), strArg(t.AssignedTo), string(t.Priority), string(t.Status), strArg(t.DueDate),
		strArg(t.MeetingID), strArg(t.DecisionID), t.CreatedBy, nullTimeArg(t.CompletedAt), toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return Unavailable("insert task", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.stmtGetTask.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("get task", "task %s not found", id)
	}
	if err != nil {
		return nil, Unavailable("get task", err)
	}
	return &t, nil
}

// UpdateTask applies p. When p.FromStatus is set the update only lands if the task is still in that
// status; otherwise InvalidTransition is returned. completed_at is stamped on the move to done.
func (s *SQLStore) UpdateTask(ctx context.Context, id string, p TaskPatch, at time.Time) (*models.Task, error) {
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
	if p.AssignedTo != nil {
		add("assigned_to", *p.AssignedTo)
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.DueDate != nil {
		add("due_date", *p.DueDate)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
		if *p.Status == models.TaskDone {
			add("completed_at", toNanos(at))
		}
	}
	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if p.FromStatus != nil {
		query += ` AND status = ?`
		args = append(args, string(*p.FromStatus))
	}
	res, err := s.DB.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable("update task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, Unavailable("update task", err)
	}
	cur, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 && p.FromStatus != nil {
		return nil, InvalidTransition("update task", "task %s is %s, not %s", id, cur.Status, *p.FromStatus)
	}
	return cur, nil
}

func (s *SQLStore) QueryTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	var (
		conds []string
		args  []any
	)
	if q.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, q.AssignedTo)
	}
	if q.MeetingID != "" {
		conds = append(conds, "meeting_id = ?")
		args = append(args, q.MeetingID)
	}
	if q.TitleFold != "" {
		conds = append(conds, "LOWER(title) = LOWER(?)")
		args = append(args, q.TitleFold)
	}
	for _, st := range q.ExcludeStatus {
		conds = append(conds, "status <> ?")
		args = append(args, string(st))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return s.queryTasks(ctx, "query tasks", query, args...)
}

func (s *SQLStore) queryTasks(ctx context.Context, op, query string, args ...any) ([]models.Task, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, Unavailable(op, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, Unavailable(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(op, err)
	}
	return out, nil
}

// InsertDependency adds the edge in one transaction with guard. An existing identical edge is
// returned with created=false and guard is not consulted. Concurrent inserts are serialized, so two
// opposing edges can never both pass the guard.
func (s *SQLStore) InsertDependency(ctx context.Context, dep models.TaskDependency, guard EdgeGuard) (*models.TaskDependency, bool, error) {
	var (
		out     models.TaskDependency
		created bool
	)
	err := s.inTx(ctx, "add dependency", func(tx *sql.Tx) error {
		if s.dialect.LockEdges != "" {
			if _, err := tx.ExecContext(ctx, s.dialect.LockEdges); err != nil {
				return Unavailable("add dependency", err)
			}
		}
		for _, id := range []string{dep.TaskID, dep.DependsOnTaskID} {
			var one int
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM tasks WHERE id = ?`), id).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return NotFound("add dependency", "task %s not found", id)
			}
			if err != nil {
				return Unavailable("add dependency", err)
			}
		}

		var existingAt int64
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT created_at FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?`),
			dep.TaskID, dep.DependsOnTaskID).Scan(&existingAt)
		if err == nil {
			out = models.TaskDependency{TaskID: dep.TaskID, DependsOnTaskID: dep.DependsOnTaskID, CreatedAt: fromNanos(existingAt)}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Unavailable("add dependency", err)
		}

		if guard != nil {
			edges, err := listEdges(ctx, tx, s.rebind(`SELECT task_id, depends_on_task_id, created_at FROM task_dependencies`))
			if err != nil {
				return Unavailable("add dependency", err)
			}
			if err := guard(edges); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO task_dependencies(task_id, depends_on_task_id, created_at) VALUES(?, ?, ?)`),
			dep.TaskID, dep.DependsOnTaskID, toNanos(dep.CreatedAt)); err != nil {
			return Unavailable("add dependency", err)
		}
		out = dep
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func listEdges(ctx context.Context, tx *sql.Tx, query string) ([]models.TaskDependency, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []models.TaskDependency
	for rows.Next() {
		var (
			d  models.TaskDependency
			at int64
		)
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &at); err != nil {
			return nil, err
		}
		d.CreatedAt = fromNanos(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListDependencies(ctx context.Context, taskID string) ([]models.DependencyDetail, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`
SELECT d.task_id, d.depends_on_task_id, d.created_at, t.title, t.status, t.assigned_to
FROM task_dependencies d
JOIN tasks t ON t.id = d.depends_on_task_id
WHERE d.task_id = ?
ORDER BY d.created_at, d.depends_on_task_id`), taskID)
	if err != nil {
		return nil, Unavailable("list dependencies", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.DependencyDetail{}
	for rows.Next() {
		var (
			d        models.DependencyDetail
			at       int64
			status   string
			assigned sql.NullString
		)
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &at, &d.DependencyTitle, &status, &assigned); err != nil {
			return nil, Unavailable("list dependencies", err)
		}
		d.CreatedAt = fromNanos(at)
		d.DependencyStatus = models.TaskStatus(status)
		d.AssignedTo = nullString(assigned)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list dependencies", err)
	}
	return out, nil
}

// ListBlocked returns every non-done task that has at least one non-done dependency, each with the
// dependencies still holding it back.
func (s *SQLStore) ListBlocked(ctx context.Context) ([]models.BlockedTask, error) {
	cols := make([]string, 0, 13)
	for _, c := range strings.Split(taskColumns, ", ") {
		cols = append(cols, "t."+c)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`
SELECT `+strings.Join(cols, ", ")+`, dt.id, dt.title, dt.status
FROM tasks t
JOIN task_dependencies d ON d.task_id = t.id
JOIN tasks dt ON dt.id = d.depends_on_task_id
WHERE t.status <> ? AND dt.status <> ?
ORDER BY t.created_at DESC, t.id, d.created_at, dt.id`), string(models.TaskDone), string(models.TaskDone))
	if err != nil {
		return nil, Unavailable("list blocked", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.BlockedTask{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			b         models.BlockingDependency
			depStatus string
		)
		t, err := scanTask(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &b.DependsOn, &b.Title, &depStatus)...)
		}))
		if err != nil {
			return nil, Unavailable("list blocked", err)
		}
		b.Status = models.TaskStatus(depStatus)
		i, ok := index[t.ID]
		if !ok {
			i = len(out)
			index[t.ID] = i
			out = append(out, models.BlockedTask{Task: t})
		}
		out[i].BlockingDependencies = append(out[i].BlockingDependencies, b)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list blocked", err)
	}
	return out, nil
}

// scanFunc adapts a closure to rowScanner so a row can carry extra trailing columns.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
