package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect captures what differs between the SQL backends sharing SQLStore.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders as $1, $2, ...
	Numbered bool
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(error) bool
	// LockEdges, when set, runs first in a dependency insert so concurrent inserts see each
	// other's edges before the cycle check.
	LockEdges string
	// RowLock is appended to read-then-write selects (e.g. " FOR UPDATE").
	RowLock string
}

// SQLite is the dialect for modernc.org/sqlite. Transactions begin immediate and hold the database
// write lock, so it needs no explicit locks.
var SQLite = Dialect{
	Name: "sqlite",
	IsUniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

var _ Store = (*SQLStore)(nil)

// SQLStore implements Store over database/sql. The SQLite store and the postgres store both use it.
type SQLStore struct {
	DB      *sql.DB
	dialect Dialect
	onClose func()

	// Prepared statements for hot paths (prepared at open, closed in Close).
	stmtInsertMessage *sql.Stmt
	stmtGetMessage    *sql.Stmt
	stmtAckMessage    *sql.Stmt
	stmtGetTask       *sql.Stmt
	stmtGetMeeting    *sql.Stmt
	stmtGetDecision   *sql.Stmt
}

// OpenOptions configures how to open the store (driver and location).
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Home   string // for sqlite: directory containing protected/db.sqlite
	DSN    string // for sqlite: explicit DSN, overrides Home
}

// Open opens the default SQLite store at home/protected/db.sqlite.
func Open(home string) (*SQLStore, error) {
	return OpenWithOptions(OpenOptions{Driver: "sqlite", Home: home})
}

// OpenWithOptions opens a SQLite store from Home or DSN.
// For driver "postgres", use postgres.Open(dsn) from internal/store/postgres to avoid import cycles.
func OpenWithOptions(opts OpenOptions) (*SQLStore, error) {
	if opts.Driver == "postgres" {
		return nil, errors.New("for postgres use postgres.Open(dsn) from github.com/plfl21/openclaw-meeting-hub/internal/store/postgres")
	}
	dsn := opts.DSN
	if dsn == "" {
		if opts.Home == "" {
			return nil, errors.New("sqlite home or DSN required")
		}
		dbPath := filepath.Join(opts.Home, "protected", "db.sqlite")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}
	if !strings.HasPrefix(dsn, "file:") {
		// Immediate transactions take the write lock up front so concurrent read-then-write
		// transactions wait on busy_timeout instead of failing on upgrade.
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, Unavailable("open", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, Unavailable("open", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(ctx, db, SQLite, nil)
}

// NewSQLStore wraps an already migrated database. onClose runs after the DB is closed.
func NewSQLStore(ctx context.Context, db *sql.DB, d Dialect, onClose func()) (*SQLStore, error) {
	if d.IsUniqueViolation == nil {
		d.IsUniqueViolation = func(error) bool { return false }
	}
	s := &SQLStore{DB: db, dialect: d, onClose: onClose}
	if err := s.prepareStatements(ctx); err != nil {
		_ = s.Close()
		return nil, Unavailable("prepare", err)
	}
	return s, nil
}

// EnsureSchema creates the store at home, runs migrations, and closes it; used to bootstrap the DB.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}

func (s *SQLStore) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&s.stmtInsertMessage, `INSERT INTO messages(id, sender_agent, sender_name, message_type, subject, body, channel, priority, target_agent, metadata, acknowledged, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`},
		{&s.stmtGetMessage, `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`},
		{&s.stmtAckMessage, `UPDATE messages SET acknowledged = ?, acknowledged_by = ?, acknowledged_at = ? WHERE id = ? AND acknowledged = ?`},
		{&s.stmtGetTask, `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`},
		{&s.stmtGetMeeting, `SELECT ` + meetingColumns + ` FROM meetings WHERE id = ?`},
		{&s.stmtGetDecision, `SELECT ` + decisionColumns + ` FROM decisions WHERE id = ?`},
	}
	for _, p := range pairs {
		st, err := s.DB.PrepareContext(ctx, s.rebind(p.q))
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{s.stmtInsertMessage, s.stmtGetMessage, s.stmtAckMessage, s.stmtGetTask, s.stmtGetMeeting, s.stmtGetDecision} {
		if st != nil {
			_ = st.Close()
		}
	}
	err := s.DB.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

// Dialect returns the backend name ("sqlite" or "postgres").
func (s *SQLStore) Dialect() string { return s.dialect.Name }

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (s *SQLStore) rebind(q string) string {
	if !s.dialect.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// lockedSelect rewrites q for the dialect and appends its row lock clause.
func (s *SQLStore) lockedSelect(q string) string {
	return s.rebind(q) + s.dialect.RowLock
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Unavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	// WAL lets readers proceed while a writer holds the lock.
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
		// Negative cache_size means KB.
		"PRAGMA cache_size=-20000;",
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Migrate applies the embedded SQLite migrations not yet recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("store not initialized")
	}

	// Ensure migrations table exists even before we run migration files.
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return Unavailable("migrate", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return Unavailable("migrate", err)
	}

	migs, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

// Migration is one numbered schema file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads NNN_name.sql files from dir in fsys, ordered by version.
func LoadMigrations(fsys embed.FS, dir string) ([]Migration, error) {
	files, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var migs []Migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(f.Name())
		if err != nil {
			return nil, err
		}
		body, err := fsys.ReadFile(dir + "/" + f.Name())
		if err != nil {
			return nil, err
		}
		migs = append(migs, Migration{Version: v, Name: f.Name(), SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

// Time columns are unix nanoseconds.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func nullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func strArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
