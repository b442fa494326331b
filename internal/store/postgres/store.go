package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/plfl21/openclaw-meeting-hub/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Dialect is the postgres flavor of the shared SQL store. Transactions run at READ COMMITTED, so
// read-then-write paths take explicit locks: SHARE ROW EXCLUSIVE conflicts with itself and with
// plain writes, but not with readers.
var Dialect = store.Dialect{
	Name:     "postgres",
	Numbered: true,
	IsUniqueViolation: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
	},
	LockEdges: `LOCK TABLE task_dependencies IN SHARE ROW EXCLUSIVE MODE`,
	RowLock:   ` FOR UPDATE`,
}

// Store is the PostgreSQL implementation of store.Store. Queries go through the shared SQL store
// on a database/sql handle backed by Pool.
type Store struct {
	*store.SQLStore
	Pool *pgxpool.Pool
}

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be empty to use DATABASE_URL env.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, store.Validation("open postgres", "invalid DSN: %v", err)
	}
	cfg.MaxConns = 20
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, store.Unavailable("open postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Unavailable("open postgres", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	sqlStore, err := store.NewSQLStore(ctx, db, Dialect, pool.Close)
	if err != nil {
		return nil, err
	}
	return &Store{SQLStore: sqlStore, Pool: pool}, nil
}

// Migrate runs pending migrations (only those not already in schema_migrations).
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	applied := make(map[int]bool)
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err == nil {
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				break
			}
			applied[v] = true
		}
		rows.Close()
	}

	migs, err := store.LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if _, err := pool.Exec(ctx, m.SQL); err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.Version, time.Now().Unix()); err != nil {
			return store.Unavailable("migrate", err)
		}
	}
	return nil
}
