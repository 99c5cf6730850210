package store

import (
	"chat-autopilot/internal/entity"
	"chat-autopilot/pkg/apperr"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLite keeps cookies per identity and the history of run summaries.
type SQLite struct {
	db *sql.DB
}

// Open connects to the database at path, creating it and applying pending migrations.
func Open(ctx context.Context, path string) (*SQLite, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", expanded)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close(ctx context.Context) error {
	closeCh := make(chan error, 1)
	go func() { closeCh <- s.db.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-closeCh:
		return err
	}
}

func (s *SQLite) LoadCookies(ctx context.Context, identity string) ([]entity.Cookie, error) {
	const op = "LoadCookies"

	rows, err := s.db.QueryContext(ctx, `SELECT name, value, domain, path, expires, http_only, secure, same_site
FROM cookies WHERE identity = ? ORDER BY domain, path, name`, identity)
	if err != nil {
		return nil, storeErr(op, "select_cookies", err)
	}
	defer rows.Close()

	var cookies []entity.Cookie
	for rows.Next() {
		var (
			c       entity.Cookie
			expires int64
		)
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &expires, &c.HTTPOnly, &c.Secure, &c.SameSite); err != nil {
			return nil, storeErr(op, "scan_cookie", err)
		}
		if expires > 0 {
			c.Expires = time.Unix(expires, 0).UTC()
		}
		cookies = append(cookies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, "iterate_cookies", err)
	}

	return liveCookies(cookies, time.Now()), nil
}

// SaveCookies replaces the stored cookie jar of identity.
func (s *SQLite) SaveCookies(ctx context.Context, identity string, cookies []entity.Cookie) error {
	const op = "SaveCookies"

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE identity = ?`, identity); err != nil {
			return storeErr(op, "delete_cookies", err)
		}

		for _, c := range cookies {
			var expires int64
			if !c.Expires.IsZero() {
				expires = c.Expires.Unix()
			}

			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO cookies
(identity, name, domain, path, value, expires, http_only, secure, same_site, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				identity, c.Name, c.Domain, c.Path, c.Value, expires, c.HTTPOnly, c.Secure, c.SameSite, time.Now().UTC(),
			); err != nil {
				return storeErr(op, "insert_cookie", err)
			}
		}

		return nil
	})
}

func (s *SQLite) SaveRun(ctx context.Context, summary *entity.RunSummary) error {
	const op = "SaveRun"

	payload, err := json.Marshal(summary)
	if err != nil {
		return storeErr(op, "encode_summary", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
(run_id, identity, started_at, finished_at, succeeded, aborted, abort_kind, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID.String(), summary.Identity, summary.StartedAt.UTC(), summary.FinishedAt.UTC(),
		summary.Succeeded, summary.Aborted, summary.AbortKind, string(payload),
	); err != nil {
		return storeErr(op, "insert_run", err)
	}

	return nil
}

// RecentRuns returns up to limit summaries for identity, newest first. An empty
// identity matches every identity.
func (s *SQLite) RecentRuns(ctx context.Context, identity string, limit int) ([]entity.RunSummary, error) {
	const op = "RecentRuns"

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM runs
WHERE (? = '' OR identity = ?) ORDER BY started_at DESC LIMIT ?`, identity, identity, limit)
	if err != nil {
		return nil, storeErr(op, "select_runs", err)
	}
	defer rows.Close()

	var runs []entity.RunSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storeErr(op, "scan_run", err)
		}

		var summary entity.RunSummary
		if err := json.UnmarshalFromString(payload, &summary); err != nil {
			return nil, storeErr(op, "decode_summary", err)
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, "iterate_runs", err)
	}

	return runs, nil
}

func (s *SQLite) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, "begin_tx", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback tx after error %v: %w", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr(op, "commit_tx", err)
	}

	return nil
}

func liveCookies(cookies []entity.Cookie, now time.Time) []entity.Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		out = append(out, c)
	}

	return out
}

func storeErr(op, reason string, err error) error {
	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaReason: reason,
		apperr.MetaStage:  apperr.StageStore,
	})
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        name TEXT NOT NULL,
        applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := loadApplied(ctx, db)
	if err != nil {
		return err
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := executeMigration(ctx, db, m); err != nil {
			return err
		}
	}

	return nil
}

func loadApplied(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}

	return applied, rows.Err()
}

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	sort.Strings(entries)
	migrations := make([]migration, 0, len(entries))
	for _, path := range entries {
		content, err := fs.ReadFile(migrationsFS, path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}

		base := filepath.Base(path)
		version, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration filename: %s", base)
		}

		var v int
		if _, err := fmt.Sscanf(version, "%d", &v); err != nil {
			return nil, fmt.Errorf("parse version for %s: %w", base, err)
		}

		migrations = append(migrations, migration{
			version: v,
			name:    strings.TrimSuffix(name, filepath.Ext(name)),
			sql:     string(content),
		})
	}

	return migrations, nil
}

func executeMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %d: %w", m.version, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name, applied_at) VALUES(?, ?, ?);`,
		m.version, m.name, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}

	return nil
}
