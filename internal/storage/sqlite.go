package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer; the registry is tiny and writes are serialized upstream.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadTenants(ctx context.Context) (map[string]TenantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel, holiday_skip, scheduler_on FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]TenantRecord{}
	for rows.Next() {
		var (
			id  string
			rec TenantRecord
		)
		if err := rows.Scan(&id, &rec.Channel, &rec.HolidaySkip, &rec.SchedulerOn); err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// SaveTenants replaces the table inside one transaction.
func (s *sqliteStore) SaveTenants(ctx context.Context, tenants map[string]TenantRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tenants(id, channel, holiday_skip, scheduler_on, updated_at) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for id, rec := range tenants {
		if _, err := stmt.ExecContext(ctx, id, rec.Channel, rec.HolidaySkip, rec.SchedulerOn, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, tenant_id, actor_id, actor_name, action, value, ok, err) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.TenantID, e.ActorID, nullStr(e.ActorName), e.Action, nullStr(e.Value), e.OK, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
