// Package history is the delivery audit log. Jobs themselves stay in memory;
// this records what happened per recipient so the caller can inspect outcomes
// after a job is gone, and keeps the opt-out registry.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"wablast/internal/dispatch"
	"wablast/internal/inbound"
	logx "wablast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	// Path to the sqlite file. Empty disables history entirely.
	Path string `json:"path"`
	// Retention bounds how long delivery rows are kept. Opt-outs are never
	// pruned. Default 30 days.
	Retention time.Duration `json:"retention"`
	// PruneSpec is the cron spec for the retention sweep. Default hourly.
	PruneSpec string `json:"prune_spec"`
}

type Store struct {
	db  *sql.DB
	log logx.Logger

	retention time.Duration
	cron      *cron.Cron
}

// Open initializes the store. Returns (nil, nil) when history is disabled.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	st := &Store{db: db, log: log, retention: retention}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	spec := cfg.PruneSpec
	if spec == "" {
		spec = "0 * * * *"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, st.pruneTick); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "prune spec %q", spec)
	}
	st.cron = c
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Start launches the retention cron. No-op on a nil store.
func (s *Store) Start() {
	if s == nil || s.cron == nil {
		return
	}
	s.cron.Start()
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}

// RecordDelivery implements dispatch.Recorder.
func (s *Store) RecordDelivery(ctx context.Context, jobID string, rec dispatch.DeliveryRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(job_id, phone, name, status, error, at) VALUES(?,?,?,?,?,?)`,
		jobID, rec.Recipient.Phone, nullStr(rec.Recipient.Name), string(rec.Status),
		nullStr(rec.Error), rec.At.Format(time.RFC3339Nano),
	)
	return err
}

// RecordOptOut upserts one opt-out request, keeping the latest message.
func (s *Store) RecordOptOut(ctx context.Context, o inbound.OptOut) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO optouts(phone, message, at) VALUES(?,?,?)
		 ON CONFLICT(phone) DO UPDATE SET message=excluded.message, at=excluded.at`,
		o.PhoneNumber, nullStr(o.Message), o.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

// Deliveries lists the recorded outcomes for one job, oldest first.
func (s *Store) Deliveries(ctx context.Context, jobID string) ([]dispatch.DeliveryRecord, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone, COALESCE(name,''), status, COALESCE(error,''), at FROM deliveries WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispatch.DeliveryRecord
	for rows.Next() {
		var rec dispatch.DeliveryRecord
		var status, at string
		if err := rows.Scan(&rec.Recipient.Phone, &rec.Recipient.Name, &status, &rec.Error, &at); err != nil {
			return nil, err
		}
		rec.Status = dispatch.DeliveryStatus(status)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OptOuts lists every recorded opt-out, newest first.
func (s *Store) OptOuts(ctx context.Context) ([]inbound.OptOut, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone, COALESCE(message,''), at FROM optouts ORDER BY at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inbound.OptOut
	for rows.Next() {
		var o inbound.OptOut
		var at string
		if err := rows.Scan(&o.PhoneNumber, &o.Message, &at); err != nil {
			return nil, err
		}
		o.Timestamp, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes delivery rows older than the retention window.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) pruneTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.Prune(ctx)
	if err != nil {
		s.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info(fmt.Sprintf("history prune removed %d rows", n))
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
