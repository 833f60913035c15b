// Package postgres keeps the archive ledger in a Postgres table so reruns skip
// posts archived by earlier runs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "archived_posts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Ledger implements archive.Ledger on Postgres.
type Ledger struct {
	pool  pool
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: p, table: table}, nil
}

// NewWithPool builds a Ledger from an existing pool, mainly for tests.
func NewWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the ledger table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	post_id      TEXT PRIMARY KEY,
	creator_id   TEXT NOT NULL,
	title        TEXT NOT NULL,
	dir          TEXT NOT NULL,
	pdf_path     TEXT NOT NULL,
	pdf_sha256   TEXT NOT NULL,
	media_total  INTEGER NOT NULL,
	media_failed INTEGER NOT NULL,
	run_id       TEXT NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Has reports whether postID already has a row.
func (l *Ledger) Has(ctx context.Context, postID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE post_id = $1)`, l.table)
	var exists bool
	if err := l.pool.QueryRow(ctx, query, postID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return exists, nil
}

// Record upserts rec keyed by post id.
func (l *Ledger) Record(ctx context.Context, rec archive.Record) error {
	if rec.PostID == "" {
		return errors.New("record post id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	post_id,
	creator_id,
	title,
	dir,
	pdf_path,
	pdf_sha256,
	media_total,
	media_failed,
	run_id,
	archived_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (post_id) DO UPDATE SET
	creator_id = EXCLUDED.creator_id,
	title = EXCLUDED.title,
	dir = EXCLUDED.dir,
	pdf_path = EXCLUDED.pdf_path,
	pdf_sha256 = EXCLUDED.pdf_sha256,
	media_total = EXCLUDED.media_total,
	media_failed = EXCLUDED.media_failed,
	run_id = EXCLUDED.run_id,
	archived_at = EXCLUDED.archived_at`, l.table)

	args := []any{
		rec.PostID,
		rec.CreatorID,
		rec.Title,
		rec.Dir,
		rec.PDFPath,
		rec.PDFSHA256,
		rec.MediaTotal,
		rec.MediaFailed,
		rec.RunID,
		rec.ArchivedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record post %s: %w", rec.PostID, err)
	}
	return nil
}

// Close releases the pool.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}
