// Package resultdb keeps task results and submission metadata in MySQL instead
// of Redis, for deployments that want finished results to survive a broker
// flush. It honours the same contract as the Redis result store: unseen tasks
// read as pending, connectivity failures wrap tasks.ErrStoreUnavailable.
package resultdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

// Config describes the MySQL connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// TTL hides records older than this. Zero keeps them forever.
	TTL time.Duration
}

// Store reads and writes task records in MySQL.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open connects to MySQL, checks the connection and creates the tables.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("mysql dsn cannot be empty")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", storeError(err))
	}

	store := New(db, cfg.TTL)
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle. The schema is not touched.
func New(db *sql.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *Store) initSchema(ctx context.Context) error {
	const results = `CREATE TABLE IF NOT EXISTS task_results (
        task_id VARCHAR(64) PRIMARY KEY,
        state VARCHAR(32) NOT NULL,
        info MEDIUMTEXT,
        updated_at BIGINT NOT NULL,
        INDEX idx_task_results_updated (updated_at)
)`
	const metadata = `CREATE TABLE IF NOT EXISTS task_metadata (
        task_id VARCHAR(64) PRIMARY KEY,
        title VARCHAR(255) NOT NULL DEFAULT '',
        redirect_to VARCHAR(2048) NOT NULL DEFAULT '',
        auto_redirect BOOLEAN NOT NULL DEFAULT FALSE,
        created_at BIGINT NOT NULL,
        INDEX idx_task_metadata_created (created_at)
)`

	for _, stmt := range []string{results, metadata} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create result tables: %w", storeError(err))
		}
	}
	return nil
}

// cutoff is the oldest updated_at still visible, in unix seconds.
func (s *Store) cutoff() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return s.now().Add(-s.ttl).Unix()
}

// SetState records the raw state and info of a task.
func (s *Store) SetState(ctx context.Context, taskID string, state tasks.State, info any) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode info %s: %w", taskID, err)
	}

	const stmt = `INSERT INTO task_results (task_id, state, info, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), info = VALUES(info), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt, taskID, string(state), string(raw), s.now().Unix()); err != nil {
		return fmt.Errorf("store result %s: %w", taskID, storeError(err))
	}
	return nil
}

// GetResult reads the current record of a task; unseen or expired tasks are pending.
func (s *Store) GetResult(ctx context.Context, taskID string) (*tasks.Result, error) {
	const query = `SELECT state, info, updated_at FROM task_results WHERE task_id = ? AND updated_at >= ?`

	var (
		state     string
		info      sql.NullString
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, taskID, s.cutoff()).Scan(&state, &info, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.PendingResult(taskID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", taskID, storeError(err))
	}

	result := &tasks.Result{
		TaskID:    taskID,
		State:     tasks.State(state),
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}
	if info.Valid && info.String != "" {
		if err := json.Unmarshal([]byte(info.String), &result.Info); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", taskID, err)
		}
	}
	return result, nil
}

// SetMetadata stores the progress page hints of a task.
func (s *Store) SetMetadata(ctx context.Context, taskID string, meta tasks.Metadata) error {
	const stmt = `INSERT INTO task_metadata (task_id, title, redirect_to, auto_redirect, created_at) VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE title = VALUES(title), redirect_to = VALUES(redirect_to),
        auto_redirect = VALUES(auto_redirect), created_at = VALUES(created_at)`
	if _, err := s.db.ExecContext(ctx, stmt, taskID, meta.Title, meta.RedirectTo, meta.AutoRedirect, s.now().Unix()); err != nil {
		return fmt.Errorf("store metadata %s: %w", taskID, storeError(err))
	}
	return nil
}

// GetMetadata returns the hints of a task, or nil when none were written.
func (s *Store) GetMetadata(ctx context.Context, taskID string) (*tasks.Metadata, error) {
	const query = `SELECT title, redirect_to, auto_redirect FROM task_metadata WHERE task_id = ? AND created_at >= ?`

	var meta tasks.Metadata
	err := s.db.QueryRowContext(ctx, query, taskID, s.cutoff()).Scan(&meta.Title, &meta.RedirectTo, &meta.AutoRedirect)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", taskID, storeError(err))
	}
	return &meta, nil
}

// Purge deletes records that expired before now and returns how many rows went.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	cutoff := s.cutoff()
	if cutoff == 0 {
		return 0, nil
	}

	var total int64
	for _, stmt := range []string{
		`DELETE FROM task_results WHERE updated_at < ?`,
		`DELETE FROM task_metadata WHERE created_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("purge results: %w", storeError(err))
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", tasks.ErrStoreUnavailable, err)
	}
	return err
}
