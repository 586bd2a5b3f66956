// Package store opens the result backend selected in the configuration.
package store

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/productdb/pkg/config"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/resultdb"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

// TaskStore is what the server and the workers need from a result backend.
type TaskStore interface {
	GetResult(ctx context.Context, taskID string) (*tasks.Result, error)
	SetState(ctx context.Context, taskID string, state tasks.State, info any) error
	GetMetadata(ctx context.Context, taskID string) (*tasks.Metadata, error)
	SetMetadata(ctx context.Context, taskID string, meta tasks.Metadata) error
}

var (
	_ TaskStore = (*queue.Client)(nil)
	_ TaskStore = (*resultdb.Store)(nil)
)

// Open returns the configured backend and a function releasing it. The Redis
// backend shares client, which the caller keeps owning.
func Open(ctx context.Context, cfg config.ResultsConfig, client *queue.Client) (TaskStore, func() error, error) {
	switch cfg.Backend {
	case "", "redis":
		return client, func() error { return nil }, nil
	case "mysql":
		db, err := resultdb.Open(ctx, resultdb.Config{DSN: cfg.MySQLDSN, TTL: cfg.TTL})
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported results backend %q", cfg.Backend)
	}
}
