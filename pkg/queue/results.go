package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/guido-cesarano/productdb/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func resultKey(taskID string) string   { return fmt.Sprintf("result:%s", taskID) }
func metadataKey(taskID string) string { return fmt.Sprintf("meta:%s", taskID) }

// SetState records the raw state and info of a task, replacing the previous record.
func (c *Client) SetState(ctx context.Context, taskID string, state tasks.State, info any) error {
	data, err := json.Marshal(tasks.Result{
		TaskID:    taskID,
		State:     state,
		Info:      info,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return wrapf(err, "encode result %s", taskID)
	}
	return storeError(c.rdb.Set(ctx, resultKey(taskID), data, c.resultTTL).Err())
}

// GetResult reads the current record of a task. A task the store has never
// seen is reported as pending, so a poll that races the worker looks queued.
func (c *Client) GetResult(ctx context.Context, taskID string) (*tasks.Result, error) {
	raw, err := c.rdb.Get(ctx, resultKey(taskID)).Bytes()
	if err == redis.Nil {
		return tasks.PendingResult(taskID), nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	var result tasks.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, wrapf(err, "decode result %s", taskID)
	}
	return &result, nil
}

// SetMetadata stores the progress page hints of a task.
func (c *Client) SetMetadata(ctx context.Context, taskID string, meta tasks.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return wrapf(err, "encode metadata %s", taskID)
	}
	return storeError(c.rdb.Set(ctx, metadataKey(taskID), data, c.resultTTL).Err())
}

// GetMetadata returns the hints stored for a task, or nil when none were written.
func (c *Client) GetMetadata(ctx context.Context, taskID string) (*tasks.Metadata, error) {
	raw, err := c.rdb.Get(ctx, metadataKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	var meta tasks.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, wrapf(err, "decode metadata %s", taskID)
	}
	return &meta, nil
}

// storeError tags connectivity failures with tasks.ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil || !isConnectionError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", tasks.ErrStoreUnavailable, err)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, redis.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
