// Package queue provides the Redis-backed job queue and result store of productdb.
// It supports:
//   - Priority queues with atomic dequeuing via BLMove
//   - Exponential backoff retries and a Dead Letter Queue (DLQ)
//   - Delayed task scheduling via Lua scripts and cron schedules
//   - Per-task result records (raw state + info) and submission metadata with a TTL
//
// The Client type is the main entry point for interacting with the queue system.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/productdb/pkg/logger"
	"github.com/guido-cesarano/productdb/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Queue names.
const (
	QueueHigh       = "queue:high"
	QueueDefault    = "queue:default"
	QueueLow        = "queue:low"
	QueueProcessing = "processing_queue"
	QueueCompleted  = "completed_queue"
	QueueDelayed    = "delayed_queue"
	QueueDead       = "dead_letter_queue"
)

// DefaultResultTTL is how long results and metadata stay readable.
const DefaultResultTTL = 28 * 24 * time.Hour

// Client manages the connection to Redis and provides methods for task queue operations.
// All operations are context-aware.
type Client struct {
	rdb       *redis.Client
	cron      *cron.Cron
	resultTTL time.Duration
}

// Option customises a Client.
type Option func(*redis.Options, *Client)

// WithPassword sets the Redis AUTH password.
func WithPassword(password string) Option {
	return func(o *redis.Options, _ *Client) { o.Password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *redis.Options, _ *Client) { o.DB = db }
}

// WithResultTTL overrides DefaultResultTTL.
func WithResultTTL(ttl time.Duration) Option {
	return func(_ *redis.Options, c *Client) {
		if ttl > 0 {
			c.resultTTL = ttl
		}
	}
}

// NewClient creates a new queue client connected to the specified Redis address.
// The address should be in the format "host:port" (e.g., "localhost:6379").
//
// Example:
//
//	client := queue.NewClient("localhost:6379", queue.WithResultTTL(time.Hour))
func NewClient(addr string, opts ...Option) *Client {
	ropts := &redis.Options{Addr: addr}
	c := &Client{
		cron:      cron.New(cron.WithSeconds()),
		resultTTL: DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(ropts, c)
	}
	c.rdb = redis.NewClient(ropts)
	return c
}

// Ping checks that Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return storeError(c.rdb.Ping(ctx).Err())
}

// Close releases the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func queueFor(priority int) string {
	switch priority {
	case tasks.PriorityHigh:
		return QueueHigh
	case tasks.PriorityLow:
		return QueueLow
	default:
		return QueueDefault
	}
}

// Enqueue serializes the task and pushes it to the tail of its priority queue.
func (c *Client) Enqueue(ctx context.Context, task tasks.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return storeError(c.rdb.RPush(ctx, queueFor(task.Priority), data).Err())
}

// Dequeue atomically moves a task from the highest priority queue available to the
// processing queue. Queues are checked high, default, low with a 1-second BLMove
// timeout each. If no task is found in any queue, it returns redis.Nil.
func (c *Client) Dequeue(ctx context.Context) (*tasks.Task, string, error) {
	for _, q := range []string{QueueHigh, QueueDefault, QueueLow} {
		result, err := c.rdb.BLMove(ctx, q, QueueProcessing, "LEFT", "RIGHT", 1*time.Second).Result()
		if err == nil {
			var task tasks.Task
			if err := json.Unmarshal([]byte(result), &task); err != nil {
				return nil, "", err
			}
			return &task, result, nil
		}
		if err != redis.Nil {
			return nil, "", err
		}
	}
	return nil, "", redis.Nil
}

// Ack removes a processed task from the processing queue.
func (c *Client) Ack(ctx context.Context, rawTask string) error {
	return c.rdb.LRem(ctx, QueueProcessing, 1, rawTask).Err()
}

// Complete moves a task from the processing queue to the completed queue,
// which keeps the last 100 entries.
func (c *Client) Complete(ctx context.Context, rawTask string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, QueueProcessing, 1, rawTask)
	pipe.RPush(ctx, QueueCompleted, rawTask)
	pipe.LTrim(ctx, QueueCompleted, -100, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// Retry increments the task's retry count and parks it in the delayed queue for
// 2^retryCount * 100ms before it becomes visible again. The original entry is
// removed from the processing queue in the same transaction.
func (c *Client) Retry(ctx context.Context, task tasks.Task, rawTask string) error {
	task.RetryCount++
	return c.delay(ctx, task, rawTask, time.Duration(1<<task.RetryCount)*100*time.Millisecond)
}

// Defer parks a task in the delayed queue without consuming a retry.
func (c *Client) Defer(ctx context.Context, task tasks.Task, rawTask string, after time.Duration) error {
	return c.delay(ctx, task, rawTask, after)
}

func (c *Client) delay(ctx context.Context, task tasks.Task, rawTask string, after time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, QueueDelayed, redis.Z{
		Score:  float64(time.Now().Add(after).UnixNano()),
		Member: data,
	})
	pipe.LRem(ctx, QueueProcessing, 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail moves a permanently failed task to the Dead Letter Queue.
func (c *Client) Fail(ctx context.Context, task tasks.Task, rawTask string) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, QueueDead, data)
	pipe.LRem(ctx, QueueProcessing, 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// promoteScript moves every delayed task whose score is due back to its
// priority queue.
var promoteScript = redis.NewScript(`
	local delayed_key = KEYS[1]
	local now = tonumber(ARGV[1])

	local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
	if #due > 0 then
		redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
		for _, raw in ipairs(due) do
			local target = 'queue:default'
			local ok, task = pcall(cjson.decode, raw)
			if ok and task['priority'] == 2 then
				target = 'queue:high'
			elseif ok and task['priority'] == 0 then
				target = 'queue:low'
			end
			redis.call('RPUSH', target, raw)
		end
	end
	return #due
`)

// PromoteDue moves delayed tasks that are ready back to their queues and
// returns how many were moved.
func (c *Client) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := promoteScript.Run(ctx, c.rdb, []string{QueueDelayed}, float64(now.UnixNano())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// StartScheduler promotes due delayed tasks every 500ms until the context is
// cancelled. The Lua script keeps concurrent schedulers from promoting the same
// task twice.
func (c *Client) StartScheduler(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.PromoteDue(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.Error().Err(err).Msg("Scheduler error")
			}
		}
	}
}

// GetQueueDepths returns the current number of items in every queue.
func (c *Client) GetQueueDepths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)

	for _, q := range []string{QueueHigh, QueueDefault, QueueLow, QueueProcessing, QueueCompleted, QueueDead} {
		if n, err := c.rdb.LLen(ctx, q).Result(); err == nil {
			depths[q] = n
		}
	}
	if n, err := c.rdb.ZCard(ctx, QueueDelayed).Result(); err == nil {
		depths[QueueDelayed] = n
	}

	return depths
}

// Schedule registers a cron job that enqueues a copy of task according to spec.
// Each run gets a fresh ID so every occurrence can be polled on its own.
// Specs use the six-field format with seconds, or descriptors like "@every 1m".
func (c *Client) Schedule(ctx context.Context, spec string, task tasks.Task) (cron.EntryID, error) {
	return c.cron.AddFunc(spec, func() {
		run := task
		run.ID = uuid.New().String()
		run.CreatedAt = time.Now()

		if err := c.Enqueue(context.Background(), run); err != nil {
			logger.Log.Error().Err(err).Str("spec", spec).Msg("Failed to enqueue scheduled task")
			return
		}
		logger.Log.Info().Str("type", run.Type).Str("task_id", run.ID).Str("spec", spec).Msg("Scheduled task enqueued")
	})
}

// StartCronScheduler starts the cron scheduler in a background goroutine.
func (c *Client) StartCronScheduler() {
	c.cron.Start()
}

// StopCronScheduler stops the cron scheduler.
func (c *Client) StopCronScheduler() {
	c.cron.Stop()
}

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	if new_tokens >= requested then
		redis.call('HSET', key, 'tokens', new_tokens - requested, 'last_refill', now)
		return 1
	end
	redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
	return 0
`)

// Allow reports whether one more task may run under the token bucket stored at
// key. limit is the refill rate in tokens per second, burst the bucket capacity.
func (c *Client) Allow(ctx context.Context, key string, limit int, burst int) (bool, error) {
	result, err := tokenBucketScript.Run(ctx, c.rdb, []string{key}, limit, burst, time.Now().Unix(), 1).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// InspectQueue returns up to limit tasks from the head of a queue without
// removing them. Malformed entries are skipped.
func (c *Client) InspectQueue(ctx context.Context, queueName string, limit int64) ([]*tasks.Task, error) {
	var rawTasks []string
	var err error

	if queueName == QueueDelayed {
		rawTasks, err = c.rdb.ZRange(ctx, queueName, 0, limit-1).Result()
	} else {
		rawTasks, err = c.rdb.LRange(ctx, queueName, 0, limit-1).Result()
	}
	if err != nil {
		return nil, err
	}

	taskList := make([]*tasks.Task, 0, len(rawTasks))
	for _, raw := range rawTasks {
		var t tasks.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		taskList = append(taskList, &t)
	}
	return taskList, nil
}

// ValidQueue reports whether name is one of the queues InspectQueue understands.
func ValidQueue(name string) bool {
	switch name {
	case QueueHigh, QueueDefault, QueueLow, QueueProcessing, QueueCompleted, QueueDelayed, QueueDead:
		return true
	}
	return false
}

func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
