package main

import (
	"context"
	"time"

	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for monitoring task processing.
var (
	// tasksProcessed counts finished attempts.
	// Labels:
	//   - status: "success", "retry", "failed", "deferred" or "requeued"
	//   - type: task type (e.g., "productdb.import_price_list")
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "productdb_processed_total",
		Help: "The total number of processed tasks",
	}, []string{"status", "type"})

	// taskDuration tracks handler latency in seconds.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "productdb_task_duration_seconds",
		Help:    "Duration of task processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// queueDepth is refreshed by collectQueueMetrics.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "productdb_queue_depth",
		Help: "Number of tasks in each queue",
	}, []string{"queue"})

	// queueLatency is time.Now() - task.CreatedAt at pick-up.
	queueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "productdb_queue_latency_seconds",
		Help:    "Time spent in queue before processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

// collectQueueMetrics periodically queries Redis for queue depths and updates the gauges.
func collectQueueMetrics(ctx context.Context, client *queue.Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range client.GetQueueDepths(ctx) {
				queueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}
