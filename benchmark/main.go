// Package main measures end-to-end job throughput: it submits product checks
// and polls their status the way the progress page does until every one of
// them has finished. A worker must be running against the same Redis.
//
// Usage:
//
//	go run ./benchmark -tasks 10000 -workers 10
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/status"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

func main() {
	numTasks := flag.Int("tasks", 10000, "Number of tasks to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	addr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	client := queue.NewClient(*addr)
	defer client.Close()
	ctx := context.Background()

	fmt.Printf("productdb Benchmark\n")
	fmt.Printf("===================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent enqueuers: %d\n\n", *numWorkers)

	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enqueued atomic.Int64
		ids      = make([]string, 0, *numTasks)
	)
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				task := tasks.Task{
					ID:        uuid.New().String(),
					Type:      "productdb.perform_product_check",
					Payload:   map[string]interface{}{"product_check_id": workerID*tasksPerWorker + j},
					CreatedAt: time.Now(),
					Priority:  tasks.PriorityDefault,
				}
				if err := client.Enqueue(ctx, task); err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				mu.Lock()
				ids = append(ids, task.ID)
				mu.Unlock()
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Printf("Polling task status until every task has finished...\n")
	startProcess := time.Now()
	svc := status.NewService(client, nil)

	pending := ids
	failed := 0
	for len(pending) > 0 {
		next := pending[:0]
		for _, id := range pending {
			snap, _ := svc.Poll(ctx, id, true, false)
			switch snap.State {
			case status.StateSuccess:
			case status.StateFailed:
				failed++
			default:
				next = append(next, id)
			}
		}
		pending = next
		if len(pending) > 0 {
			fmt.Printf("  Remaining: %d tasks\n", len(pending))
			time.Sleep(2 * time.Second)
		}
	}

	processTime := time.Since(startProcess)
	total := float64(len(ids))

	fmt.Printf("\n✓ All tasks finished in %s (%d failed)\n", processTime, failed)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", total/processTime.Seconds())

	totalTime := enqueueTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", total/totalTime.Seconds())
}
