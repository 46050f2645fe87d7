// Package workerpool provides a bounded fan-out group for controlled
// concurrency with per-task error isolation.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task struct {
	ID      string
	Payload interface{}
}

// Result represents the outcome of task processing.
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    interface{}
}

// WorkerFunc is the function signature for task processing.
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
}

// DefaultConfig returns defaults sized for notification fan-out rather
// than bulk throughput; one emergency rarely has more than a handful of
// recipients.
func DefaultConfig() Config {
	return Config{Workers: 8}
}

// Pool executes task batches with bounded concurrency.
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger
}

// New creates a new worker pool.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Pool{config: cfg, workerFunc: fn, logger: logger}, nil
}

// Do processes all tasks and returns one result per task, in input order
// regardless of completion order. A task's panic or failure is converted
// to a failed result at the task boundary and never propagates to sibling
// tasks or the caller.
func (p *Pool) Do(ctx context.Context, tasks []*Task) []*Result {
	results := make([]*Result, len(tasks))

	sem := make(chan struct{}, p.config.Workers)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = p.runTask(ctx, task)
		}(i, task)
	}

	wg.Wait()
	return results
}

func (p *Pool) runTask(ctx context.Context, task *Task) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			result = &Result{
				TaskID:  task.ID,
				Success: false,
				Error:   fmt.Errorf("task panicked: %v", r),
			}
		}
	}()

	select {
	case <-ctx.Done():
		return &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
	default:
	}

	result = p.workerFunc(ctx, task)
	if result == nil {
		result = &Result{
			TaskID:  task.ID,
			Success: false,
			Error:   fmt.Errorf("worker returned no result"),
		}
	}
	return result
}
