package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoPreservesOrder(t *testing.T) {
	fn := func(_ context.Context, task *Task) *Result {
		// Later tasks finish first to prove ordering is by input, not
		// completion.
		i := task.Payload.(int)
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		return &Result{TaskID: task.ID, Success: true, Data: i}
	}
	pool, err := New(Config{Workers: 4}, fn, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = &Task{ID: fmt.Sprintf("t%d", i), Payload: i}
	}

	results := pool.Do(context.Background(), tasks)
	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}
	for i, r := range results {
		if r == nil || r.Data.(int) != i {
			t.Errorf("results[%d] out of order: %+v", i, r)
		}
	}
}

func TestDoRecoversPanics(t *testing.T) {
	fn := func(_ context.Context, task *Task) *Result {
		if task.Payload == "boom" {
			panic("worker exploded")
		}
		return &Result{TaskID: task.ID, Success: true}
	}
	pool, _ := New(Config{Workers: 2}, fn, nil)

	results := pool.Do(context.Background(), []*Task{
		{ID: "a", Payload: "ok"},
		{ID: "b", Payload: "boom"},
		{ID: "c", Payload: "ok"},
	})

	if !results[0].Success || !results[2].Success {
		t.Errorf("panicking task must not affect siblings: %+v", results)
	}
	if results[1].Success || results[1].Error == nil {
		t.Errorf("panic must surface as a failed result, got %+v", results[1])
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	const workers = 3
	var active, peak int64

	fn := func(_ context.Context, task *Task) *Result {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return &Result{TaskID: task.ID, Success: true}
	}
	pool, _ := New(Config{Workers: workers}, fn, nil)

	tasks := make([]*Task, 20)
	for i := range tasks {
		tasks[i] = &Task{ID: fmt.Sprintf("t%d", i)}
	}
	pool.Do(context.Background(), tasks)

	if got := atomic.LoadInt64(&peak); got > workers {
		t.Errorf("peak concurrency %d exceeds limit %d", got, workers)
	}
}

func TestDoCancelledContext(t *testing.T) {
	fn := func(_ context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}
	pool, _ := New(Config{Workers: 2}, fn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.Do(ctx, []*Task{{ID: "a"}})
	if results[0].Success || results[0].Error == nil {
		t.Errorf("cancelled context must fail the task, got %+v", results[0])
	}
}

func TestDoNilWorkerResult(t *testing.T) {
	fn := func(context.Context, *Task) *Result { return nil }
	pool, _ := New(Config{Workers: 1}, fn, nil)

	results := pool.Do(context.Background(), []*Task{{ID: "a"}})
	if results[0] == nil || results[0].Success {
		t.Errorf("nil worker result must become a failure, got %+v", results[0])
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatal("expected error for nil worker function")
	}
}
