package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Trigger invokes the external webhook target for one task. Implementations
// must never panic or let transport errors escape: every outcome collapses
// into a TriggerResult.
type Trigger interface {
	Trig(ctx context.Context, task TaskEntity, triggeredAt time.Time, eventID string) TriggerResult
}

// TaskExecutor fans a batch of due tasks out to the trigger on the shared
// pool and computes each task's post-execution state.
type TaskExecutor struct {
	pool    *Pool
	trigger Trigger
	logger  *slog.Logger
}

func NewTaskExecutor(pool *Pool, trigger Trigger, logger *slog.Logger) *TaskExecutor {
	return &TaskExecutor{pool: pool, trigger: trigger, logger: logger}
}

// Execute triggers every task concurrently and returns the updated entities.
// The whole batch shares one triggered-at timestamp and one correlation id.
// Result order does not follow input order. A panicking trigger call is
// contained and counted as a failure for that task only.
func (e *TaskExecutor) Execute(ctx context.Context, tasks []TaskEntity) []TaskEntity {
	if len(tasks) == 0 {
		return nil
	}

	triggeredAt := time.Now().UTC()
	eventID := NewID()

	var mu sync.Mutex
	result := make([]TaskEntity, 0, len(tasks))

	e.pool.Each(len(tasks), func(i int) {
		updated := e.trig(ctx, tasks[i], triggeredAt, eventID)
		mu.Lock()
		result = append(result, updated)
		mu.Unlock()
	})
	return result
}

func (e *TaskExecutor) trig(ctx context.Context, task TaskEntity, triggeredAt time.Time, eventID string) TaskEntity {
	res := e.safeTrig(ctx, task, triggeredAt, eventID)

	now := time.Now().UTC()
	updated := TaskEntity{ID: task.ID, Version: task.Version + 1, Task: task.Task}
	updated.Task.LastTrig = &now
	success := res.Success
	updated.Task.Success = &success
	if res.Success {
		updated.Task.ErrorCount = 0
	} else {
		updated.Task.ErrorCount = task.Task.ErrorCount + 1
		if res.Gone {
			e.logger.Info("trigger target signaled gone", "task", task.ID, "event_id", eventID)
		}
	}
	return updated
}

// safeTrig contains a misbehaving trigger implementation so one task cannot
// abort the batch.
func (e *TaskExecutor) safeTrig(ctx context.Context, task TaskEntity, triggeredAt time.Time, eventID string) (res TriggerResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("trigger panicked", "task", task.ID, "panic", r)
			res = TriggerResult{Success: false}
		}
	}()
	return e.trigger.Trig(ctx, task, triggeredAt, eventID)
}
