package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "bgsync/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.drop(qt.task, queueDelay, "stale_queue_delay", &s.droppedStale)
		return
	}

	t := qt.task
	s.log.Debug("task started", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})

	err := runTask(ctx, t, qt.timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("task exceeded its %s budget: %w", qt.timeout, err)
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error, ev.Error = err.Error(), err.Error()
		s.log.Warn("task failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur))
		s.publish(EventFailed, ev)
	} else {
		s.log.Debug("task completed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("dur", dur))
		s.publish(EventFinished, ev)
	}
	s.record(item)
}

// runTask converts panics into errors so one bad task cannot kill a worker.
func runTask(ctx context.Context, t Task, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.Run(ctx)
}
