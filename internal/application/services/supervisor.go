package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/longregen/engram/internal/adapters/metrics"
	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/shared/id"
)

// DefaultTaskDeadline bounds every detached background task.
const DefaultTaskDeadline = 5 * time.Minute

// Supervisor runs detached background tasks. Each task gets its own
// context with a hard deadline, independent of the request context that
// spawned it, so a cancelled store call never cancels consolidation.
type Supervisor struct {
	deadline time.Duration
	wg       sync.WaitGroup
}

func NewSupervisor(deadline time.Duration) *Supervisor {
	if deadline <= 0 {
		deadline = DefaultTaskDeadline
	}
	return &Supervisor{deadline: deadline}
}

// Go launches fn detached and returns the assigned task ID, which also
// names the task in logs. Errors are logged and counted, never returned;
// callers must not depend on task completion.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) string {
	taskID := id.NewTask()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
			metrics.BackgroundTasks.WithLabelValues("ok").Inc()
		case ctx.Err() != nil:
			metrics.BackgroundTasks.WithLabelValues("timeout").Inc()
			log.Printf("warning: background task %s (%s) hit its %s deadline: %v",
				name, taskID, s.deadline, domain.ErrBackgroundTimeout)
		default:
			metrics.BackgroundTasks.WithLabelValues("error").Inc()
			log.Printf("warning: background task %s (%s) failed: %v", name, taskID, err)
		}
	}()
	return taskID
}

// Drain blocks until every in-flight task finishes or ctx expires. Used
// during shutdown and in tests; the engine never drains on the hot path.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
