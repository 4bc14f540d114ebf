package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("pipeline: task panicked")
	// ErrTaskGroupClosed is reported by tasks started after Shutdown.
	ErrTaskGroupClosed = errors.New("pipeline: task group closed")
)

// Task is a handle on one background operation.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Done is closed once the task and its failure handler returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskGroup runs background tasks that outlive the request which started them.
// Every task receives the group's context, which is only cancelled when
// Shutdown gives up waiting.
type TaskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTaskGroup creates an empty task group.
func NewTaskGroup(logger *slog.Logger) *TaskGroup {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskGroup{ctx: ctx, cancel: cancel, logger: logger}
}

// Go runs fn in a new goroutine. A panic in fn is recovered and reported as
// an error wrapping ErrTaskPanicked. When fn fails, fail (if non-nil) is
// called with the error before the task is marked done. On a closed group fn
// never runs and fail is called synchronously with ErrTaskGroupClosed.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context) error, fail func(ctx context.Context, err error)) *Task {
	t := &Task{name: name, done: make(chan struct{})}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		t.err = ErrTaskGroupClosed
		if fail != nil {
			if err := g.run(name+".fail", func(context.Context) error {
				fail(context.WithoutCancel(g.ctx), t.err)
				return nil
			}); err != nil {
				g.logger.Error("task failure handler failed",
					slog.String("task", name),
					slog.String("error", err.Error()),
				)
			}
		}
		close(t.done)
		return t
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer close(t.done)

		t.err = g.run(name, fn)
		if t.err == nil {
			return
		}
		g.logger.Error("background task failed",
			slog.String("task", name),
			slog.String("error", t.err.Error()),
		)
		if fail != nil {
			if err := g.run(name+".fail", func(ctx context.Context) error {
				fail(ctx, t.err)
				return nil
			}); err != nil {
				g.logger.Error("task failure handler failed",
					slog.String("task", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return t
}

func (g *TaskGroup) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("panic recovered in background task",
				slog.String("task", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(g.ctx)
}

// Wait blocks until every running task finished or ctx is done.
func (g *TaskGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for the running ones.
// If ctx expires first, the running tasks are cancelled.
func (g *TaskGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	err := g.Wait(ctx)
	g.cancel()
	return err
}
