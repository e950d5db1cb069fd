package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridlink/internal/logging"
	"gridlink/internal/metrics"
)

// State is the lifecycle position of a task.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// finishedRetention bounds how many finished tasks List keeps.
const finishedRetention = 100

// Info is a point-in-time view of a task.
type Info struct {
	ID         string
	Kind       string
	Target     string
	State      State
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Task is one background write operation.
type Task struct {
	id        string
	kind      string
	target    string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	state      State
	err        error
	finishedAt time.Time
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel asks the task to stop. The task still reports through Done.
func (t *Task) Cancel() { t.cancel() }

// Err returns the task's error once it has finished.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Info returns a snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{
		ID:         t.id,
		Kind:       t.kind,
		Target:     t.target,
		State:      t.state,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

// Future is a task with a typed result.
type Future[T any] struct {
	*Task
	value T
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.Err()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Runner starts and tracks background tasks.
type Runner struct {
	logger   *slog.Logger
	recorder metrics.Recorder

	mu         sync.Mutex
	tasks      map[string]*Task
	finished   []string
	onComplete []func(Info)
	wg         sync.WaitGroup
}

// NewRunner builds a runner. Nil arguments fall back to no-ops.
func NewRunner(logger *slog.Logger, recorder metrics.Recorder) *Runner {
	return &Runner{
		logger:   logging.NewComponentLogger(logger, "tasks"),
		recorder: metrics.OrNoop(recorder),
		tasks:    make(map[string]*Task),
	}
}

// OnComplete registers fn to run after every task finishes, in the task's
// goroutine.
func (r *Runner) OnComplete(fn func(Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onComplete = append(r.onComplete, fn)
}

// Submit runs fn in its own goroutine under a context derived from parent.
func Submit[T any](r *Runner, parent context.Context, kind, target string, fn func(ctx context.Context) (T, error)) *Future[T] {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	ctx = logging.WithTaskID(logging.WithOperation(ctx, kind), id)

	task := &Task{
		id:        id,
		kind:      kind,
		target:    target,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
	}
	future := &Future[T]{Task: task}

	r.mu.Lock()
	r.tasks[id] = task
	r.wg.Add(1)
	r.mu.Unlock()

	logger := logging.WithContext(ctx, r.logger)
	logger.Debug("task started", logging.String(logging.FieldTarget, target))

	go func() {
		defer r.wg.Done()
		defer cancel()
		value, err := run(ctx, fn)
		future.value = value
		r.finish(logger, task, err, ctx.Err())
	}()
	return future
}

func run[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

func (r *Runner) finish(logger *slog.Logger, task *Task, err, ctxErr error) {
	state := StateSucceeded
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctxErr != nil):
		state = StateCanceled
	case err != nil:
		state = StateFailed
	}

	task.mu.Lock()
	task.state = state
	task.err = err
	task.finishedAt = time.Now().UTC()
	task.mu.Unlock()

	r.recorder.IncTask(task.kind, string(state))
	switch state {
	case StateFailed:
		logging.WarnWithContext(logger, "task failed", "task_failed",
			logging.Error(err),
			logging.String(logging.FieldTarget, task.target),
			logging.String(logging.FieldImpact, "the requested change may not have been applied"),
			logging.String(logging.FieldErrorHint, "retry the command once the daemon is reachable"))
	case StateCanceled:
		logger.Info("task canceled", logging.String(logging.FieldEventType, "task_canceled"))
	default:
		logger.Debug("task finished")
	}

	r.mu.Lock()
	r.finished = append(r.finished, task.id)
	for len(r.finished) > finishedRetention {
		delete(r.tasks, r.finished[0])
		r.finished = r.finished[1:]
	}
	hooks := append(([]func(Info))(nil), r.onComplete...)
	r.mu.Unlock()

	info := task.Info()
	for _, hook := range hooks {
		hook(info)
	}
	close(task.done)
}

// Get returns the task with id.
func (r *Runner) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns running and recently finished tasks, oldest first.
func (r *Runner) List() []Info {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	slices.SortFunc(out, func(a, b Info) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Cancel cancels the task with id and reports whether it exists.
func (r *Runner) Cancel(id string) bool {
	t, ok := r.Get(id)
	if ok {
		t.Cancel()
	}
	return ok
}

// Shutdown cancels every running task and waits for them to finish.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, t := range r.tasks {
		t.Cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
