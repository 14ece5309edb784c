package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/task"
	"athena/internal/metrics"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// Lifecycle owns the task state machine. Transitions are serialized
// per task id, and every transition is written to the repository
// before the in-memory state is updated, so a failed write never
// leaves the two views disagreeing.
type Lifecycle struct {
	repo     task.Repository
	cache    ResultCache
	history  OpinionHistory
	notifier Notifier
	log      *logger.Logger

	mu      sync.Mutex
	tasks   map[uuid.UUID]*task.Task
	locks   map[uuid.UUID]*sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewLifecycle builds a lifecycle manager. Cache, history and notifier
// are optional collaborators.
func NewLifecycle(repo task.Repository, cache ResultCache, history OpinionHistory, notifier Notifier) *Lifecycle {
	return &Lifecycle{
		repo:     repo,
		cache:    cache,
		history:  history,
		notifier: notifier,
		log:      logger.Get().With("component", "task_lifecycle"),
		tasks:    make(map[uuid.UUID]*task.Task),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Create validates the spec, persists the new task and returns it in
// pending state.
func (l *Lifecycle) Create(ctx context.Context, spec task.Spec) (*task.Task, error) {
	t, err := task.New(spec)
	if err != nil {
		return nil, err
	}

	if err := l.repo.Create(ctx, t); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceUnavailable, err.Error())
	}

	l.mu.Lock()
	l.tasks[t.ID] = cloneTask(t)
	l.mu.Unlock()

	metrics.TasksCreated.WithLabelValues(string(t.Kind)).Inc()
	l.notify(ctx, Event{Type: EventTaskCreated, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC()})
	l.log.Infow("Task created", "task_id", t.ID, "topic", t.Topic, "mode", t.Mode, "priority", t.Priority)

	return cloneTask(t), nil
}

// Get returns a copy of the task's current state
func (l *Lifecycle) Get(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	lock := l.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := l.current(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return cloneTask(cur), nil
}

// Start moves pending → running
func (l *Lifecycle) Start(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	t, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if !t.Status.CanTransitionTo(task.StatusRunning) {
			return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", t.Status, task.StatusRunning)
		}
		if len(t.Participants) == 0 {
			return errors.Wrap(errors.ErrInvalidTransition, "cannot run without participants")
		}
		now := time.Now().UTC()
		t.Status = task.StatusRunning
		t.StartedAt = &now
		t.CurrentStep = "starting"
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, Event{Type: EventTaskStarted, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC()})
	return t, nil
}

// RunContext derives the context a task's execution runs under. A
// successful Cancel fires it, so in-flight strategies observe the
// cancellation at their next suspension point. The returned stop func
// releases the registration; the runner must call it when the run ends.
func (l *Lifecycle) RunContext(parent context.Context, taskID uuid.UUID) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	l.mu.Lock()
	l.cancels[taskID] = cancel
	l.mu.Unlock()

	return ctx, func() {
		l.mu.Lock()
		delete(l.cancels, taskID)
		l.mu.Unlock()
		cancel()
	}
}

// UpdateProgress records progress on a running task. Percent clamps to
// [0,100] and must not decrease.
func (l *Lifecycle) UpdateProgress(ctx context.Context, taskID uuid.UUID, percent float64, step string) error {
	_, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if t.Status != task.StatusRunning {
			return errors.Wrapf(errors.ErrInvalidTransition, "progress update in %s", t.Status)
		}
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent < t.Progress {
			return errors.NewValidationError("percent", "must not decrease", percent)
		}
		t.Progress = percent
		t.CurrentStep = step
		return nil
	})
	return err
}

// AppendOpinions appends opinions to the task's log. The log is
// append-only; opinions are never mutated once written.
func (l *Lifecycle) AppendOpinions(ctx context.Context, taskID uuid.UUID, opinions []task.Opinion) error {
	lock := l.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := l.current(ctx, taskID)
	if err != nil {
		return err
	}
	if cur.Status != task.StatusRunning {
		return errors.Wrapf(errors.ErrInvalidTransition, "append opinions in %s", cur.Status)
	}

	for i := range opinions {
		if err := l.repo.AppendOpinion(ctx, taskID, &opinions[i]); err != nil {
			return errors.Wrap(errors.ErrPersistenceUnavailable, err.Error())
		}
	}
	cur.Opinions = append(cur.Opinions, opinions...)
	return nil
}

// Complete moves running → completed and stores the result
func (l *Lifecycle) Complete(ctx context.Context, taskID uuid.UUID, result *task.Result) (*task.Task, error) {
	if result == nil {
		return nil, errors.NewValidationError("result", "must not be nil", result)
	}

	t, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if !t.Status.CanTransitionTo(task.StatusCompleted) {
			return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", t.Status, task.StatusCompleted)
		}
		now := time.Now().UTC()
		t.Status = task.StatusCompleted
		t.Progress = 100
		t.CurrentStep = "completed"
		t.Result = result
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if cerr := l.cache.Store(ctx, t.ID, result); cerr != nil {
			l.log.Warnw("Result cache write failed", "task_id", t.ID, "error", cerr)
		}
	}
	if l.history != nil {
		if herr := l.history.Append(ctx, t.ID, t.Topic, t.Opinions); herr != nil {
			l.log.Warnw("Opinion history write failed", "task_id", t.ID, "error", herr)
		}
	}

	l.notify(ctx, Event{
		Type: EventTaskCompleted, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC(),
		Payload: map[string]interface{}{
			"recommendation": result.Recommendation,
			"confidence":     result.Confidence,
			"consensus":      string(result.Consensus),
		},
	})
	l.log.Infow("Task completed", "task_id", t.ID, "consensus", result.Consensus, "confidence", result.Confidence)

	return t, nil
}

// Fail moves running → failed and records the reason
func (l *Lifecycle) Fail(ctx context.Context, taskID uuid.UUID, reason string) (*task.Task, error) {
	t, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if !t.Status.CanTransitionTo(task.StatusFailed) {
			return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", t.Status, task.StatusFailed)
		}
		now := time.Now().UTC()
		t.Status = task.StatusFailed
		t.FailureReason = reason
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, Event{
		Type: EventTaskFailed, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC(),
		Payload: map[string]interface{}{"reason": reason, "can_retry": t.CanRetry()},
	})
	l.log.Warnw("Task failed", "task_id", t.ID, "reason", reason, "retry_count", t.RetryCount)

	return t, nil
}

// Cancel aborts a pending or running task. Only the task's owner may
// cancel it.
func (l *Lifecycle) Cancel(ctx context.Context, taskID uuid.UUID, requesterID uuid.UUID) (*task.Task, error) {
	t, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if t.OwnerID != requesterID {
			return errors.Wrapf(errors.ErrUnauthorized, "requester %s does not own task", requesterID)
		}
		if !t.Status.CanTransitionTo(task.StatusCancelled) {
			return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", t.Status, task.StatusCancelled)
		}
		now := time.Now().UTC()
		t.Status = task.StatusCancelled
		t.CancelledBy = &requesterID
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Interrupt the run, if one is in flight.
	l.mu.Lock()
	cancelRun, running := l.cancels[taskID]
	l.mu.Unlock()
	if running {
		cancelRun()
	}

	l.notify(ctx, Event{
		Type: EventTaskCancelled, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC(),
		Payload: map[string]interface{}{"cancelled_by": requesterID.String()},
	})
	l.log.Infow("Task cancelled", "task_id", t.ID, "cancelled_by", requesterID)
	return t, nil
}

// Retry moves failed → pending while retry budget remains, clearing
// prior partial output.
func (l *Lifecycle) Retry(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	t, err := l.transition(ctx, taskID, func(t *task.Task) error {
		if t.Status != task.StatusFailed {
			return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", t.Status, task.StatusPending)
		}
		if t.RetryCount >= t.RetryLimit {
			return errors.Wrapf(errors.ErrRetryLimitExceeded, "%d of %d retries used", t.RetryCount, t.RetryLimit)
		}
		t.RetryCount++
		t.Status = task.StatusPending
		t.Progress = 0
		t.CurrentStep = ""
		t.FailureReason = ""
		t.Result = nil
		t.Opinions = nil
		t.StartedAt = nil
		t.CompletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, Event{Type: EventTaskRetried, TaskID: t.ID, Topic: t.Topic, At: time.Now().UTC()})
	l.log.Infow("Task queued for retry", "task_id", t.ID, "retry_count", t.RetryCount)

	return t, nil
}

// transition applies fn to a copy of the task, persists it and only
// then swaps the in-memory state. Contract violations surface before
// any write happens.
func (l *Lifecycle) transition(ctx context.Context, taskID uuid.UUID, fn func(*task.Task) error) (*task.Task, error) {
	lock := l.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := l.current(ctx, taskID)
	if err != nil {
		return nil, err
	}

	next := cloneTask(cur)
	if err := fn(next); err != nil {
		return nil, err
	}

	if err := l.repo.Update(ctx, next); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceUnavailable, err.Error())
	}

	l.mu.Lock()
	l.tasks[taskID] = next
	l.mu.Unlock()

	return cloneTask(next), nil
}

// current returns the live in-memory task, loading it from the
// repository on first touch.
func (l *Lifecycle) current(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	l.mu.Lock()
	t, ok := l.tasks[taskID]
	l.mu.Unlock()
	if ok {
		return t, nil
	}

	t, err := l.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}

	l.mu.Lock()
	l.tasks[taskID] = t
	l.mu.Unlock()
	return t, nil
}

func (l *Lifecycle) lockFor(taskID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[taskID] = lock
	}
	return lock
}

func (l *Lifecycle) notify(ctx context.Context, e Event) {
	if l.notifier == nil {
		return
	}
	l.notifier.Publish(ctx, e)
}

func cloneTask(t *task.Task) *task.Task {
	cp := *t
	cp.Participants = append([]uuid.UUID(nil), t.Participants...)
	cp.Opinions = append([]task.Opinion(nil), t.Opinions...)
	if t.Context != nil {
		cp.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			cp.Context[k] = v
		}
	}
	if t.Result != nil {
		res := *t.Result
		res.KeyInsights = append([]string(nil), t.Result.KeyInsights...)
		cp.Result = &res
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.CancelledBy != nil {
		v := *t.CancelledBy
		cp.CancelledBy = &v
	}
	return &cp
}
