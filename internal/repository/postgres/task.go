package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/task"
	"athena/pkg/errors"
)

// Compile-time check
var _ task.Repository = (*TaskRepository)(nil)

// TaskRepository implements task.Repository using sqlx. Variable-shape
// fields (participants, context, opinions, result) live in jsonb
// columns; the opinion log is append-only at the SQL level.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

type taskRow struct {
	ID    uuid.UUID `db:"id"`
	Topic string    `db:"topic"`
	Kind  string    `db:"kind"`
	Depth string    `db:"depth"`
	Mode  string    `db:"mode"`

	Participants []byte    `db:"participants"`
	OwnerID      uuid.UUID `db:"owner_id"`
	Context      []byte    `db:"context"`
	Rounds       int       `db:"rounds"`

	Status      string  `db:"status"`
	Progress    float64 `db:"progress"`
	CurrentStep string  `db:"current_step"`
	Priority    int     `db:"priority"`

	RetryCount int `db:"retry_count"`
	RetryLimit int `db:"retry_limit"`

	FailureReason string         `db:"failure_reason"`
	CancelledBy   uuid.NullUUID  `db:"cancelled_by"`

	CreatedAt   time.Time    `db:"created_at"`
	StartedAt   sql.NullTime `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`

	Opinions []byte `db:"opinions"`
	Result   []byte `db:"result"`
}

func toRow(t *task.Task) (*taskRow, error) {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return nil, err
	}
	taskCtx, err := json.Marshal(t.Context)
	if err != nil {
		return nil, err
	}
	opinions, err := json.Marshal(t.Opinions)
	if err != nil {
		return nil, err
	}

	row := &taskRow{
		ID:            t.ID,
		Topic:         t.Topic,
		Kind:          string(t.Kind),
		Depth:         string(t.Depth),
		Mode:          string(t.Mode),
		Participants:  participants,
		OwnerID:       t.OwnerID,
		Context:       taskCtx,
		Rounds:        t.Rounds,
		Status:        string(t.Status),
		Progress:      t.Progress,
		CurrentStep:   t.CurrentStep,
		Priority:      t.Priority,
		RetryCount:    t.RetryCount,
		RetryLimit:    t.RetryLimit,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		Opinions:      opinions,
	}

	if t.CancelledBy != nil {
		row.CancelledBy = uuid.NullUUID{UUID: *t.CancelledBy, Valid: true}
	}
	if t.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: *t.StartedAt, Valid: true}
	}
	if t.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	if t.Result != nil {
		result, err := json.Marshal(t.Result)
		if err != nil {
			return nil, err
		}
		row.Result = result
	}

	return row, nil
}

func fromRow(row *taskRow) (*task.Task, error) {
	t := &task.Task{
		ID:            row.ID,
		Topic:         row.Topic,
		Kind:          task.Kind(row.Kind),
		Depth:         task.Depth(row.Depth),
		Mode:          task.Mode(row.Mode),
		OwnerID:       row.OwnerID,
		Rounds:        row.Rounds,
		Status:        task.Status(row.Status),
		Progress:      row.Progress,
		CurrentStep:   row.CurrentStep,
		Priority:      row.Priority,
		RetryCount:    row.RetryCount,
		RetryLimit:    row.RetryLimit,
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt,
	}

	if err := json.Unmarshal(row.Participants, &t.Participants); err != nil {
		return nil, err
	}
	if len(row.Context) > 0 {
		if err := json.Unmarshal(row.Context, &t.Context); err != nil {
			return nil, err
		}
	}
	if len(row.Opinions) > 0 {
		if err := json.Unmarshal(row.Opinions, &t.Opinions); err != nil {
			return nil, err
		}
	}
	if len(row.Result) > 0 {
		var result task.Result
		if err := json.Unmarshal(row.Result, &result); err != nil {
			return nil, err
		}
		t.Result = &result
	}

	if row.CancelledBy.Valid {
		v := row.CancelledBy.UUID
		t.CancelledBy = &v
	}
	if row.StartedAt.Valid {
		v := row.StartedAt.Time
		t.StartedAt = &v
	}
	if row.CompletedAt.Valid {
		v := row.CompletedAt.Time
		t.CompletedAt = &v
	}

	return t, nil
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	row, err := toRow(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (
			id, topic, kind, depth, mode,
			participants, owner_id, context, rounds,
			status, progress, current_step, priority,
			retry_count, retry_limit,
			failure_reason, cancelled_by,
			created_at, started_at, completed_at,
			opinions, result
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`

	_, err = r.db.ExecContext(ctx, query,
		row.ID, row.Topic, row.Kind, row.Depth, row.Mode,
		row.Participants, row.OwnerID, row.Context, row.Rounds,
		row.Status, row.Progress, row.CurrentStep, row.Priority,
		row.RetryCount, row.RetryLimit,
		row.FailureReason, row.CancelledBy,
		row.CreatedAt, row.StartedAt, row.CompletedAt,
		row.Opinions, row.Result,
	)
	return err
}

// GetByID retrieves a task by id
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var row taskRow

	query := `SELECT * FROM tasks WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "task %s", id)
		}
		return nil, err
	}
	return fromRow(&row)
}

// Update persists the task's current state
func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	row, err := toRow(t)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks SET
			status = $2,
			progress = $3,
			current_step = $4,
			retry_count = $5,
			failure_reason = $6,
			cancelled_by = $7,
			started_at = $8,
			completed_at = $9,
			opinions = $10,
			result = $11
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		row.ID, row.Status, row.Progress, row.CurrentStep,
		row.RetryCount, row.FailureReason, row.CancelledBy,
		row.StartedAt, row.CompletedAt,
		row.Opinions, row.Result,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "task %s", t.ID)
	}
	return nil
}

// AppendOpinion appends one opinion to the task's jsonb opinion log
func (r *TaskRepository) AppendOpinion(ctx context.Context, taskID uuid.UUID, op *task.Opinion) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET opinions = COALESCE(opinions, '[]'::jsonb) || $2::jsonb
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, taskID, data)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	return nil
}

// List retrieves all tasks, newest first
func (r *TaskRepository) List(ctx context.Context) ([]*task.Task, error) {
	return r.list(ctx, `SELECT * FROM tasks ORDER BY created_at DESC`)
}

// ListByStatus retrieves tasks in a given status, highest priority first
func (r *TaskRepository) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return r.list(ctx,
		`SELECT * FROM tasks WHERE status = $1 ORDER BY priority DESC, created_at`,
		status)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*task.Task, error) {
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(rows))
	for i := range rows {
		t, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
