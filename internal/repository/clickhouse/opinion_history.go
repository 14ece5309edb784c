package clickhouse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"athena/internal/adapters/clickhouse"
	"athena/internal/domain/task"
	chbatch "athena/pkg/clickhouse"
	"athena/pkg/errors"
)

// OpinionRow is one agent opinion flattened for analytical storage
type OpinionRow struct {
	TaskID     uuid.UUID
	Topic      string
	AgentID    uuid.UUID
	AgentType  string
	Content    string
	Reasoning  string
	Confidence float64
	Round      uint8
	CreatedAt  time.Time
}

// OpinionHistory appends finished tasks' opinion logs to ClickHouse
// through a shared batch writer.
type OpinionHistory struct {
	client *clickhouse.Client
	writer *chbatch.BatchWriter
}

// NewOpinionHistory creates the history store and its batch writer.
// Start must be called before use; Stop flushes the remainder.
func NewOpinionHistory(client *clickhouse.Client) *OpinionHistory {
	h := &OpinionHistory{client: client}
	h.writer = chbatch.NewBatchWriter(chbatch.BatchWriterConfig{
		FlushFunc: h.flush,
		Table:     "opinion_history",
	})
	return h
}

// Start launches the batch writer's flush loop
func (h *OpinionHistory) Start(ctx context.Context) {
	h.writer.Start(ctx)
}

// Stop flushes buffered rows and stops the writer
func (h *OpinionHistory) Stop(ctx context.Context) error {
	return h.writer.Stop(ctx)
}

// Append records the opinion log of one finished task
func (h *OpinionHistory) Append(ctx context.Context, taskID uuid.UUID, topic string, opinions []task.Opinion) error {
	for _, op := range opinions {
		row := OpinionRow{
			TaskID:     taskID,
			Topic:      topic,
			AgentID:    op.AgentID,
			AgentType:  string(op.AgentType),
			Content:    op.Content,
			Reasoning:  op.Reasoning,
			Confidence: op.Confidence,
			Round:      uint8(op.Round),
			CreatedAt:  op.CreatedAt,
		}
		if err := h.writer.Add(ctx, row); err != nil {
			return errors.Wrap(err, "failed to buffer opinion row")
		}
	}
	return nil
}

func (h *OpinionHistory) flush(ctx context.Context, rows []interface{}) error {
	batch, err := h.client.Conn().PrepareBatch(ctx, `
		INSERT INTO opinion_history (
			task_id, topic, agent_id, agent_type,
			content, reasoning, confidence, round, created_at
		)`)
	if err != nil {
		return err
	}

	for _, item := range rows {
		row, ok := item.(OpinionRow)
		if !ok {
			continue
		}
		if err := batch.Append(
			row.TaskID.String(), row.Topic, row.AgentID.String(), row.AgentType,
			row.Content, row.Reasoning, row.Confidence, row.Round, row.CreatedAt,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}
