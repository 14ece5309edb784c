package events

import (
	"context"

	"github.com/google/uuid"

	"athena/internal/adapters/kafka"
	"athena/internal/engine"
	"athena/pkg/logger"
)

// Publisher routes engine events onto Kafka topics. Delivery is
// fire-and-forget; a broker outage degrades to log lines and never
// blocks or fails a task transition.
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates an event publisher backed by the Kafka producer
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

var topicByEvent = map[string]string{
	engine.EventTaskCreated:   kafka.TopicTaskCreated,
	engine.EventTaskStarted:   kafka.TopicTaskStarted,
	engine.EventTaskProgress:  kafka.TopicTaskProgress,
	engine.EventTaskCompleted: kafka.TopicTaskCompleted,
	engine.EventTaskFailed:    kafka.TopicTaskFailed,
	engine.EventTaskRetried:   kafka.TopicTaskCreated,
	engine.EventTaskCancelled: kafka.TopicTaskCancelled,
	engine.EventAgentHealth:   kafka.TopicAgentHealth,
	engine.EventEmergency:     kafka.TopicEmergency,
}

// Publish implements engine.Notifier
func (p *Publisher) Publish(ctx context.Context, e engine.Event) {
	topic, ok := topicByEvent[e.Type]
	if !ok {
		p.log.Warnw("Unmapped event type", "type", e.Type)
		return
	}

	key := e.TaskID.String()
	if e.TaskID == uuid.Nil {
		key = e.Topic
	}

	if err := p.producer.Publish(ctx, topic, key, e); err != nil {
		p.log.Warnw("Event publish failed", "type", e.Type, "task_id", e.TaskID, "error", err)
		return
	}

	// Completed analyses also fan out on a research-topic keyed stream
	// so downstream consumers can follow a subject across tasks.
	if e.Type == engine.EventTaskCompleted && e.Topic != "" {
		if err := p.producer.Publish(ctx, kafka.TopicAnalysisResults, e.Topic, e); err != nil {
			p.log.Warnw("Analysis result publish failed", "topic", e.Topic, "error", err)
		}
	}
}
