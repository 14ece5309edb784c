package kafka

// Topic definitions for Kafka event streaming
const (
	// Task lifecycle events
	TopicTaskCreated   = "tasks.created"
	TopicTaskStarted   = "tasks.started"
	TopicTaskProgress  = "tasks.progress"
	TopicTaskCompleted = "tasks.completed"
	TopicTaskFailed    = "tasks.failed"
	TopicTaskCancelled = "tasks.cancelled"

	// Research topic events (keyed by analysis topic, not task id)
	TopicAnalysisResults = "analysis.results"

	// Agent events
	TopicAgentHealth = "agents.health"

	// Emergency escalations
	TopicEmergency = "emergency.escalations"
)
