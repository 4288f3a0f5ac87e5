package domain

import "context"

// Transport is the durable stream the runtime coordinates over: consumer-group
// intake of tasks with per-message acknowledgement, and a result-publishing
// counterpart on a separate stream.
type Transport interface {
	// Connect establishes the connection and creates the consumer group on the
	// intake stream if absent. "Group already exists" is treated as success.
	Connect(ctx context.Context) error

	// Listen produces an effectively infinite sequence of tasks. Each task
	// carries its transport-assigned message id in metadata under
	// TransportMessageIDKey. Malformed messages are acknowledged and skipped;
	// transient read errors back off and retry. The channel is closed once
	// Stop is called or ctx is cancelled.
	Listen(ctx context.Context) <-chan *AgentTask

	// Ack acknowledges one intake message. Callers must ack only after the
	// task has been durably enqueued.
	Ack(ctx context.Context, messageID string) error

	// PublishResult writes a serialized TaskResult to the result stream and
	// returns its transport-assigned identifier.
	PublishResult(ctx context.Context, result *TaskResult) (string, error)

	// Stop requests the listen loop to exit at its next poll boundary.
	Stop()

	IsHealthy() bool
	Close() error
}

// TaskMirror is the durable copy of queued tasks used only for crash recovery,
// never for live ordering decisions.
type TaskMirror interface {
	// Add persists one task under the given ordering score.
	Add(ctx context.Context, task *AgentTask, score float64) error
	// Entries returns all persisted tasks in ascending score order.
	Entries(ctx context.Context) ([]*AgentTask, error)
	// Remove deletes the entry for the given task id.
	Remove(ctx context.Context, taskID string) error
}
