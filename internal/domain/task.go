package domain

type TaskStatus string

const (
	Pending   TaskStatus = "pending"
	Queued    TaskStatus = "queued"
	Running   TaskStatus = "running"
	Completed TaskStatus = "completed"
	Failed    TaskStatus = "failed"
	Cancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal tasks trigger
// delivery and removal from the durable mirror.
func (s TaskStatus) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

const (
	// HighestPriority and LowestPriority bound the accepted priority range.
	// Lower value means more urgent.
	HighestPriority = 1
	LowestPriority  = 10
)

// TransportMessageIDKey is the metadata key carrying the transport-assigned
// message id of a task consumed from the intake stream. It is needed to
// acknowledge the message after the task has been enqueued.
const TransportMessageIDKey = "transport_message_id"

type AgentTask struct {
	TaskID           string            `json:"task_id"`
	AgentName        string            `json:"agent_name"`
	Prompt           string            `json:"prompt"`
	Priority         int               `json:"priority"`
	Status           TaskStatus        `json:"status"`
	UserID           string            `json:"user_id,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	MethodName       string            `json:"method_name,omitempty"`
	Delivery         *DeliveryConfig   `json:"delivery,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAtStamp   int64             `json:"created_at_stamp"`
	ScheduledAtStamp int64             `json:"scheduled_at_stamp,omitempty"`
}

// SetMetadata writes one metadata entry, allocating the map if needed.
func (t *AgentTask) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
}

type TaskResult struct {
	TaskID           string            `json:"task_id"`
	AgentName        string            `json:"agent_name"`
	Success          bool              `json:"success"`
	Output           string            `json:"output,omitempty"`
	Error            string            `json:"error,omitempty"`
	ExecutionTimeMs  int64             `json:"execution_time_ms"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CompletedAtStamp int64             `json:"completed_at_stamp"`
}
