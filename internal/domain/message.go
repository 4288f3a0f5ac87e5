package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseTaskMessage decodes one intake message payload into an AgentTask and
// normalizes it for enqueueing. A missing agent name makes the message
// malformed; a missing task id gets a generated one, and out-of-range
// priorities are clamped into [HighestPriority, LowestPriority].
func ParseTaskMessage(payload []byte) (*AgentTask, error) {
	task := new(AgentTask)
	if err := json.Unmarshal(payload, task); err != nil {
		return nil, fmt.Errorf("unmarshal task payload: %w", err)
	}

	if task.AgentName == "" {
		return nil, fmt.Errorf("task message has no agent_name")
	}

	NormalizeTask(task)
	return task, nil
}

// NormalizeTask fills generator-assigned fields of a freshly produced task.
func NormalizeTask(task *AgentTask) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.Priority < HighestPriority {
		if task.Priority == 0 {
			// unset priority defaults to the middle of the range
			task.Priority = 5
		} else {
			task.Priority = HighestPriority
		}
	}
	if task.Priority > LowestPriority {
		task.Priority = LowestPriority
	}
	if task.Status == "" {
		task.Status = Pending
	}
	if task.CreatedAtStamp == 0 {
		task.CreatedAtStamp = time.Now().UTC().Unix()
	}
}
