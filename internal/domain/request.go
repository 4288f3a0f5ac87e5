package domain

// RouterRequestSubmitTask is the request body of the task submission API.
type RouterRequestSubmitTask struct {
	TaskID     string            `json:"task_id"`
	AgentName  string            `json:"agent_name" binding:"required"`
	Prompt     string            `json:"prompt" binding:"required"`
	Priority   *int              `json:"priority" binding:"omitempty,validate_priority"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id"`
	MethodName string            `json:"method_name"`
	Delivery   *DeliveryConfig   `json:"delivery"`
	Metadata   map[string]string `json:"metadata"`
}
