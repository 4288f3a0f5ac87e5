package domain

// HeartbeatConfig describes a time-triggered task generator. Exactly one of
// CronExpression or IntervalSeconds must be set; each fire produces a fresh
// AgentTask at the lowest priority tier.
type HeartbeatConfig struct {
	AgentName       string            `json:"agent_name"`
	CronExpression  string            `json:"cron_expression,omitempty"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	PromptTemplate  string            `json:"prompt_template"`
	Delivery        *DeliveryConfig   `json:"delivery,omitempty"`
	Enabled         bool              `json:"enabled"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
