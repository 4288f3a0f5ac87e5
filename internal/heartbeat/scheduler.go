package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
	"github.com/robfig/cron/v3"
)

// SubmitFunc injects heartbeat-generated tasks into the same submission path
// external producers use.
type SubmitFunc func(task *domain.AgentTask) error

// Scheduler converts calendar and interval triggers into AgentTask
// submissions. One job per agent name; re-registration replaces.
type Scheduler struct {
	cron   *cron.Cron
	submit SubmitFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

func New(submit SubmitFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		submit:  submit,
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds one heartbeat. A config with no trigger (or with both
// triggers) is a configuration error: logged and skipped, never fatal.
func (s *Scheduler) Register(cfg domain.HeartbeatConfig) {
	if !cfg.Enabled {
		slog.Info("Heartbeat is disabled, skipping", "agent_name", cfg.AgentName)
		return
	}

	schedule, err := triggerSchedule(cfg)
	if err != nil {
		slog.Error("Invalid heartbeat config, skipping", "agent_name", cfg.AgentName, "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[cfg.AgentName]; ok {
		s.cron.Remove(existing)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.fire(cfg)
	})
	if err != nil {
		slog.Error("Invalid heartbeat schedule, skipping", "agent_name", cfg.AgentName, "schedule", schedule, "error", err.Error())
		return
	}

	s.entries[cfg.AgentName] = entryID
	slog.Info("Heartbeat registered", "agent_name", cfg.AgentName, "schedule", schedule)
}

// Start launches the underlying cron scheduler, but only if at least one
// heartbeat was registered.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		slog.Info("No heartbeats registered, scheduler stays idle")
		return
	}

	s.cron.Start()
	s.started = true
	slog.Info("Heartbeat scheduler started", "heartbeat_count", len(s.entries))
}

// Stop is idempotent and non-blocking: it does not wait for in-flight fires.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.cron.Stop()
	s.started = false
	slog.Info("Heartbeat scheduler stopped")
}

// Count returns the number of registered heartbeats.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) fire(cfg domain.HeartbeatConfig) {
	task := buildTask(cfg)
	if err := s.submit(task); err != nil {
		slog.Error("Heartbeat task submission failed", "agent_name", cfg.AgentName, "task_id", task.TaskID, "error", err.Error())
	}
}

// triggerSchedule maps the heartbeat trigger onto a cron spec. Cron
// expressions pass through; fixed intervals become @every descriptors. The
// two triggers are mutually exclusive.
func triggerSchedule(cfg domain.HeartbeatConfig) (string, error) {
	switch {
	case cfg.CronExpression != "" && cfg.IntervalSeconds > 0:
		return "", fmt.Errorf("heartbeat has both cron expression and interval")
	case cfg.CronExpression != "":
		return cfg.CronExpression, nil
	case cfg.IntervalSeconds > 0:
		return fmt.Sprintf("@every %ds", cfg.IntervalSeconds), nil
	default:
		return "", errval.ErrMissingTrigger
	}
}

func buildTask(cfg domain.HeartbeatConfig) *domain.AgentTask {
	metadata := make(map[string]string, len(cfg.Metadata)+2)
	for k, v := range cfg.Metadata {
		metadata[k] = v
	}
	metadata["source"] = "heartbeat"
	metadata["agent_name"] = cfg.AgentName

	return &domain.AgentTask{
		TaskID:         uuid.NewString(),
		AgentName:      cfg.AgentName,
		Prompt:         cfg.PromptTemplate,
		Priority:       domain.LowestPriority,
		Status:         domain.Pending,
		Delivery:       cfg.Delivery,
		Metadata:       metadata,
		CreatedAtStamp: time.Now().UTC().Unix(),
	}
}
