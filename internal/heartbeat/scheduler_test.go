package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
)

type captureSubmit struct {
	mu    sync.Mutex
	tasks []*domain.AgentTask
}

func (c *captureSubmit) submit(task *domain.AgentTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *captureSubmit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func (c *captureSubmit) last() *domain.AgentTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return nil
	}
	return c.tasks[len(c.tasks)-1]
}

func TestScheduler_Register(t *testing.T) {
	t.Run("it should skip disabled heartbeats", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Register(domain.HeartbeatConfig{AgentName: "echo", IntervalSeconds: 60, Enabled: false})
		assert.Equal(t, 0, s.Count())
	})

	t.Run("it should skip heartbeats with no trigger", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Register(domain.HeartbeatConfig{AgentName: "echo", Enabled: true})
		assert.Equal(t, 0, s.Count())
	})

	t.Run("it should skip heartbeats with both triggers", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Register(domain.HeartbeatConfig{
			AgentName:       "echo",
			CronExpression:  "0 * * * *",
			IntervalSeconds: 60,
			Enabled:         true,
		})
		assert.Equal(t, 0, s.Count())
	})

	t.Run("it should skip heartbeats with an unparsable cron expression", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Register(domain.HeartbeatConfig{AgentName: "echo", CronExpression: "not a cron", Enabled: true})
		assert.Equal(t, 0, s.Count())
	})

	t.Run("it should replace the previous entry for the same agent", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Register(domain.HeartbeatConfig{AgentName: "echo", IntervalSeconds: 60, Enabled: true})
		s.Register(domain.HeartbeatConfig{AgentName: "echo", IntervalSeconds: 30, Enabled: true})
		s.Register(domain.HeartbeatConfig{AgentName: "reverse", IntervalSeconds: 60, Enabled: true})
		assert.Equal(t, 2, s.Count())
	})
}

// TestScheduler_Fires: a one second interval heartbeat must fire repeatedly
// and its tasks must carry the heartbeat shape
func TestScheduler_Fires(t *testing.T) {
	capture := &captureSubmit{}
	s := New(capture.submit)

	s.Register(domain.HeartbeatConfig{
		AgentName:       "echo",
		IntervalSeconds: 1,
		PromptTemplate:  "status check",
		Enabled:         true,
		Metadata:        map[string]string{"team": "ops"},
	})
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for capture.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 2 fires, got %d", capture.count())
		}
		time.Sleep(50 * time.Millisecond)
	}

	task := capture.last()
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, "echo", task.AgentName)
	assert.Equal(t, "status check", task.Prompt)
	assert.Equal(t, domain.LowestPriority, task.Priority)
	assert.Equal(t, "heartbeat", task.Metadata["source"])
	assert.Equal(t, "echo", task.Metadata["agent_name"])
	assert.Equal(t, "ops", task.Metadata["team"])
}

func TestScheduler_Stop(t *testing.T) {
	t.Run("it should be idempotent and stop further fires", func(t *testing.T) {
		capture := &captureSubmit{}
		s := New(capture.submit)

		s.Register(domain.HeartbeatConfig{AgentName: "echo", IntervalSeconds: 1, Enabled: true})
		s.Start()

		s.Stop()
		s.Stop()

		fired := capture.count()
		time.Sleep(1500 * time.Millisecond)
		assert.Equal(t, fired, capture.count())
	})

	t.Run("it should do nothing when never started", func(t *testing.T) {
		s := New(func(task *domain.AgentTask) error { return nil })
		s.Stop()
	})
}

func Test_triggerSchedule(t *testing.T) {
	schedule, err := triggerSchedule(domain.HeartbeatConfig{CronExpression: "*/5 * * * *"})
	assert.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", schedule)

	schedule, err = triggerSchedule(domain.HeartbeatConfig{IntervalSeconds: 90})
	assert.NoError(t, err)
	assert.Equal(t, "@every 90s", schedule)

	_, err = triggerSchedule(domain.HeartbeatConfig{})
	assert.ErrorIs(t, err, errval.ErrMissingTrigger)
}
