package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/relayops/agent-runtime/internal/domain"
)

// Mirror persists queued tasks in a sorted set scored by the queue's
// (priority, submit time) ordering, with the serialized task bodies in a
// companion hash keyed by task id. It is only read back during recovery.
type Mirror struct {
	client  *redis.Client
	key     string
	dataKey string
}

func NewMirror(client *Client, keyPrefix string) *Mirror {
	return &Mirror{
		client:  client.RedisClient,
		key:     keyPrefix + ":index",
		dataKey: keyPrefix + ":tasks",
	}
}

func (m *Mirror) Add(ctx context.Context, task *domain.AgentTask, score float64) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.ZAdd(ctx, m.key, redis.Z{Score: score, Member: task.TaskID})
	pipe.HSet(ctx, m.dataKey, task.TaskID, data)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *Mirror) Entries(ctx context.Context) ([]*domain.AgentTask, error) {
	taskIDs, err := m.client.ZRange(ctx, m.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.AgentTask, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		data, err := m.client.HGet(ctx, m.dataKey, taskID).Result()
		if err != nil {
			slog.Error("Mirror entry has no task body, skipping", "task_id", taskID, "error", err.Error())
			continue
		}

		task := new(domain.AgentTask)
		if err := json.Unmarshal([]byte(data), task); err != nil {
			slog.Error("Mirror entry is not decodable, skipping", "task_id", taskID, "error", err.Error())
			continue
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (m *Mirror) Remove(ctx context.Context, taskID string) error {
	pipe := m.client.TxPipeline()
	pipe.ZRem(ctx, m.key, taskID)
	pipe.HDel(ctx, m.dataKey, taskID)
	_, err := pipe.Exec(ctx)
	return err
}
