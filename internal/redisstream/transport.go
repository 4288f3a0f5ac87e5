package redisstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/redis"
)

const (
	readBlockTimeout = 2 * time.Second
	readBatchSize    = 10
	taskField        = "task"
	resultField      = "result"
)

// Transport implements the durable transport over Redis Streams: consumer
// group intake with XACK acknowledgement and XADD result publishing.
type Transport struct {
	client       *goredis.Client
	taskStream   string
	resultStream string
	group        string
	consumer     string

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewTransport(client *redis.Client, taskStream, resultStream, group, consumer string) *Transport {
	return &Transport{
		client:       client.RedisClient,
		taskStream:   taskStream,
		resultStream: resultStream,
		group:        group,
		consumer:     consumer,
		stopCh:       make(chan struct{}),
	}
}

// Connect verifies the connection and creates the consumer group on the
// intake stream if absent. A racing "group already exists" is success.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return err
	}

	err := t.client.XGroupCreateMkStream(ctx, t.taskStream, t.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	return nil
}

// Listen reads the intake stream through the consumer group and emits parsed
// tasks. Malformed messages are acked immediately so they are never
// redelivered; read errors back off briefly and retry.
func (t *Transport) Listen(ctx context.Context) <-chan *domain.AgentTask {
	out := make(chan *domain.AgentTask)

	go func() {
		defer close(out)

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0

		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			streams, err := t.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    t.group,
				Consumer: t.consumer,
				Streams:  []string{t.taskStream, ">"},
				Count:    readBatchSize,
				Block:    readBlockTimeout,
			}).Result()
			if err == goredis.Nil {
				bo.Reset()
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := bo.NextBackOff()
				slog.Error("Transport read failed, backing off", "stream", t.taskStream, "backoff", wait.String(), "error", err.Error())
				select {
				case <-time.After(wait):
				case <-t.stopCh:
					return
				case <-ctx.Done():
					return
				}
				continue
			}
			bo.Reset()

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					task, err := parseMessage(msg)
					if err != nil {
						slog.Error("Malformed task message, acknowledging and dropping", "message_id", msg.ID, "error", err.Error())
						if ackErr := t.Ack(ctx, msg.ID); ackErr != nil {
							slog.Error("Failed to acknowledge malformed message", "message_id", msg.ID, "error", ackErr.Error())
						}
						continue
					}

					select {
					case out <- task:
					case <-t.stopCh:
						return
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}

func (t *Transport) Ack(ctx context.Context, messageID string) error {
	return t.client.XAck(ctx, t.taskStream, t.group, messageID).Err()
}

func (t *Transport) PublishResult(ctx context.Context, result *domain.TaskResult) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", err
	}

	return t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: t.resultStream,
		Values: map[string]any{resultField: payload},
	}).Result()
}

// PublishTask appends a task to the intake stream. The runtime itself never
// calls this; it exists for producers and the recovery tool.
func (t *Transport) PublishTask(ctx context.Context, task *domain.AgentTask) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	return t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: t.taskStream,
		Values: map[string]any{taskField: payload},
	}).Result()
}

// Stop requests the listen loop to exit at its next poll boundary. It does
// not interrupt an in-flight read.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

func (t *Transport) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return t.client.Ping(ctx).Err() == nil
}

func (t *Transport) Close() error {
	return t.client.Close()
}

func parseMessage(msg goredis.XMessage) (*domain.AgentTask, error) {
	payload, err := messagePayload(msg)
	if err != nil {
		return nil, err
	}

	task, err := domain.ParseTaskMessage(payload)
	if err != nil {
		return nil, err
	}

	task.SetMetadata(domain.TransportMessageIDKey, msg.ID)
	return task, nil
}

func messagePayload(msg goredis.XMessage) ([]byte, error) {
	raw, ok := msg.Values[taskField]
	if !ok {
		return nil, errMissingTaskField
	}

	payload, ok := raw.(string)
	if !ok {
		return nil, errMissingTaskField
	}

	return []byte(payload), nil
}
