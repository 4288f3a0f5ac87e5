package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
)

// Transport is the AMQP driver of the durable transport. The competing
// consumers on the shared durable task queue play the role of a consumer
// group; per-message acknowledgement uses the AMQP delivery tag as the
// transport message id.
type Transport struct {
	url             string
	taskQueueName   string
	resultQueueName string
	consumerName    string

	conn    *amqp.Connection
	channel *amqp.Channel

	mu      sync.Mutex
	pending map[string]amqp.Delivery

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewTransport(amqpURL, taskQueueName, resultQueueName, consumerName string) *Transport {
	return &Transport{
		url:             amqpURL,
		taskQueueName:   taskQueueName,
		resultQueueName: resultQueueName,
		consumerName:    consumerName,
		pending:         make(map[string]amqp.Delivery),
		stopCh:          make(chan struct{}),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		if err2 := conn.Close(); err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}
		return err
	}

	for _, queueName := range []string{t.taskQueueName, t.resultQueueName} {
		_, err = ch.QueueDeclare(
			queueName, // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // args
		)
		if err != nil {
			if err2 := ch.Close(); err2 != nil {
				slog.Error("error occurred while closing channel", "error", err2.Error())
			}
			if err2 := conn.Close(); err2 != nil {
				slog.Error("error occurred while closing connection", "error", err2.Error())
			}
			return err
		}
	}

	t.conn = conn
	t.channel = ch
	return nil
}

func (t *Transport) Listen(ctx context.Context) <-chan *domain.AgentTask {
	out := make(chan *domain.AgentTask)

	msgs, err := t.channel.ConsumeWithContext(
		ctx,
		t.taskQueueName, // queue
		t.consumerName,  // consumer
		false,           // auto-ack: acks are issued by the orchestrator after enqueue
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		slog.Error("Failed to start consuming the task queue", "queue", t.taskQueueName, "error", err.Error())
		close(out)
		return out
	}

	go func() {
		defer close(out)

		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}

				task, err := domain.ParseTaskMessage(d.Body)
				if err != nil {
					slog.Error("Malformed task message, acknowledging and dropping", "delivery_tag", d.DeliveryTag, "error", err.Error())
					if ackErr := d.Ack(false); ackErr != nil {
						slog.Error("Failed to acknowledge malformed message", "delivery_tag", d.DeliveryTag, "error", ackErr.Error())
					}
					continue
				}

				messageID := strconv.FormatUint(d.DeliveryTag, 10)
				t.mu.Lock()
				t.pending[messageID] = d
				t.mu.Unlock()
				task.SetMetadata(domain.TransportMessageIDKey, messageID)

				select {
				case out <- task:
				case <-t.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (t *Transport) Ack(ctx context.Context, messageID string) error {
	t.mu.Lock()
	d, ok := t.pending[messageID]
	if ok {
		delete(t.pending, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return errval.ErrNotFound
	}

	return d.Ack(false)
}

func (t *Transport) PublishResult(ctx context.Context, result *domain.TaskResult) (string, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	err = t.channel.PublishWithContext(
		ctx,
		"",                // exchange
		t.resultQueueName, // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   messageID,
			Body:        body,
		})
	if err != nil {
		return "", err
	}

	return messageID, nil
}

func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

func (t *Transport) IsHealthy() bool {
	if t.conn == nil || t.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, transport is not healthy")
		return false
	}

	ch, err := t.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, transport is not healthy", "error", err)
		return false
	}
	defer func() {
		if err = ch.Close(); err != nil {
			slog.Error("Error occurred while closing channel created for health check", "error", err.Error())
		}
	}()

	return true
}

func (t *Transport) Close() error {
	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			return err
		}
	}

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}
