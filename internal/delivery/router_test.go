package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relayops/agent-runtime/internal/domain"
)

type fakeSender struct {
	mu      sync.Mutex
	to      []string
	subject string
	body    string
	err     error
}

func (f *fakeSender) Send(_ context.Context, to []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = to
	f.subject = subject
	f.body = body
	return f.err
}

func sampleResult() *domain.TaskResult {
	return &domain.TaskResult{
		TaskID:          "task-1",
		AgentName:       "echo",
		Success:         true,
		Output:          "hello back",
		ExecutionTimeMs: 42,
		Metadata:        map[string]string{"source": "test"},
	}
}

func taskWith(cfg *domain.DeliveryConfig) *domain.AgentTask {
	return &domain.AgentTask{
		TaskID:    "task-1",
		AgentName: "echo",
		Delivery:  cfg,
	}
}

func TestRouter_Deliver(t *testing.T) {
	t.Run("it should fall back to the log channel when no config is present", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(nil), sampleResult())
		assert.True(t, ok)
	})

	t.Run("it should fall back to the log channel when the channel is empty", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{}), sampleResult())
		assert.True(t, ok)
	})

	t.Run("it should report failure for an unknown channel", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{Channel: "carrier-pigeon"}), sampleResult())
		assert.False(t, ok)
	})

	t.Run("it should treat the stream channel as a no-op", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{Channel: domain.ChannelStream}), sampleResult())
		assert.True(t, ok)
	})
}

// TestRouter_Webhook: the webhook channel must POST the fixed result envelope
// as JSON to the configured URL
func TestRouter_Webhook(t *testing.T) {
	var received webhookEnvelope
	var contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		contentType = req.Header.Get("Content-Type")
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	r := NewRouter(nil)
	ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
		Channel:    domain.ChannelWebhook,
		WebhookURL: ts.URL,
	}), sampleResult())

	assert.True(t, ok)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "task-1", received.TaskID)
	assert.Equal(t, "echo", received.AgentName)
	assert.True(t, received.Success)
	assert.Equal(t, "hello back", received.Output)
	assert.Equal(t, int64(42), received.ExecutionTimeMs)
}

func TestRouter_Webhook_MissingURL(t *testing.T) {
	r := NewRouter(nil)
	ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
		Channel: domain.ChannelWebhook,
	}), sampleResult())
	assert.False(t, ok)
}

// TestRouter_Webhook_Non2xx: a reachable target answering non-2xx is logged
// but still counts as a completed attempt
func TestRouter_Webhook_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	r := NewRouter(nil)
	ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
		Channel:    domain.ChannelWebhook,
		WebhookURL: ts.URL,
	}), sampleResult())
	assert.True(t, ok)
}

func TestRouter_Webhook_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	ts.Close()

	r := NewRouter(nil)
	ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
		Channel:    domain.ChannelWebhook,
		WebhookURL: ts.URL,
	}), sampleResult())
	assert.False(t, ok)
}

func TestRouter_Telegram(t *testing.T) {
	t.Run("it should report failure when bot_token or chat_id is missing", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
			Channel: domain.ChannelTelegram,
			ChatID:  "42",
		}), sampleResult())
		assert.False(t, ok)
	})
}

func TestRouter_Teams(t *testing.T) {
	var card map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &card)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	r := NewRouter(nil)
	result := sampleResult()
	result.Success = false
	result.Error = "agent exploded"

	ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
		Channel:            domain.ChannelTeams,
		IncomingWebhookURL: ts.URL,
	}), result)

	assert.True(t, ok)
	assert.Equal(t, "MessageCard", card["@type"])
	assert.Equal(t, "C72D2D", card["themeColor"])
	assert.Equal(t, "agent exploded", card["text"])
}

func TestRouter_Email(t *testing.T) {
	cfg := &domain.DeliveryConfig{
		Channel:    domain.ChannelEmail,
		Recipients: []string{"ops@example.com"},
		Subject:    "task done",
	}

	t.Run("it should hand the result to the sender", func(t *testing.T) {
		sender := &fakeSender{}
		r := NewRouter(sender)

		ok := r.Deliver(context.Background(), taskWith(cfg), sampleResult())

		assert.True(t, ok)
		assert.Equal(t, []string{"ops@example.com"}, sender.to)
		assert.Equal(t, "task done", sender.subject)
		assert.Equal(t, "hello back", sender.body)
	})

	t.Run("it should report failure when the sender errors", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("ses throttled")}
		r := NewRouter(sender)

		ok := r.Deliver(context.Background(), taskWith(cfg), sampleResult())
		assert.False(t, ok)
	})

	t.Run("it should no-op without a configured sender", func(t *testing.T) {
		r := NewRouter(nil)
		ok := r.Deliver(context.Background(), taskWith(cfg), sampleResult())
		assert.True(t, ok)
	})

	t.Run("it should report failure with no recipients", func(t *testing.T) {
		r := NewRouter(&fakeSender{})
		ok := r.Deliver(context.Background(), taskWith(&domain.DeliveryConfig{
			Channel: domain.ChannelEmail,
		}), sampleResult())
		assert.False(t, ok)
	})
}

func TestRouter_Close(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	r := NewRouter(nil)
	cfg := &domain.DeliveryConfig{Channel: domain.ChannelWebhook, WebhookURL: ts.URL}

	assert.True(t, r.Deliver(context.Background(), taskWith(cfg), sampleResult()))
	r.Close()
	r.Close()
	// The client is recreated lazily after Close
	assert.True(t, r.Deliver(context.Background(), taskWith(cfg), sampleResult()))
}

func Test_truncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	assert.Equal(t, strings.Repeat("x", telegramMessageLimit), truncate(strings.Repeat("x", telegramMessageLimit+100), telegramMessageLimit))
}
