package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/relayops/agent-runtime/internal/domain"
)

const (
	// telegramMessageLimit is the Telegram Bot API maximum message length.
	telegramMessageLimit = 4096
	logPreviewLimit      = 200
	requestTimeout       = 15 * time.Second
)

// webhookEnvelope is the fixed JSON body POSTed to webhook targets.
type webhookEnvelope struct {
	TaskID          string            `json:"task_id"`
	AgentName       string            `json:"agent_name"`
	Success         bool              `json:"success"`
	Output          string            `json:"output,omitempty"`
	Error           string            `json:"error,omitempty"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Sender sends one email to the resolved recipients. A nil Sender on the
// router makes the email channel log and no-op instead of failing the task.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Router delivers one TaskResult through exactly the channel named in the
// task's delivery config. Delivery failures are logged and reported as a
// boolean, never raised, and never retried here.
type Router struct {
	mu          sync.Mutex
	httpClient  *http.Client
	emailSender Sender
}

func NewRouter(emailSender Sender) *Router {
	return &Router{emailSender: emailSender}
}

// client returns the shared outbound HTTP client, lazily created and
// recreated if previously closed.
func (r *Router) client() *http.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: requestTimeout}
	}
	return r.httpClient
}

// Deliver routes the result to the task's configured channel and returns
// whether the single delivery attempt succeeded. The log channel is the
// fallback when no delivery config is present.
func (r *Router) Deliver(ctx context.Context, task *domain.AgentTask, result *domain.TaskResult) bool {
	channel := domain.ChannelLog
	cfg := &domain.DeliveryConfig{}
	if task.Delivery != nil {
		cfg = task.Delivery
		if cfg.Channel != "" {
			channel = cfg.Channel
		}
	}

	var err error
	switch channel {
	case domain.ChannelLog:
		r.deliverLog(result)
	case domain.ChannelWebhook:
		err = r.deliverWebhook(ctx, cfg, result)
	case domain.ChannelTelegram:
		err = r.deliverTelegram(ctx, cfg, result)
	case domain.ChannelTeams:
		err = r.deliverTeams(ctx, cfg, result)
	case domain.ChannelEmail:
		err = r.deliverEmail(ctx, cfg, result)
	case domain.ChannelStream:
		// Publishing back onto the transport is the orchestrator's job; a
		// router-side publish would make the router depend on the listener.
	default:
		err = fmt.Errorf("unknown delivery channel %q", channel)
	}

	if err != nil {
		slog.Error("Result delivery failed", "task_id", result.TaskID, "channel", channel, "error", err.Error())
		return false
	}

	return true
}

func (r *Router) deliverLog(result *domain.TaskResult) {
	preview := truncate(result.Output, logPreviewLimit)
	if !result.Success {
		preview = truncate(result.Error, logPreviewLimit)
	}

	slog.Info("Task result",
		"task_id", result.TaskID,
		"agent_name", result.AgentName,
		"success", result.Success,
		"execution_time_ms", result.ExecutionTimeMs,
		"preview", preview,
	)
}

func (r *Router) deliverWebhook(ctx context.Context, cfg *domain.DeliveryConfig, result *domain.TaskResult) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("webhook delivery is missing webhook_url")
	}

	envelope := webhookEnvelope{
		TaskID:          result.TaskID,
		AgentName:       result.AgentName,
		Success:         result.Success,
		Output:          result.Output,
		Error:           result.Error,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Metadata:        result.Metadata,
	}

	return r.postJSON(ctx, cfg.WebhookURL, envelope, result.TaskID)
}

func (r *Router) deliverTelegram(ctx context.Context, cfg *domain.DeliveryConfig, result *domain.TaskResult) error {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return fmt.Errorf("telegram delivery is missing bot_token or chat_id")
	}

	text := result.Output
	if !result.Success {
		text = fmt.Sprintf("Task %s failed: %s", result.TaskID, result.Error)
	}

	body := map[string]string{
		"chat_id": cfg.ChatID,
		"text":    truncate(text, telegramMessageLimit),
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", url.PathEscape(cfg.BotToken))

	return r.postJSON(ctx, endpoint, body, result.TaskID)
}

func (r *Router) deliverTeams(ctx context.Context, cfg *domain.DeliveryConfig, result *domain.TaskResult) error {
	if cfg.IncomingWebhookURL == "" {
		return fmt.Errorf("teams delivery is missing incoming_webhook_url")
	}

	text := result.Output
	themeColor := "2DC72D"
	if !result.Success {
		text = result.Error
		themeColor = "C72D2D"
	}

	card := map[string]string{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    fmt.Sprintf("Agent %s result", result.AgentName),
		"themeColor": themeColor,
		"title":      fmt.Sprintf("Task %s", result.TaskID),
		"text":       text,
	}

	return r.postJSON(ctx, cfg.IncomingWebhookURL, card, result.TaskID)
}

func (r *Router) deliverEmail(ctx context.Context, cfg *domain.DeliveryConfig, result *domain.TaskResult) error {
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("email delivery has no recipients")
	}

	if r.emailSender == nil {
		slog.Warn("Email sender is not configured, skipping email delivery", "task_id", result.TaskID)
		return nil
	}

	subject := cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("Agent task %s result", result.TaskID)
	}

	body := result.Output
	if !result.Success {
		body = fmt.Sprintf("Task failed: %s", result.Error)
	}

	return r.emailSender.Send(ctx, cfg.Recipients, subject, body)
}

func (r *Router) postJSON(ctx context.Context, endpoint string, payload any, taskID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Error while closing delivery response body", "error", err.Error())
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Delivery target returned a non-2xx status", "task_id", taskID, "status", resp.StatusCode)
	}

	return nil
}

// Close releases the shared HTTP client. Safe to call multiple times; a later
// delivery recreates the client.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.httpClient != nil {
		r.httpClient.CloseIdleConnections()
		r.httpClient = nil
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
