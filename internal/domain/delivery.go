package domain

type DeliveryChannel string

const (
	ChannelLog      DeliveryChannel = "log"
	ChannelWebhook  DeliveryChannel = "webhook"
	ChannelTelegram DeliveryChannel = "telegram"
	ChannelTeams    DeliveryChannel = "teams"
	ChannelEmail    DeliveryChannel = "email"
	ChannelStream   DeliveryChannel = "stream"
)

// DeliveryConfig selects exactly one delivery channel for a task's result,
// plus the fields relevant to that channel. Required fields are validated by
// the channel handler itself; a missing field fails the delivery, never the
// task.
type DeliveryConfig struct {
	Channel DeliveryChannel `json:"channel" binding:"omitempty,validate_channel"`

	// webhook
	WebhookURL string `json:"webhook_url,omitempty"`

	// telegram
	BotToken string `json:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`

	// teams incoming webhook
	IncomingWebhookURL string `json:"incoming_webhook_url,omitempty"`

	// email
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
}

func IsValidChannel(c DeliveryChannel) bool {
	switch c {
	case ChannelLog, ChannelWebhook, ChannelTelegram, ChannelTeams, ChannelEmail, ChannelStream:
		return true
	default:
		return false
	}
}
