package domain

// WebhookConfig locates the remote conversation endpoint for one widget mount.
type WebhookConfig struct {
	URL   string `json:"url" yaml:"url" env:"POPOUT_WEBHOOK_URL"`
	Route string `json:"route" yaml:"route" env:"POPOUT_WEBHOOK_ROUTE"`
}

// Configured reports whether a webhook URL is present.
func (c WebhookConfig) Configured() bool { return c.URL != "" }

// DefaultRoute is used when neither the caller nor the config names a route.
const DefaultRoute = "general"

// Webhook actions.
const (
	ActionLoadPreviousSession = "loadPreviousSession"
	ActionSendMessage         = "sendMessage"
)

// RequestMetadata is attached to every outbound request. UserID is always
// sent, and is empty for anonymous visitors.
type RequestMetadata struct {
	UserID string `json:"userId"`
}

// OutboundRequest is the JSON object posted to the webhook.
// ChatInput is only present on sendMessage.
type OutboundRequest struct {
	Action    string          `json:"action"`
	SessionID string          `json:"sessionId"`
	Route     string          `json:"route"`
	ChatInput *string         `json:"chatInput,omitempty"`
	Metadata  RequestMetadata `json:"metadata"`
}
