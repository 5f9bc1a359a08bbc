package domain

import (
	"context"
	"time"
)

// TranscriptStore persists conversations, their transcript and visitor
// preferences.
type TranscriptStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, visitorID string, limit int) ([]Conversation, error)

	AppendMessage(ctx context.Context, msg DisplayMessage) error
	GetMessages(ctx context.Context, convID string, limit int) ([]MessageRecord, error)

	SavePreferences(ctx context.Context, prefs Preferences) error
	LoadPreferences(ctx context.Context, visitorID, storageKey string) (*Preferences, error)

	Close() error
}

type Conversation struct {
	ID        string    `json:"id"`
	VisitorID string    `json:"visitor_id"`
	Route     string    `json:"route"`
	Status    string    `json:"status"` // ok | transport_failed | demo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRecord struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         Sender     `json:"sender"`
	Content        string     `json:"content"`
	Kind           ResultKind `json:"kind,omitempty"`
	Seq            uint64     `json:"seq"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Preferences holds the visitor-adjustable parts of the widget config.
// Only branding and style are ever stored; the webhook is never persisted.
type Preferences struct {
	VisitorID  string         `json:"visitor_id"`
	StorageKey string         `json:"storage_key"`
	Branding   map[string]any `json:"branding,omitempty"`
	Style      map[string]any `json:"style,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Layer returns the preferences as a config layer for merging.
func (p Preferences) Layer() map[string]any {
	layer := map[string]any{}
	if len(p.Branding) > 0 {
		layer["branding"] = p.Branding
	}
	if len(p.Style) > 0 {
		layer["style"] = p.Style
	}
	return layer
}
