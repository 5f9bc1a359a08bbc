package domain

import "time"

// Sender identifies who authored a transcript line.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// DisplayMessage is one transcript line appended by the display sink.
type DisplayMessage struct {
	SessionID string     `json:"sessionId"`
	Sender    Sender     `json:"sender"`
	Content   string     `json:"content"`
	Kind      ResultKind `json:"kind,omitempty"`
	Seq       uint64     `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
}
