package domain

import "context"

// Channel is a user-facing front end for conversations (web gateway, terminal).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
