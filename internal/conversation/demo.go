package conversation

import (
	"context"
	"fmt"
	"time"

	"popoutchat/internal/domain"
)

// Demo mode timing and texts.
const (
	DemoStartDelay = 1 * time.Second
	DemoReplyDelay = 1500 * time.Millisecond

	DemoWelcome = "Hello! I'm your Toratech AI Assistant. How can I help you today? Feel free to ask me any questions."
)

// DemoReply is the canned answer echoed back for text.
func DemoReply(text string) string {
	return fmt.Sprintf(`You said: "%s". This is a demo response from Toratech AI.`, text)
}

func (c *Client) demoStart(ctx context.Context, seq uint64) domain.Result {
	sessionID := NewSessionID(c.now())
	c.setSession(sessionID)
	c.diag.Log("Demo mode: starting local session "+sessionID, domain.LevelInfo)

	if err := c.sleep(ctx, DemoStartDelay); err != nil {
		return domain.Result{Kind: domain.ResultSkipped, SessionID: sessionID, Seq: seq, Cause: err}
	}
	return domain.Result{Kind: domain.ResultDemo, Text: DemoWelcome, SessionID: sessionID, Seq: seq}
}

func (c *Client) demoReply(ctx context.Context, seq uint64, sessionID, text string) domain.Result {
	c.diag.Log("Demo mode: webhook not configured, answering locally", domain.LevelDebug)

	if err := c.sleep(ctx, DemoReplyDelay); err != nil {
		return domain.Result{Kind: domain.ResultSkipped, SessionID: sessionID, Seq: seq, Cause: err}
	}
	return domain.Result{Kind: domain.ResultDemo, Text: DemoReply(text), SessionID: sessionID, Seq: seq}
}
