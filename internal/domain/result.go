package domain

// ResultKind discriminates the outcome of a conversation operation.
type ResultKind string

const (
	ResultOK              ResultKind = "ok"
	ResultSkipped         ResultKind = "skipped"
	ResultUnconfigured    ResultKind = "unconfigured"
	ResultNoSession       ResultKind = "no_session"
	ResultTransportFailed ResultKind = "transport_failed"
	ResultDemo            ResultKind = "demo"
)

// Result is what a conversation operation hands back to the display layer.
// Text is the message to show (bot reply or fallback) and may be empty.
// Seq orders results by the time their request was issued, not by the time
// they resolved.
type Result struct {
	Kind      ResultKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Seq       uint64     `json:"seq"`

	// Cause is the underlying failure for TransportFailed results. It is kept
	// for diagnostics only and is never serialized to the widget.
	Cause error `json:"-"`
}

// Displayable reports whether the result carries text meant for the visitor.
func (r Result) Displayable() bool {
	return r.Kind != ResultSkipped && r.Text != ""
}
