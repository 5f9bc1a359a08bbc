package domain

// LogLevel is the severity passed to a DiagnosticSink.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DiagnosticSink receives developer-facing messages. Implementations must
// never fail the caller.
type DiagnosticSink interface {
	Log(message string, level LogLevel)
}

// NopDiagnostics discards everything.
type NopDiagnostics struct{}

func (NopDiagnostics) Log(string, LogLevel) {}
