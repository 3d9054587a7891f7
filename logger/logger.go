// Package logger defines the structured logging surface used across the
// module. Components take the interface; callers pick the implementation.
package logger

// Logger is a leveled structured logger. Fields carry per-call context
// such as resource, network and amounts.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards everything. It is the default wherever a Logger is
// optional.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
