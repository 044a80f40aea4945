package tasmota

// Logger is the logging capability used by the bridge and its devices.
// *logging.Logger from internal/infrastructure/logging satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// orNoop returns l, or a no-op logger when l is nil.
func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
