package logger

import "log/slog"

// RetryLogger adapts slog to retryablehttp.LeveledLogger. Info and debug
// messages from the retry loop are emitted at debug level.
type RetryLogger struct {
	Logger *slog.Logger
}

func (l RetryLogger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l RetryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger().Error(msg, keysAndValues...)
}

func (l RetryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger().Warn(msg, keysAndValues...)
}

func (l RetryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger().Debug(msg, keysAndValues...)
}

func (l RetryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger().Debug(msg, keysAndValues...)
}
