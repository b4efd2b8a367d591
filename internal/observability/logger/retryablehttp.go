package logger

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// retryableHTTPLogger adapts zap to go-retryablehttp's leveled logger.
type retryableHTTPLogger struct {
	log *zap.SugaredLogger
}

// RetryableHTTPLogger returns a retryablehttp.LeveledLogger backed by log.
func RetryableHTTPLogger(log *zap.Logger) retryablehttp.LeveledLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &retryableHTTPLogger{log: log.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (r *retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	r.log.Errorw(msg, keysAndValues...)
}

func (r *retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	r.log.Infow(msg, keysAndValues...)
}

// Debug covers the per-request chatter retryablehttp emits.
func (r *retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.log.Debugw(msg, keysAndValues...)
}

func (r *retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.log.Warnw(msg, keysAndValues...)
}
