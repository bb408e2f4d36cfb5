package log

import (
	"go.uber.org/zap"

	"github.com/orchestrator/workflow-core/common/log/tag"
)

type zapLogger struct {
	zap *zap.Logger
}

// NewZapLogger wraps a pre-configured zap.Logger in the Logger contract.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{zap: z}
}

// NewDefault returns a production-mode zap logger suitable for cmd/server's
// default configuration; callers that need development formatting build
// their own zap.Logger and pass it to NewZapLogger.
func NewDefault() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return NewZapLogger(z)
}

func (l *zapLogger) Debug(msg string, tags ...tag.Tag) { l.zap.Debug(msg, tags...) }
func (l *zapLogger) Info(msg string, tags ...tag.Tag)  { l.zap.Info(msg, tags...) }
func (l *zapLogger) Warn(msg string, tags ...tag.Tag)  { l.zap.Warn(msg, tags...) }
func (l *zapLogger) Error(msg string, tags ...tag.Tag) { l.zap.Error(msg, tags...) }

func (l *zapLogger) With(tags ...tag.Tag) Logger {
	return &zapLogger{zap: l.zap.With(tags...)}
}
