package logutils

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type fasthttpLogger struct {
	logger *zap.SugaredLogger
}

// FasthttpLogger routes fasthttp's internal messages (mostly connection-level
// errors that never reach a handler) into zap at warn level.
func FasthttpLogger(logger *zap.Logger) fasthttp.Logger {
	return &fasthttpLogger{
		logger: logger.With(zap.String("component", "fasthttp")).Sugar(),
	}
}

func (l *fasthttpLogger) Printf(format string, args ...any) {
	l.logger.Warnf(format, args...)
}
