package logutils

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mediadash/edge/config"
)

var (
	errLoggerFailedToBuild = errors.New("failed to build the logger")
	errLoggerInvalidLevel  = errors.New("invalid log-level")
	errLoggerInvalidMode   = errors.New("invalid log-mode")
)

// modes maps the log-mode flag onto the zap preset it starts from.
var modes = map[string]func() zap.Config{
	"dev":  devConfig,
	"prod": prodConfig,
}

// dev mode is for a terminal: coloured console lines without callers.
func devConfig() zap.Config {
	c := zap.NewDevelopmentConfig()
	c.EncoderConfig.EncodeCaller = nil
	c.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return c
}

// prod mode is for the log shipper: one json object per line, unsampled and
// without stack traces.
func prodConfig() zap.Config {
	c := zap.NewProductionConfig()
	c.Sampling = nil
	c.DisableStacktrace = true
	return c
}

// NewLogger builds the process-wide logger.  Both modes write to stderr with
// iso8601 timestamps and human-readable durations.
func NewLogger(cfg *config.Log) (*zap.Logger, error) {
	preset, ok := modes[strings.ToLower(cfg.Mode)]
	if !ok {
		return nil, fmt.Errorf("%w: %s",
			errLoggerInvalidMode, cfg.Mode,
		)
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w",
			errLoggerInvalidLevel, cfg.Level, err,
		)
	}

	lconfig := preset()
	lconfig.Level = level
	lconfig.OutputPaths = []string{"stderr"}
	lconfig.ErrorOutputPaths = []string{"stderr"}
	lconfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lconfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	l, err := lconfig.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w",
			errLoggerFailedToBuild, err,
		)
	}

	return l, nil
}
