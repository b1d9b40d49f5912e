// Package logging builds the process-wide structured logger,
// following the teacher's services/marketfeeds/common/logger
// pattern: a zap core bridged into *slog.Logger via zap/exp/zapslog
// so the rest of the codebase depends only on the standard log/slog
// interface while still getting zap's encoding and sinks.
package logging

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// NewZap builds the raw *zap.Logger. jsonOutput selects the JSON
// encoder (production) over the console encoder (local dev), matching
// pkg/logger.NewLogger's boolean switch in the teacher. Exposed
// alongside New so callers that need a *zap.Logger directly (e.g. the
// control server's ginzap middleware, per
// _examples/Aidin1998-finalex/api/server.go) share the same
// configuration instead of building a second, divergent logger.
func NewZap(jsonOutput bool, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if !jsonOutput {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op zap core rather than panicking the
		// process over a logging misconfiguration.
		zl = zap.NewNop()
	}
	return zl
}

// New builds a *slog.Logger backed by zap, bridged via zap/exp/zapslog
// so the rest of the codebase depends only on the standard log/slog
// interface while still getting zap's encoding and sinks.
func New(jsonOutput bool, level zapcore.Level) *slog.Logger {
	return FromZap(NewZap(jsonOutput, level))
}

// FromZap wraps an existing *zap.Logger as a *slog.Logger.
func FromZap(zl *zap.Logger) *slog.Logger {
	return slog.New(zapslog.NewHandler(zl.Core()))
}
