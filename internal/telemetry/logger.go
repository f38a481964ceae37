package telemetry

import (
	"io"
	"log/slog"
	"strings"

	"carepath/internal/types"
)

// NewLogger builds the JSON logger every binary writes to stdout. Unknown
// levels fall back to info.
func NewLogger(w io.Writer, level, service string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).With("service", service)
}

// SlogAdapter lets a *slog.Logger satisfy types.Logger, whose With must
// return the interface type.
type SlogAdapter struct {
	logger *slog.Logger
}

func NewSlogAdapter(l *slog.Logger) *SlogAdapter { return &SlogAdapter{logger: l} }

func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) With(args ...any) types.Logger {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

// Slog returns the wrapped logger.
func (a *SlogAdapter) Slog() *slog.Logger { return a.logger }
