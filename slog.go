package polaris

import (
	"context"
	"log/slog"
	"sort"
)

// LevelTrace is one step below slog.LevelDebug, which slog does not define on its own.
const LevelTrace = slog.LevelDebug - 4

func slogAttrsFromFields(fields LogFields) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]any, 0, len(fields)*2)
	for _, key := range keys {
		result = append(result, key, fields[key])
	}

	return result
}

// SlogLoggerAdapter wraps [slog.Logger].
type SlogLoggerAdapter struct {
	slog *slog.Logger

	levelMapping map[slog.Level]slog.Level
}

// Error logs a message to [slog.LevelError].
func (s *SlogLoggerAdapter) Error(msg string, err error, fields LogFields) {
	s.log(slog.LevelError, msg, append(slogAttrsFromFields(fields), "error", err)...)
}

// Info logs a message to [slog.LevelInfo].
func (s *SlogLoggerAdapter) Info(msg string, fields LogFields) {
	s.log(slog.LevelInfo, msg, slogAttrsFromFields(fields)...)
}

// Debug logs a message to [slog.LevelDebug].
func (s *SlogLoggerAdapter) Debug(msg string, fields LogFields) {
	s.log(slog.LevelDebug, msg, slogAttrsFromFields(fields)...)
}

// Trace logs a message to [LevelTrace].
func (s *SlogLoggerAdapter) Trace(msg string, fields LogFields) {
	s.log(LevelTrace, msg, slogAttrsFromFields(fields)...)
}

func (s *SlogLoggerAdapter) log(level slog.Level, msg string, args ...any) {
	if mapped, ok := s.levelMapping[level]; ok {
		level = mapped
	}

	// slog ignores the deadline of the passed context, only values are used
	s.slog.Log(context.Background(), level, msg, args...)
}

// With returns a [SlogLoggerAdapter] that adds fields to every following log line.
func (s *SlogLoggerAdapter) With(fields LogFields) LoggerAdapter {
	return &SlogLoggerAdapter{
		slog:         s.slog.With(slogAttrsFromFields(fields)...),
		levelMapping: s.levelMapping,
	}
}

// NewSlogLogger creates an adapter to [slog.Logger]. A nil logger is replaced with [slog.Default].
func NewSlogLogger(logger *slog.Logger) LoggerAdapter {
	return NewSlogLoggerWithLevelMapping(logger, nil)
}

// NewSlogLoggerWithLevelMapping creates an adapter to [slog.Logger] which logs
// on a different slog level than the adapter method would, according to levelMapping.
// Useful for demoting the chatty Info logs of the bridge to Debug.
func NewSlogLoggerWithLevelMapping(logger *slog.Logger, levelMapping map[slog.Level]slog.Level) LoggerAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogLoggerAdapter{
		slog:         logger,
		levelMapping: levelMapping,
	}
}
