package engine

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logging into the global zerolog logger.
type loggerFactory struct {
	level zerolog.Level
}

// NewLoggerFactory returns a pion LoggerFactory logging at level (a zerolog level name).
// Unknown or empty names fall back to warn.
func NewLoggerFactory(level string) logging.LoggerFactory {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return &loggerFactory{level: lvl}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{
		z: log.With().Str("module", "engine.pion").Str("scope", scope).Logger().Level(f.level),
	}
}

type leveledLogger struct {
	z zerolog.Logger
}

func (l *leveledLogger) Trace(msg string) { l.z.Trace().Msg(msg) }
func (l *leveledLogger) Tracef(format string, args ...any) {
	l.z.Trace().Msgf(format, args...)
}
func (l *leveledLogger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l *leveledLogger) Debugf(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}
func (l *leveledLogger) Info(msg string) { l.z.Info().Msg(msg) }
func (l *leveledLogger) Infof(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}
func (l *leveledLogger) Warn(msg string) { l.z.Warn().Msg(msg) }
func (l *leveledLogger) Warnf(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
}
func (l *leveledLogger) Error(msg string) { l.z.Error().Msg(msg) }
func (l *leveledLogger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}
