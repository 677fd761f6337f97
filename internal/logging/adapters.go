package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below debug; pion is chatty at trace.
const LevelTrace = slog.LevelDebug - 4

// PionFactory routes pion's leveled loggers into slog.
type PionFactory struct {
	Logger *slog.Logger
}

// NewPionFactory returns a factory writing to l (or the default logger).
func NewPionFactory(l *slog.Logger) *PionFactory {
	return &PionFactory{Logger: OrDefault(l)}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.Logger.With("pion", scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (l *pionLogger) emit(level slog.Level, msg string) {
	l.log.Log(context.Background(), level, msg)
}

func (l *pionLogger) Trace(msg string) { l.emit(LevelTrace, msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.emit(LevelTrace, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { l.emit(slog.LevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { l.emit(slog.LevelInfo, msg) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.emit(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { l.emit(slog.LevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { l.emit(slog.LevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, fmt.Sprintf(format, args...))
}

// BadgerLogger satisfies badger.Logger.
type BadgerLogger struct {
	Logger *slog.Logger
}

func (b BadgerLogger) logf(level slog.Level, format string, args ...interface{}) {
	OrDefault(b.Logger).Log(context.Background(), level, fmt.Sprintf(format, args...), "ns", "badger")
}

func (b BadgerLogger) Errorf(format string, args ...interface{}) {
	b.logf(slog.LevelError, format, args...)
}
func (b BadgerLogger) Warningf(format string, args ...interface{}) {
	b.logf(slog.LevelWarn, format, args...)
}
func (b BadgerLogger) Infof(format string, args ...interface{}) {
	b.logf(slog.LevelInfo, format, args...)
}
func (b BadgerLogger) Debugf(format string, args ...interface{}) {
	b.logf(slog.LevelDebug, format, args...)
}
