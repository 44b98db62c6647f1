package logger

import (
	"context"
	"time"
)

// LogIngest logs the outcome of one ingested item
func LogIngest(l Logger, target, shortcode, outcome string, err error) {
	entry := l.WithFields(map[string]interface{}{
		"target":    target,
		"shortcode": shortcode,
		"outcome":   outcome,
	})

	switch {
	case err != nil:
		entry.WithError(err).Warn("Item skipped after error")
	case outcome == "inserted":
		entry.Info("Item saved")
	default:
		entry.Debug("Item skipped")
	}
}

// LogDeactivation logs an identity being taken out of rotation
func LogDeactivation(l Logger, handle, reason string) {
	l.WithFields(map[string]interface{}{
		"identity": handle,
		"reason":   reason,
		"action":   "deactivated",
	}).Error("Identity deactivated")
}

// LogPause logs a run-level pause such as a throttle cooldown
func LogPause(l Logger, stage string, d time.Duration) {
	l.WithFields(map[string]interface{}{
		"stage":    stage,
		"duration": d,
		"action":   "pause",
	}).Warn("Pausing run")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
