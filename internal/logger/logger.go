// Package logger wraps zap with Harrier-specific fields and helpers.
package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with correlation-engine helpers.
type Logger struct {
	*zap.Logger
	serviceName string
}

// ContextKey for request context values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TraceIDKey   ContextKey = "trace_id"
	SubjectIDKey ContextKey = "subject_id"
)

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "nop"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithContext returns a logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if subjectID, ok := ctx.Value(SubjectIDKey).(string); ok && subjectID != "" {
		fields = append(fields, zap.String("subject_id", subjectID))
	}

	return &Logger{
		Logger:      l.With(fields...),
		serviceName: l.serviceName,
	}
}

// WithSubject returns a logger scoped to one subject.
func (l *Logger) WithSubject(subjectID string) *Logger {
	return &Logger{
		Logger:      l.With(zap.String("subject_id", subjectID)),
		serviceName: l.serviceName,
	}
}

// ScreeningCompleted logs the completion of a screening call
func (l *Logger) ScreeningCompleted(subjectID string, candidates, matches, skipped int, duration time.Duration) {
	l.Info("screening completed",
		zap.String("subject_id", subjectID),
		zap.Int("candidates", candidates),
		zap.Int("matches", matches),
		zap.Int("skipped_entries", skipped),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
}

// CorrelationPassCompleted logs a finished correlation pass
func (l *Logger) CorrelationPassCompleted(cyberEvents, fraudEvents int, byKind map[string]int, duration time.Duration) {
	l.Info("correlation pass completed",
		zap.Int("cyber_events", cyberEvents),
		zap.Int("fraud_events", fraudEvents),
		zap.Any("correlations", byKind),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
}

// ProfileUpdated logs a risk profile upsert
func (l *Logger) ProfileUpdated(subjectID string, composite float64, level string) {
	l.Info("risk profile updated",
		zap.String("subject_id", subjectID),
		zap.Float64("composite_score", composite),
		zap.String("risk_level", level),
	)
}

// RecordRejected logs a record skipped by validation or parsing
func (l *Logger) RecordRejected(kind string, err error) {
	l.Warn("record rejected",
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// AlertFired logs an alert rule that fired for a subject
func (l *Logger) AlertFired(ruleID, subjectID string, composite float64) {
	l.Warn("alert rule fired",
		zap.String("rule_id", ruleID),
		zap.String("subject_id", subjectID),
		zap.Float64("composite_score", composite),
	)
}

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// DurationField creates a duration field
func DurationField(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
