package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a session audit event
type AuditEvent struct {
	EventType     string
	AccountName   string
	AttemptID     string
	Mode          string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSignIn logs sign-in attempts against the remote service
func (al *AuditLogger) LogSignIn(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountName != "" {
		attrs = append(attrs, slog.String("account", event.AccountName))
	}
	if event.AttemptID != "" {
		attrs = append(attrs, slog.String("attempt_id", event.AttemptID))
	}
	if event.Mode != "" {
		attrs = append(attrs, slog.String("mode", event.Mode))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogTermination logs a session ending in a state the process cannot recover from
func (al *AuditLogger) LogTermination(accountName, reason string) {
	al.logger.LogAttrs(context.Background(), slog.LevelError, "audit",
		slog.String("audit_type", "session"),
		slog.String("event_type", "terminated"),
		slog.String("account", accountName),
		slog.String("reason", reason),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogAdminAction logs actions taken through the admin endpoints
func (al *AuditLogger) LogAdminAction(eventType, operator, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admin"),
		slog.String("event_type", eventType),
		slog.String("operator", operator),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
