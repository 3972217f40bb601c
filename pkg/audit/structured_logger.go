package audit

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// StructuredLogger writes events through the service's structured logger, one log line
// per event, tagged audit=true so they can be routed separately.
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates an audit sink backed by logger.
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("audit", true)}
}

// Log emits the event at Info, or Warn for denials and failures.
func (l *StructuredLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"timestamp":  event.Timestamp,
	}
	optional := map[string]string{
		"user_id":         event.UserID,
		"session_id":      event.SessionID,
		"organization_id": event.OrganizationID,
		"resource_type":   string(event.ResourceType),
		"resource_id":     event.ResourceID,
		"ip_address":      event.IPAddress,
		"request_id":      event.RequestID,
		"path":            event.Path,
		"error":           event.ErrorMessage,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op; the underlying logger is owned by the caller.
func (l *StructuredLogger) Close() error {
	return nil
}
