package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log records an audit event. Implementations must not modify the event.
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes buffered events and releases the sink.
	Close() error
}

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *AuditEvent) error { return nil }
func (NopLogger) Close() error { return nil }

// NewEvent creates an event stamped with an ID, the current time and whatever request
// context is available: request ID and user ID from ctx, and client details from r.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.IPAddress = ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}

	return event
}

// Success records a successful operation on a resource.
func Success(ctx context.Context, l Logger, r *http.Request, eventType EventType, resourceType ResourceType, resourceID, orgID string) error {
	event := NewEvent(ctx, r, eventType, EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.OrganizationID = orgID
	return l.Log(ctx, event)
}

// Failure records an operation that failed with err.
func Failure(ctx context.Context, l Logger, r *http.Request, eventType EventType, message string, err error) error {
	event := NewEvent(ctx, r, eventType, EventStatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return l.Log(ctx, event)
}

// Denied records an authorization denial.
func Denied(ctx context.Context, l Logger, r *http.Request, orgID string, resourceType ResourceType, reason string) error {
	event := NewEvent(ctx, r, EventTypeAccessDenied, EventStatusDenied)
	event.OrganizationID = orgID
	event.ResourceType = resourceType
	event.Message = "Access denied: " + reason
	return l.Log(ctx, event)
}

// ClientIP extracts the client address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return RemoteIP(r)
}

// RemoteIP returns the host of the connection's peer address. Unlike ClientIP it ignores
// forwarding headers, which the client controls.
func RemoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
