package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

type mockLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (m *mockLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockLogger) Close() error {
	m.closed = true
	return nil
}

func (m *mockLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	r := httptest.NewRequest("POST", "/api/orgs", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("User-Agent", "test-agent")

	event := NewEvent(ctx, r, EventTypeOrganizationCreate, EventStatusSuccess)

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "10.0.0.1", event.IPAddress)
	assert.Equal(t, "test-agent", event.UserAgent)
	assert.Equal(t, "POST", event.Method)
	assert.Equal(t, "/api/orgs", event.Path)
	assert.NotNil(t, event.Metadata)
}

func TestNewEvent_WithoutRequest(t *testing.T) {
	event := NewEvent(context.Background(), nil, EventTypeLogout, EventStatusSuccess)
	assert.Empty(t, event.UserID)
	assert.Empty(t, event.Path)
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	l := &mockLogger{}

	require.NoError(t, Success(ctx, l, nil, EventTypeMemberRemove, ResourceTypeMember, "m1", "org-1"))
	require.NoError(t, Failure(ctx, l, nil, EventTypeLoginFailed, "invalid credentials", errors.New("bad password")))
	require.NoError(t, Denied(ctx, l, nil, "org-1", ResourceTypeInvitation, "invitation:create"))

	require.Len(t, l.events, 3)

	assert.Equal(t, EventStatusSuccess, l.events[0].Status)
	assert.Equal(t, "m1", l.events[0].ResourceID)
	assert.Equal(t, "org-1", l.events[0].OrganizationID)

	assert.Equal(t, EventStatusFailure, l.events[1].Status)
	assert.Equal(t, "bad password", l.events[1].ErrorMessage)

	assert.Equal(t, EventTypeAccessDenied, l.events[2].EventType)
	assert.Equal(t, EventStatusDenied, l.events[2].Status)
	assert.Equal(t, "Access denied: invitation:create", l.events[2].Message)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "10.0.0.9:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.9:80", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "192.0.2.1", RemoteIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", RemoteIP(r))
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(observability.NewLogger(observability.InfoLevel, &buf))

	event := NewEvent(context.Background(), nil, EventTypeAccessDenied, EventStatusDenied)
	event.OrganizationID = "org-1"
	event.Message = "Access denied: member:delete"
	require.NoError(t, l.Log(context.Background(), event))
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Access denied: member:delete", entry["msg"])
	assert.Equal(t, true, entry["audit"])
	assert.Equal(t, "authz.access_denied", entry["event_type"])
	assert.Equal(t, "org-1", entry["organization_id"])
	assert.NotContains(t, entry, "resource_id")
}

func TestMultiLogger_Sync(t *testing.T) {
	ok := &mockLogger{}
	failing := &mockLogger{err: errors.New("disk full")}
	m := NewMultiLogger(failing, ok)

	err := m.Log(context.Background(), NewEvent(context.Background(), nil, EventTypeLogin, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, ok.count(), "a failing sink must not stop the others")
}

func TestMultiLogger_Async(t *testing.T) {
	l1 := &mockLogger{}
	l2 := &mockLogger{err: errors.New("unavailable")}
	m := NewMultiLogger(l1, l2)
	m.SetAsync(true)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Log(ctx, NewEvent(ctx, nil, EventTypeLogin, EventStatusSuccess)))
	cancel()
	m.Wait()

	assert.Equal(t, 1, l1.count())
	err := m.Errors()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.NoError(t, m.Errors(), "errors are cleared once read")
}

func TestMultiLogger_Close(t *testing.T) {
	l1 := &mockLogger{}
	l2 := &mockLogger{}
	m := NewMultiLogger(l1, l2)

	require.NoError(t, m.Close())
	assert.True(t, l1.closed)
	assert.True(t, l2.closed)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	assert.NoError(t, l.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, l.Close())
}
