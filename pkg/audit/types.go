package audit

import "time"

// EventType identifies what happened
type EventType string

const (
	// Authentication events
	EventTypeSignUp      EventType = "auth.sign_up"
	EventTypeLogin       EventType = "auth.login"
	EventTypeLoginFailed EventType = "auth.login_failed"
	EventTypeLogout      EventType = "auth.logout"

	// Organization events
	EventTypeOrganizationCreate      EventType = "organization.create"
	EventTypeOrganizationUpdate      EventType = "organization.update"
	EventTypeOrganizationDelete      EventType = "organization.delete"
	EventTypeOrganizationLogo        EventType = "organization.logo_update"
	EventTypeOwnershipTransfer       EventType = "organization.transfer"
	EventTypeActiveOrganizationSet   EventType = "organization.active_set"
	EventTypeActiveOrganizationClear EventType = "organization.active_clear"

	// Membership events
	EventTypeMemberRoleChange EventType = "member.role_change"
	EventTypeMemberRemove     EventType = "member.remove"
	EventTypeMemberLeave      EventType = "member.leave"

	// Invitation events
	EventTypeInvitationCreate  EventType = "invitation.create"
	EventTypeInvitationAccept  EventType = "invitation.accept"
	EventTypeInvitationDecline EventType = "invitation.decline"
	EventTypeInvitationCancel  EventType = "invitation.cancel"

	// Authorization events
	EventTypeAccessDenied      EventType = "authz.access_denied"
	EventTypeLastOwnerRejected EventType = "authz.last_owner_rejected"
)

// EventStatus is the outcome of the audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType names the kind of record an event is about
type ResourceType string

const (
	ResourceTypeUser         ResourceType = "user"
	ResourceTypeSession      ResourceType = "session"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeMember       ResourceType = "member"
	ResourceTypeInvitation   ResourceType = "invitation"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	// Target
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Before/after values for updates
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

