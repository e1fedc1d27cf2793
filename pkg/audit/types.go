package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authorization decisions and role lifecycle
	EventTypeAuthzPermissionCheck     EventType = "authz.permission_check"
	EventTypeAuthzPermissionGrant     EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke    EventType = "authz.permission_revoke"
	EventTypeAuthzRoleChange          EventType = "authz.role_change"
	EventTypeAuthzCompensationFailure EventType = "authz.compensation_failure"
	EventTypeAuthzExpirySweep         EventType = "authz.expiry_sweep"
	EventTypeAuthzHierarchyOverride   EventType = "authz.hierarchy_override"
	EventTypeAuthzMasterBootstrap     EventType = "authz.master_bootstrap"

	// HTTP access recorded by the middleware
	EventTypeAccessRequest EventType = "access.request"
)

// EventStatus represents the outcome of an audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType names what an event acted on. Authorization checks use the
// permission resource being checked (attendance, payroll, ...).
type ResourceType string

const (
	ResourceTypeRoleAssignment ResourceType = "role_assignment"
	ResourceTypeDocument       ResourceType = "document"
	ResourceTypeOrganization   ResourceType = "organization"
	ResourceTypeHierarchy      ResourceType = "role_hierarchy"
	ResourceTypeHTTPRequest    ResourceType = "http_request"
)

// AuditEvent is one audit record.
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID performed the action; SubjectID is the identity it concerns.
	ActorID        string `json:"actor_id,omitempty"`
	SubjectID      string `json:"subject_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails captures before/after state of a role change
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// SearchFilter narrows a Searcher. Zero fields do not filter.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID        string
	SubjectID      string
	OrganizationID string

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int

	// Ascending sorts oldest first; the default is newest first.
	Ascending bool
}

// Matches reports whether event passes every non-zero field of f. Paging
// and ordering are left to the caller.
func (f SearchFilter) Matches(event *AuditEvent) bool {
	switch {
	case f.StartTime != nil && event.Timestamp.Before(*f.StartTime):
		return false
	case f.EndTime != nil && !event.Timestamp.Before(*f.EndTime):
		return false
	case f.ActorID != "" && event.ActorID != f.ActorID:
		return false
	case f.SubjectID != "" && event.SubjectID != f.SubjectID:
		return false
	case f.OrganizationID != "" && event.OrganizationID != f.OrganizationID:
		return false
	case f.Status != nil && event.Status != *f.Status:
		return false
	case f.ResourceType != "" && event.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && event.ResourceID != f.ResourceID:
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, et := range f.EventTypes {
		if event.EventType == et {
			return true
		}
	}
	return false
}
