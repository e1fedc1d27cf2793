package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Schema creates the audit_logs table on PostgreSQL.
const Schema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id TEXT,
		subject_id TEXT,
		organization_id TEXT,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_subject_id ON audit_logs(subject_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
`

const auditColumns = `timestamp, event_type, status,
	actor_id, subject_id, organization_id,
	resource_type, resource_id,
	ip_address, user_agent, request_id,
	method, path, status_code,
	message, error_message, metadata, changes`

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates the audit_logs table if needed and returns a logger over db.
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event and sets its ID.
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := jsonArg(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := jsonArg(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorID, event.SubjectID, event.OrganizationID,
		string(event.ResourceType), event.ResourceID,
		event.IPAddress, event.UserAgent, event.RequestID,
		event.Method, event.Path, event.StatusCode,
		event.Message, event.ErrorMessage, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (l *DBLogger) LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, actorID, subjectID, organizationID, resourceType, status, message))
}

func (l *DBLogger) LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, roleChangeEvent(ctx, actorID, subjectID, organizationID, changes, message))
}

func (l *DBLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return l.Log(ctx, httpRequestEvent(ctx, r, statusCode, duration, err))
}

// Search returns events matching filter, newest first unless filter.Ascending.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp < $%d", *filter.EndTime)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}

	query := `SELECT id, ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (l *DBLogger) Close() error {
	return nil
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	event := &AuditEvent{Metadata: make(map[string]interface{})}
	var (
		eventType, status                                string
		actorID, subjectID, orgID                        sql.NullString
		resourceType, resourceID                         sql.NullString
		ipAddress, userAgent, requestID, method, path    sql.NullString
		message, errorMessage, metadataJSON, changesJSON sql.NullString
		statusCode                                       sql.NullInt64
	)
	err := rows.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&actorID, &subjectID, &orgID,
		&resourceType, &resourceID,
		&ipAddress, &userAgent, &requestID,
		&method, &path, &statusCode,
		&message, &errorMessage, &metadataJSON, &changesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ResourceType = ResourceType(resourceType.String)
	event.ActorID = actorID.String
	event.SubjectID = subjectID.String
	event.OrganizationID = orgID.String
	event.ResourceID = resourceID.String
	event.IPAddress = ipAddress.String
	event.UserAgent = userAgent.String
	event.RequestID = requestID.String
	event.Method = method.String
	event.Path = path.String
	event.StatusCode = int(statusCode.Int64)
	event.Message = message.String
	event.ErrorMessage = errorMessage.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if changesJSON.Valid && changesJSON.String != "" {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changesJSON.String), event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}
	return event, nil
}

// jsonArg encodes v as a JSON string parameter, or NULL when empty.
func jsonArg(v interface{}, empty bool) (interface{}, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
