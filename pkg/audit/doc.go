// Package audit records who changed which roles and which authorization
// checks were denied.
//
// Logger is the collaborator boundary. FileLogger writes JSON lines with
// size-based rotation, DBLogger writes to the audit_logs table, MultiLogger
// fans out to several destinations and NewNoOpLogger drops everything.
// Middleware records HTTP requests.
//
//	event := audit.NewEvent(ctx, audit.EventTypeAuthzRoleChange, audit.EventStatusSuccess)
//	event.ActorID = requester
//	event.SubjectID = identity
//	_ = logger.Log(ctx, event)
package audit
