// Package cli implements roster-admin, the operator tool for the roster
// database.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	roster-admin migrate -db "$ROSTER_POSTGRES_URL"
//	roster-admin migrate -list
//
// grant-master: Bootstrap a master assignment. The engine never grants
// master, so the first one has to come from here.
//
//	roster-admin grant-master \
//		-identity 7d1c0f8e-... \
//		-create \
//		-reason "initial platform operator"
//
// check-hierarchy: Validate a hierarchy override file
//
//	roster-admin check-hierarchy -file roles.yaml
//	roster-admin check-hierarchy -format yaml > roles.yaml
//
// sweep: Run the expiry sweep once, outside the service's cron schedule
//
//	roster-admin sweep -timeout 1m
//
// audit: Search the audit trail
//
//	roster-admin audit -subject 7d1c0f8e-... -type authz.role_change -since 72h
//
// Every command that touches the database accepts -db and falls back to
// ROSTER_POSTGRES_URL. Logs go to stderr through logrus at ROSTER_LOG_LEVEL;
// results go to stdout.
//
// # Audit
//
// grant-master and sweep write to the database audit log, and audit reads it
// back. Tests swap it via Env.Audit.
package cli
