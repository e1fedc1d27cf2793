// Package rbac resolves roles and permissions for the roster attendance and
// HR backend.
//
// # Overview
//
// An identity (a person or a business account) acquires roles in two ways:
// verified documents such as an employment contract, and explicit role
// assignments made by someone who outranks the role being granted. Roles are
// scoped either to one organization or to the whole system. From these
// records the engine answers "which roles does this identity hold here" and
// "may it perform this action on this resource here", and it applies role
// changes (assign, revoke, transition, bulk assign) under per-key locks with
// compensation when a change fails half way.
//
// # Architecture
//
// The package is layered so every piece can be tested on its own:
//
//	Hierarchy           - role table: priorities, inheritance, base permissions
//	DocumentClassifier  - which roles each document type may grant
//	RoleDeriver         - raw roles per scope from documents and assignments
//	RoleResolver        - inheritance expansion and franchise cascade for one scope
//	PermissionEvaluator - decision for resource:action over an effective role set
//	Engine              - queries and role-change orchestration over a Store
//	SQLStore/MemoryStore - persistence
//	Locker              - LocalLocker in process, RedisLocker across replicas
//	Sweeper             - periodic deactivation of expired records
//	Handlers/PermissionMiddleware - HTTP surface
//	Manager             - wires the above over one *sql.DB
//
// # Roles
//
// The built-in hierarchy, lowest to highest:
//
//	seeker           0   default for identities holding nothing
//	worker          10   employment_contract
//	supervisor      20   management_appointment
//	manager         30   management_appointment
//	franchisee      40   franchise_agreement
//	owner           50   business_registration
//	admin           60   assignment only, one per organization
//	franchisor      70   franchise_agreement
//	franchise_admin 80   assignment only, reaches franchise stores
//	master         100   assignment only, system scope, full access
//
// Owner and admin inherit manager and worker, manager inherits supervisor
// and worker, supervisor inherits worker and franchisor inherits franchisee.
// LoadHierarchyFile overrides descriptions, priorities, inheritance and
// permissions from YAML; the result is validated for cycles and priority ties
// before an engine will use it.
//
// # Resolution
//
//	set, err := engine.ResolveEffectiveRoles(ctx, "id-42", &orgID)
//	// set.Roles is sorted by priority, highest first
//
// Records only count inside their half-open validity window [from, until).
// Inactive identities resolve to seeker. A master assignment anywhere
// collapses the result to {master} in every scope. A franchise_admin of a
// franchise HQ also holds its roles in the HQ's stores, up to the configured
// cascade depth.
//
// # Authorization
//
//	decision, err := engine.Authorize(ctx, "id-42", rbac.ActionApprove, rbac.ResourceAttendance, &orgID)
//	if err != nil {
//		return err
//	}
//	if !decision.Allowed {
//		// decision.Reason explains why
//	}
//
// A denial is a decision, not an error; errors mean the request itself was
// malformed or the store failed. Denials are written to the audit log.
// Custom permissions on an assignment only ever add.
//
// # Role Changes
//
// AssignRole, RevokeRole, TransitionRole and BulkAssignRoles all require the
// requester to be master or to strictly outrank the role being changed. The
// engine locks the (identity, scope, role) key, plus the organization's
// admin key for admin grants, re-reads state under the lock and only then
// writes. A transition revokes the old assignment before persisting the new
// one; if the persist fails the old role is restored as a new assignment, and
// if the restore fails too the error is a *CompensationFailure that needs an
// operator.
//
// # HTTP
//
//	router := mux.NewRouter()
//	manager.RegisterRoutes(router)
//
//	pm := manager.Middleware()
//	router.Handle("/orgs/{organization_id}/schedules",
//		pm.Require(rbac.ResourceSchedule, rbac.ActionCreate)(createSchedule))
//
// The requester is read from the context set by middleware.IdentityMiddleware.
//
// # Testing
//
// MemoryStore implements Store with fault hooks (OnPersist, OnRevoke) for
// exercising compensation paths. SQL tests run against go-sqlite3 and
// go-sqlmock; PostgreSQL tests use testcontainers and are opt-in with
// ROSTER_TEST_CONTAINERS=1.
package rbac
