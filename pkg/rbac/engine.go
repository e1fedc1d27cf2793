package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/observability"
)

const tracerName = "github.com/platinummonkey/roster/pkg/rbac"

// Store is the persistence the engine consumes. Implementations return
// errors wrapping ErrNotFound for missing rows, and ErrDuplicateAssignment
// or ErrAdminExists when a write violates a uniqueness rule.
type Store interface {
	FetchIdentity(ctx context.Context, identityID string) (*Identity, error)
	FetchActiveDocuments(ctx context.Context, identityID string) ([]Document, error)
	FetchActiveRoleAssignments(ctx context.Context, identityID string) ([]RoleAssignment, error)
	FetchRoleAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error)
	// FetchActiveAdmin returns the held admin assignment of the organization
	// that has not expired at now, or nil when there is none. Future-dated
	// admins are returned.
	FetchActiveAdmin(ctx context.Context, organizationID string, now time.Time) (*RoleAssignment, error)
	PersistRoleAssignment(ctx context.Context, assignment RoleAssignment) (*RoleAssignment, error)
	RevokeRoleAssignment(ctx context.Context, assignmentID, revokedBy, reason string) error
	// ExpireAssignments revokes, as SystemActor, the held assignments in
	// slot whose window closed at or before now, and returns how many.
	ExpireAssignments(ctx context.Context, slot AssignmentSlot, now time.Time) (int64, error)
}

// AssignmentSlot names the rows a uniqueness index keeps to one: a role in a
// scope, for one identity or, with IdentityID empty, for anyone.
type AssignmentSlot struct {
	IdentityID string
	Scope      Scope
	Role       Role
}

func (s AssignmentSlot) matches(a RoleAssignment) bool {
	return a.Role == s.Role && a.Scope() == s.Scope && (s.IdentityID == "" || a.IdentityID == s.IdentityID)
}

// Engine resolves roles, answers authorization queries and performs role
// transitions. It holds no per-identity state; every query reads the store.
type Engine struct {
	store      Store
	orgs       OrganizationSource
	hierarchy  *Hierarchy
	classifier *DocumentClassifier
	deriver    *RoleDeriver
	resolver   *RoleResolver
	evaluator  *PermissionEvaluator

	locker       Locker
	auditLogger  audit.Logger
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
	now          func() time.Time
	cascadeDepth int
	bulkWorkers  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHierarchy replaces the built-in role table.
func WithHierarchy(h *Hierarchy) Option {
	return func(e *Engine) { e.hierarchy = h }
}

func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

func WithAuditLogger(logger audit.Logger) Option {
	return func(e *Engine) { e.auditLogger = logger }
}

// WithLocker sets the lock used to serialize role changes. Defaults to a LocalLocker.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCascadeDepth sets how many ancestor levels franchise_admin roles
// cascade through. 0 disables cascading.
func WithCascadeDepth(depth int) Option {
	return func(e *Engine) { e.cascadeDepth = depth }
}

// WithBulkWorkers sets how many bulk items are processed concurrently.
// The default of 1 processes items in order.
func WithBulkWorkers(n int) Option {
	return func(e *Engine) { e.bulkWorkers = n }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine over store. orgSource may be nil when no
// organization hierarchy is available.
func NewEngine(store Store, orgSource OrganizationSource, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		orgs:         orgSource,
		cascadeDepth: DefaultCascadeDepth,
		bulkWorkers:  1,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.hierarchy == nil {
		e.hierarchy = DefaultHierarchy()
	}
	if e.logger == nil {
		e.logger = observability.NewDiscardLogger()
	}
	if e.auditLogger == nil {
		e.auditLogger = audit.NewNoOpLogger()
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.bulkWorkers < 1 {
		e.bulkWorkers = 1
	}

	e.classifier = NewDocumentClassifier()
	e.deriver = NewRoleDeriver(e.hierarchy, e.classifier, e.logger, e.metrics)
	e.resolver = NewRoleResolver(e.hierarchy, orgSource, e.cascadeDepth)
	e.evaluator = NewPermissionEvaluator(e.hierarchy)
	return e
}

// Hierarchy returns the role table in use.
func (e *Engine) Hierarchy() *Hierarchy {
	return e.hierarchy
}

// Classifier returns the document classifier in use.
func (e *Engine) Classifier() *DocumentClassifier {
	return e.classifier
}

// ResolveEffectiveRoles returns the roles identityID holds in the given
// organization, or in the system scope when organizationID is nil.
func (e *Engine) ResolveEffectiveRoles(ctx context.Context, identityID string, organizationID *string) (*EffectiveRoleSet, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.ResolveEffectiveRoles", trace.WithAttributes(
		attribute.String("identity.id", identityID),
	))
	defer span.End()

	scope, err := validateQuery(identityID, organizationID)
	if err != nil {
		return nil, spanError(span, err)
	}
	set, err := e.resolve(ctx, identityID, scope)
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("role.highest", string(set.Highest)))
	return set, nil
}

// Authorize decides whether identityID may perform action on resource in
// the given organization. A denial is returned as a decision with a nil error;
// errors are reserved for invalid input and storage failures.
func (e *Engine) Authorize(ctx context.Context, identityID string, action Action, resource Resource, organizationID *string) (*PermissionDecision, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.Authorize", trace.WithAttributes(
		attribute.String("identity.id", identityID),
		attribute.String("permission.resource", string(resource)),
		attribute.String("permission.action", string(action)),
	))
	defer span.End()

	scope, err := validateQuery(identityID, organizationID)
	if err != nil {
		return nil, spanError(span, err)
	}
	if resource == "" {
		return nil, spanError(span, &ValidationError{Field: "resource", Message: "is required"})
	}
	if action == "" {
		return nil, spanError(span, &ValidationError{Field: "action", Message: "is required"})
	}

	set, err := e.resolve(ctx, identityID, scope)
	if err != nil {
		return nil, spanError(span, err)
	}
	decision := e.evaluator.Evaluate(set, resource, action, e.now())
	e.metrics.RecordDecision(decision.Allowed)
	span.SetAttributes(attribute.Bool("permission.allowed", decision.Allowed))

	if !decision.Allowed {
		e.log(ctx).WithFields(map[string]interface{}{
			"identity_id": identityID,
			"scope":       scope.String(),
			"permission":  Permission{Resource: resource, Action: action}.String(),
			"roles":       decision.Roles,
		}).Debug("permission denied")

		event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionCheck, audit.EventStatusDenied)
		event.ActorID = identityID
		event.SubjectID = identityID
		event.OrganizationID = string(scope)
		event.ResourceType = audit.ResourceType(resource)
		event.Message = fmt.Sprintf("%s denied %s: %s", identityID, Permission{Resource: resource, Action: action}, decision.Reason)
		event.Metadata["roles"] = decision.Roles
		e.emit(ctx, event)
	}
	return decision, nil
}

// EffectivePermissions lists every permission identityID holds in the scope.
func (e *Engine) EffectivePermissions(ctx context.Context, identityID string, organizationID *string) ([]Permission, *EffectiveRoleSet, error) {
	set, err := e.ResolveEffectiveRoles(ctx, identityID, organizationID)
	if err != nil {
		return nil, nil, err
	}
	return e.evaluator.Permissions(set), set, nil
}

// ValidateDocument checks a document before a collaborator stores it.
func (e *Engine) ValidateDocument(doc Document) error {
	return e.classifier.ValidateDocument(doc)
}

func validateQuery(identityID string, organizationID *string) (Scope, error) {
	if identityID == "" {
		return SystemScope, &ValidationError{Field: "identity_id", Message: "is required"}
	}
	if organizationID != nil && *organizationID == "" {
		return SystemScope, &ValidationError{Field: "organization_id", Message: "must not be empty when set"}
	}
	return ScopeOf(organizationID), nil
}

// derive loads every record of identityID and derives its per-scope roles.
func (e *Engine) derive(ctx context.Context, identityID string) (*Derivation, error) {
	identity, err := e.store.FetchIdentity(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		// Unknown identities have no records and fall back to seeker.
		identity = &Identity{ID: identityID, IsActive: true}
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch identity %s: %w", identityID, err)
	}

	documents, err := e.store.FetchActiveDocuments(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents of %s: %w", identityID, err)
	}
	assignments, err := e.store.FetchActiveRoleAssignments(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch role assignments of %s: %w", identityID, err)
	}
	return e.deriver.Derive(*identity, documents, assignments, e.now()), nil
}

func (e *Engine) resolve(ctx context.Context, identityID string, scope Scope) (*EffectiveRoleSet, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveResolve(scope.IsSystem(), time.Since(start)) }()

	d, err := e.derive(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, d, scope, e.now())
}

func (e *Engine) log(ctx context.Context) *observability.Logger {
	logger := observability.WithTraceContext(ctx, e.logger)
	if id := observability.GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	return logger
}

// emit writes an audit event. Audit failures are logged and never fail the operation.
func (e *Engine) emit(ctx context.Context, event *audit.AuditEvent) {
	if err := e.auditLogger.Log(ctx, event); err != nil {
		e.log(ctx).WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to write audit event")
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
