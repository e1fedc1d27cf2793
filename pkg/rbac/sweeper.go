package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/observability"
)

const (
	// SystemActor is recorded as the revoker of records the sweep expires.
	SystemActor = "system"
	// ExpiredReason is the revoke reason of expired assignments.
	ExpiredReason = "expired"

	DefaultSweepSchedule = "@every 15m"
)

// ExpiryReport counts the records one sweep deactivated.
type ExpiryReport struct {
	Documents   int64 `json:"documents"`
	Assignments int64 `json:"assignments"`
}

// ExpiryStore deactivates records whose validity window ended before now.
type ExpiryStore interface {
	DeactivateExpired(ctx context.Context, now time.Time) (ExpiryReport, error)
}

// Sweeper flips expired documents and assignments to inactive so that
// listings and uniqueness indexes stop seeing them. Resolution does not
// depend on it: the deriver filters by window on every call.
type Sweeper struct {
	store       ExpiryStore
	logger      *observability.Logger
	metrics     *observability.Metrics
	auditLogger audit.Logger
	now         func() time.Time
	timeout     time.Duration
}

func NewSweeper(store ExpiryStore, logger *observability.Logger, metrics *observability.Metrics, auditLogger audit.Logger) *Sweeper {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &Sweeper{
		store:       store,
		logger:      logger,
		metrics:     metrics,
		auditLogger: auditLogger,
		now:         time.Now,
		timeout:     time.Minute,
	}
}

// Run performs one sweep.
func (s *Sweeper) Run(ctx context.Context) (ExpiryReport, error) {
	now := s.now()
	report, err := s.store.DeactivateExpired(ctx, now)
	s.metrics.RecordSweep(report.Documents, report.Assignments, err)
	if err != nil {
		s.logger.WithError(err).Error("expiry sweep failed")
		return report, fmt.Errorf("failed to deactivate expired records: %w", err)
	}

	if report.Documents > 0 || report.Assignments > 0 {
		s.logger.WithFields(map[string]interface{}{
			"documents":   report.Documents,
			"assignments": report.Assignments,
		}).Info("expired records deactivated")

		event := audit.NewEvent(ctx, audit.EventTypeAuthzExpirySweep, audit.EventStatusSuccess)
		event.ActorID = SystemActor
		event.Message = fmt.Sprintf("deactivated %d documents and %d assignments", report.Documents, report.Assignments)
		event.Metadata["documents"] = report.Documents
		event.Metadata["assignments"] = report.Assignments
		if err := s.auditLogger.Log(ctx, event); err != nil {
			s.logger.WithError(err).Warn("failed to write audit event")
		}
	}
	return report, nil
}

// Schedule registers the sweep on c. An empty schedule uses DefaultSweepSchedule.
func (s *Sweeper) Schedule(c *cron.Cron, schedule string) (cron.EntryID, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	id, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "expiry sweep")
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.Run(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return id, nil
}
