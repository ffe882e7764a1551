package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

const (
	defaultAuditLookback = 26 * time.Hour
	defaultAuditLimit    = 1000
)

// ConsistencyAuditJobParams configure the nightly ledger audit.
type ConsistencyAuditJobParams struct {
	Logger   *logger.Logger
	Checker  consistencyChecker
	Ledger   auditSource
	Lookback time.Duration
	Limit    int
	Now      func() time.Time
}

type consistencyChecker interface {
	CheckConsistency(ctx context.Context, userID uuid.UUID) error
}

type auditSource interface {
	ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// NewConsistencyAuditJob builds the job that re-walks the balance chain of
// every user who touched the ledger since the last cycle. The checker logs
// and counts violations itself; the job's only extra duty is coverage.
func NewConsistencyAuditJob(params ConsistencyAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checker == nil {
		return nil, fmt.Errorf("consistency checker required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger source required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultAuditLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &consistencyAuditJob{
		logg:     params.Logger,
		checker:  params.Checker,
		ledger:   params.Ledger,
		lookback: lookback,
		limit:    limit,
		now:      now,
	}, nil
}

type consistencyAuditJob struct {
	logg     *logger.Logger
	checker  consistencyChecker
	ledger   auditSource
	lookback time.Duration
	limit    int
	now      func() time.Time
}

func (j *consistencyAuditJob) Name() string { return "ledger-consistency-audit" }

func (j *consistencyAuditJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	userIDs, err := j.ledger.ListActiveUserIDs(ctx, since, j.limit)
	if err != nil {
		return fmt.Errorf("list users with ledger activity: %w", err)
	}

	var errs error
	flagged := 0
	for _, userID := range userIDs {
		if err := j.checker.CheckConsistency(ctx, userID); err != nil {
			flagged++
			errs = multierr.Append(errs, fmt.Errorf("audit user %s: %w", userID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":   since,
		"checked": len(userIDs),
		"flagged": flagged,
	})
	j.logg.Info(logCtx, "ledger consistency audit complete")
	return errs
}
