package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/scribeflow/scribeflow-backend/internal/allowance"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

// AllowanceJobParams configure the monthly credit allocation job.
type AllowanceJobParams struct {
	Logger  *logger.Logger
	Service allowanceGranter
	Now     func() time.Time
}

type allowanceGranter interface {
	GrantMonthlyAllowances(ctx context.Context, period time.Time) (*allowance.Report, error)
}

// NewAllowanceJob builds the job that grants each active user their
// monthly credit allowance. The grant request ids encode user and period,
// so running the job again within a month only picks up users the last
// run missed.
func NewAllowanceJob(params AllowanceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("allowance service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &allowanceJob{logg: params.Logger, service: params.Service, now: now}, nil
}

type allowanceJob struct {
	logg    *logger.Logger
	service allowanceGranter
	now     func() time.Time
}

func (j *allowanceJob) Name() string { return "monthly-allowance" }

func (j *allowanceJob) Run(ctx context.Context) error {
	report, err := j.service.GrantMonthlyAllowances(ctx, j.now().UTC())
	if report != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"period":  report.Period,
			"scanned": report.Scanned,
			"granted": report.Granted,
			"skipped": report.Skipped,
			"failed":  report.Failed,
		})
		j.logg.Info(logCtx, "allowance job finished")
	}
	if err != nil {
		return fmt.Errorf("monthly allowance sweep: %w", err)
	}
	return nil
}
