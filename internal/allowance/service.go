package allowance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

type creditGranter interface {
	Grant(ctx context.Context, input credits.GrantInput) (*credits.GrantResult, error)
}

type userLister interface {
	ListActiveAfter(ctx context.Context, after uuid.UUID, limit int) ([]models.User, error)
}

// Service hands out the monthly credit allowance for every active user.
// Grants are idempotent per user and period: the request id encodes both, so
// a rerun after a partial failure only fills in the users that were missed.
type Service interface {
	GrantMonthlyAllowances(ctx context.Context, period time.Time) (*Report, error)
}

// Report summarizes one allowance sweep.
type Report struct {
	Period  string
	Scanned int
	Granted int
	Skipped int
	Failed  int
}

type service struct {
	credits creditGranter
	users   userLister
	logg    *logger.Logger
	cfg     config.AllowanceConfig
}

// NewService builds the allowance service.
func NewService(granter creditGranter, users userLister, logg *logger.Logger, cfg config.AllowanceConfig) (Service, error) {
	if granter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credit service required")
	}
	if users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user lister required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &service{credits: granter, users: users, logg: logg, cfg: cfg}, nil
}

// GrantMonthlyAllowances sweeps active users in id order and grants each one
// the credits for their tier. Users already granted for the period are
// counted as skipped; individual failures are collected and do not stop the
// sweep.
func (s *service) GrantMonthlyAllowances(ctx context.Context, period time.Time) (*Report, error) {
	if period.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allowance period required")
	}
	periodKey := period.UTC().Format("2006-01")
	report := &Report{Period: periodKey}

	var errs error
	after := uuid.Nil
	for {
		batch, err := s.users.ListActiveAfter(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return report, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active users"))
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			report.Scanned++
			if err := s.grantOne(ctx, &batch[i], periodKey, report); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}

	reportCtx := s.logg.WithFields(ctx, map[string]any{
		"period":  periodKey,
		"scanned": report.Scanned,
		"granted": report.Granted,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	})
	s.logg.Info(reportCtx, "monthly allowance sweep complete")
	return report, errs
}

func (s *service) grantOne(ctx context.Context, user *models.User, periodKey string, report *Report) error {
	amount := s.creditsForTier(user.SubscriptionTier)
	if amount <= 0 {
		report.Skipped++
		return nil
	}
	note := fmt.Sprintf("monthly allowance for %s", periodKey)
	_, err := s.credits.Grant(ctx, credits.GrantInput{
		UserID:    user.ID,
		Credits:   amount,
		RequestID: fmt.Sprintf("allowance:%s:%s", user.ID, periodKey),
		Reason:    enums.LedgerReasonSubscriptionAllocation,
		Note:      &note,
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateRequest) {
		report.Skipped++
		return nil
	}
	if err != nil {
		report.Failed++
		return fmt.Errorf("grant allowance for user %s: %w", user.ID, err)
	}
	report.Granted++
	return nil
}

func (s *service) creditsForTier(tier enums.SubscriptionTier) int64 {
	switch tier {
	case enums.SubscriptionTierPremium:
		return s.cfg.PremiumMonthlyCredits
	case enums.SubscriptionTierPro:
		return s.cfg.ProMonthlyCredits
	default:
		return s.cfg.FreeMonthlyCredits
	}
}
