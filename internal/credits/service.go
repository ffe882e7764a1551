package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/config"
	dbpkg "github.com/scribeflow/scribeflow-backend/pkg/db"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/metrics"
	"github.com/scribeflow/scribeflow-backend/pkg/outbox"
	"github.com/scribeflow/scribeflow-backend/pkg/outbox/payloads"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type usageRecorder interface {
	AttachLedgerEntryTx(ctx context.Context, tx *gorm.DB, recordID, entryID uuid.UUID) error
	IncrementDailySummaryTx(ctx context.Context, tx *gorm.DB, record *models.UsageRecord) error
}

// Service owns every mutation of credit balances. All writes go through a
// single locked transaction per user so the ledger chain stays contiguous.
type Service interface {
	Deduct(ctx context.Context, input DeductInput) (*DeductResult, error)
	Grant(ctx context.Context, input GrantInput) (*GrantResult, error)
	Reverse(ctx context.Context, input ReverseInput) error
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ValidateSufficientCredits(ctx context.Context, userID uuid.UUID, requiredCredits int64) (*GateResult, error)
	GetHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, string, error)
	CheckConsistency(ctx context.Context, userID uuid.UUID) error
}

// ServiceParams groups dependencies for the credits service.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Users   userFinder
	Usage   usageRecorder
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
	Config  config.LedgerConfig
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	users   userFinder
	usage   usageRecorder
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	cfg     config.LedgerConfig
}

// NewService builds the credits service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credits repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox publisher required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Usage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	cfg := params.Config
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		users:   params.Users,
		usage:   params.Usage,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     cfg,
	}, nil
}

// DeductInput carries one debit against a user's balance. UsageRecord, when
// set, is linked to the new ledger entry and rolled into the daily summary
// inside the same transaction.
type DeductInput struct {
	UserID           uuid.UUID
	Credits          int64
	RequestID        string
	VendorCost       decimal.Decimal
	MarginMultiplier decimal.Decimal
	GrossMargin      decimal.Decimal
	ProviderID       string
	ModelID          string
	Reason           enums.LedgerReason
	Description      *string
	ActorID          *uuid.UUID
	UsageRecord      *models.UsageRecord
}

// DeductResult reports the committed debit.
type DeductResult struct {
	EntryID       uuid.UUID
	BalanceBefore int64
	BalanceAfter  int64
}

// GrantInput adds credits to a user's balance, either from the monthly
// allowance job or a manual admin adjustment.
type GrantInput struct {
	UserID    uuid.UUID
	Credits   int64
	RequestID string
	Reason    enums.LedgerReason
	ActorID   *uuid.UUID
	Note      *string
}

// GrantResult reports the committed grant.
type GrantResult struct {
	EntryID       uuid.UUID
	BalanceBefore int64
	BalanceAfter  int64
}

// ReverseInput undoes a completed ledger entry.
type ReverseInput struct {
	EntryID    uuid.UUID
	Reason     string
	ReversedBy uuid.UUID
}

// GateResult is the pre-flight balance check outcome. A denial is a valid
// result, not an error.
type GateResult struct {
	Sufficient     bool
	CurrentBalance int64
	Shortfall      int64
	Suggestions    []string
}

func (s *service) Deduct(ctx context.Context, input DeductInput) (*DeductResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.RequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deduction must remove at least one credit")
	}
	reason := input.Reason
	if reason == "" {
		reason = enums.LedgerReasonAPICompletion
	}
	if reason != enums.LedgerReasonAPICompletion && reason != enums.LedgerReasonManualAdjustment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason %q cannot debit credits", reason))
	}
	multiplier := input.MarginMultiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}

	start := time.Now()
	var result *DeductResult
	err := s.runLedgerTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ConfigureTx(ctx, s.cfg.LockTimeout, s.cfg.StatementTimeout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "configure ledger transaction")
		}
		balance, err := repo.LockBalance(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "lock credit balance")
		}

		// Duplicate check comes before the insufficiency check so a retried
		// request that already succeeded is reported as a duplicate even when
		// the balance has since run out.
		existing, err := repo.FindEntryByRequestID(ctx, input.RequestID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "check for duplicate request")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateRequest, fmt.Sprintf("request %s already has a ledger entry", input.RequestID)).
				WithDetails(map[string]any{"existingEntryId": existing.ID.String()})
		}

		before := balance.Amount
		if before < input.Credits {
			return pkgerrors.New(pkgerrors.CodeInsufficientCreds, "credit balance too low for this request").
				WithDetails(map[string]any{
					"currentBalance":  before,
					"requiredCredits": input.Credits,
					"shortfall":       input.Credits - before,
				})
		}

		now := time.Now().UTC()
		after := before - input.Credits
		deducted := input.Credits
		balance.Amount = after
		balance.LastDeductionAt = &now
		balance.LastDeductionAmount = &deducted
		if err := repo.UpdateBalance(ctx, balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "update credit balance")
		}

		entry := &models.LedgerEntry{
			ID:               uuid.New(),
			UserID:           input.UserID,
			Amount:           input.Credits,
			BalanceBefore:    before,
			BalanceAfter:     after,
			RequestID:        input.RequestID,
			VendorCost:       input.VendorCost,
			MarginMultiplier: multiplier,
			GrossMargin:      input.GrossMargin,
			Reason:           reason,
			Status:           enums.LedgerEntryStatusCompleted,
			Description:      input.Description,
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			if dbpkg.IsUniqueViolation(err, "idx_ledger_entries_request_id") {
				return pkgerrors.New(pkgerrors.CodeDuplicateRequest, fmt.Sprintf("request %s already has a ledger entry", input.RequestID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "append ledger entry")
		}

		if input.UsageRecord != nil {
			if err := s.usage.AttachLedgerEntryTx(ctx, tx, input.UsageRecord.ID, entry.ID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeConflict, "usage record missing or already linked to a ledger entry")
				}
				return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "link usage record to ledger entry")
			}
			if err := s.usage.IncrementDailySummaryTx(ctx, tx, input.UsageRecord); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "roll usage into daily summary")
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventCreditDeducted,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Version:       1,
			Actor:         actorOrSystem(input.ActorID),
			Data: payloads.CreditDeductedEvent{
				LedgerEntryID: entry.ID,
				UserID:        input.UserID,
				RequestID:     input.RequestID,
				Credits:       input.Credits,
				BalanceAfter:  after,
				Reason:        reason,
				VendorCost:    input.VendorCost,
				ProviderID:    input.ProviderID,
				ModelID:       input.ModelID,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "queue credit deducted event")
		}

		result = &DeductResult{EntryID: entry.ID, BalanceBefore: before, BalanceAfter: after}
		return nil
	})
	if err != nil {
		s.noteRejection(err)
		return nil, err
	}

	s.metrics.IncEntry(string(reason))
	s.metrics.ObserveDebitDuration(time.Since(start))
	return result, nil
}

func (s *service) Grant(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.RequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant must add at least one credit")
	}
	if input.Reason != enums.LedgerReasonSubscriptionAllocation && input.Reason != enums.LedgerReasonManualAdjustment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason %q cannot grant credits", input.Reason))
	}

	var result *GrantResult
	err := s.runLedgerTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ConfigureTx(ctx, s.cfg.LockTimeout, s.cfg.StatementTimeout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "configure ledger transaction")
		}
		balance, err := repo.LockBalance(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "lock credit balance")
		}
		existing, err := repo.FindEntryByRequestID(ctx, input.RequestID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "check for duplicate request")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateRequest, fmt.Sprintf("request %s already has a ledger entry", input.RequestID)).
				WithDetails(map[string]any{"existingEntryId": existing.ID.String()})
		}

		before := balance.Amount
		after := before + input.Credits
		balance.Amount = after
		if err := repo.UpdateBalance(ctx, balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "update credit balance")
		}

		entry := &models.LedgerEntry{
			ID:               uuid.New(),
			UserID:           input.UserID,
			Amount:           -input.Credits,
			BalanceBefore:    before,
			BalanceAfter:     after,
			RequestID:        input.RequestID,
			MarginMultiplier: decimal.NewFromInt(1),
			Reason:           input.Reason,
			Status:           enums.LedgerEntryStatusCompleted,
			Description:      input.Note,
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			if dbpkg.IsUniqueViolation(err, "idx_ledger_entries_request_id") {
				return pkgerrors.New(pkgerrors.CodeDuplicateRequest, fmt.Sprintf("request %s already has a ledger entry", input.RequestID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "append ledger entry")
		}

		note := ""
		if input.Note != nil {
			note = *input.Note
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventCreditGranted,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Version:       1,
			Actor:         actorOrSystem(input.ActorID),
			Data: payloads.CreditGrantedEvent{
				LedgerEntryID: entry.ID,
				UserID:        input.UserID,
				RequestID:     input.RequestID,
				Credits:       input.Credits,
				BalanceAfter:  after,
				Reason:        input.Reason,
				GrantedBy:     input.ActorID,
				Note:          note,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "queue credit granted event")
		}

		result = &GrantResult{EntryID: entry.ID, BalanceBefore: before, BalanceAfter: after}
		return nil
	})
	if err != nil {
		s.noteRejection(err)
		return nil, err
	}

	s.metrics.IncEntry(string(input.Reason))
	return result, nil
}

func (s *service) Reverse(ctx context.Context, input ReverseInput) error {
	if input.EntryID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger entry id required")
	}
	if input.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reversal reason required")
	}
	if input.ReversedBy == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	err := s.runLedgerTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ConfigureTx(ctx, s.cfg.LockTimeout, s.cfg.StatementTimeout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "configure ledger transaction")
		}
		original, err := repo.FindEntryByID(ctx, input.EntryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "load ledger entry")
		}
		if original.Status == enums.LedgerEntryStatusReversed {
			return pkgerrors.New(pkgerrors.CodeAlreadyReversed, "ledger entry already reversed")
		}
		if original.Reason == enums.LedgerReasonReversal {
			return pkgerrors.New(pkgerrors.CodeValidation, "reversal entries cannot be reversed")
		}

		balance, err := repo.LockBalance(ctx, original.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "lock credit balance")
		}
		before := balance.Amount
		after := before + original.Amount
		if after < 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reversal would drive the balance negative").
				WithDetails(map[string]any{"currentBalance": before, "reversalDelta": original.Amount})
		}

		reason := input.Reason
		reversal := &models.LedgerEntry{
			ID:               uuid.New(),
			UserID:           original.UserID,
			Amount:           -original.Amount,
			BalanceBefore:    before,
			BalanceAfter:     after,
			RequestID:        fmt.Sprintf("reversal:%s", original.ID),
			VendorCost:       decimal.Zero,
			MarginMultiplier: original.MarginMultiplier,
			GrossMargin:      original.GrossMargin.Neg(),
			Reason:           enums.LedgerReasonReversal,
			Status:           enums.LedgerEntryStatusCompleted,
			Description:      &reason,
		}
		if err := repo.InsertEntry(ctx, reversal); err != nil {
			if dbpkg.IsUniqueViolation(err, "idx_ledger_entries_request_id") {
				return pkgerrors.New(pkgerrors.CodeAlreadyReversed, "ledger entry already reversed")
			}
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "append reversal entry")
		}

		flipped, err := repo.MarkEntryReversed(ctx, reverseEntryParams{
			EntryID:         original.ID,
			ReversedBy:      input.ReversedBy,
			Reason:          input.Reason,
			ReversalEntryID: reversal.ID,
			At:              time.Now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "mark ledger entry reversed")
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeAlreadyReversed, "ledger entry already reversed")
		}

		balance.Amount = after
		if err := repo.UpdateBalance(ctx, balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "update credit balance")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventCreditReversed,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   reversal.ID,
			Version:       1,
			Actor:         adminActor(input.ReversedBy),
			Data: payloads.CreditReversedEvent{
				ReversalEntryID: reversal.ID,
				OriginalEntryID: original.ID,
				UserID:          original.UserID,
				CreditsRestored: original.Amount,
				BalanceAfter:    after,
				Reason:          input.Reason,
				ReversedBy:      input.ReversedBy,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "queue credit reversed event")
		}
		return nil
	})
	if err != nil {
		s.noteRejection(err)
		return err
	}

	s.metrics.IncEntry(string(enums.LedgerReasonReversal))
	return nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	balance, err := s.repo.FindBalance(ctx, userID)
	if err != nil {
		// A user with no balance row has simply never transacted.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit balance")
	}
	return balance.Amount, nil
}

func (s *service) ValidateSufficientCredits(ctx context.Context, userID uuid.UUID, requiredCredits int64) (*GateResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if requiredCredits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "required credits must be positive")
	}

	current := int64(0)
	balance, err := s.repo.FindBalance(ctx, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit balance")
	}
	if err == nil {
		current = balance.Amount
	}

	if current >= requiredCredits {
		return &GateResult{Sufficient: true, CurrentBalance: current}, nil
	}

	shortfall := requiredCredits - current
	s.metrics.IncPreflightDenial()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":          userID.String(),
		"required_credits": requiredCredits,
		"shortfall":        shortfall,
	})
	s.logg.Info(logCtx, "request denied by balance gate")

	return &GateResult{
		Sufficient:     false,
		CurrentBalance: current,
		Shortfall:      shortfall,
		Suggestions: []string{
			fmt.Sprintf("purchase at least %d additional credits", shortfall),
			"upgrade your subscription tier for a larger monthly allowance",
		},
	}, nil
}

func (s *service) GetHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	query := listEntriesParams{UserID: userID, Limit: params.Limit, Range: params.Range}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	entries, next, err := s.repo.ListEntriesByUser(ctx, query)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	nextCursor := ""
	if next != nil {
		nextCursor = pagination.EncodeCursor(*next)
	}
	return entries, nextCursor, nil
}

func (s *service) CheckConsistency(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ConfigureTx(ctx, s.cfg.LockTimeout, s.cfg.StatementTimeout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "configure ledger transaction")
		}
		balance, err := repo.LockBalance(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "lock credit balance")
		}
		entries, err := repo.ListEntriesChronological(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "load ledger history")
		}

		prevAfter := int64(0)
		for i, entry := range entries {
			if entry.BalanceBefore < 0 || entry.BalanceAfter < 0 {
				return s.invariantViolation(ctx, userID, fmt.Sprintf("entry %s records a negative balance", entry.ID))
			}
			if entry.BalanceAfter != entry.BalanceBefore-entry.Amount {
				return s.invariantViolation(ctx, userID, fmt.Sprintf("entry %s breaks balance arithmetic", entry.ID))
			}
			if i == 0 && entry.BalanceBefore != 0 {
				return s.invariantViolation(ctx, userID, fmt.Sprintf("ledger does not start at zero before entry %s", entry.ID))
			}
			if i > 0 && entry.BalanceBefore != prevAfter {
				return s.invariantViolation(ctx, userID, fmt.Sprintf("balance chain breaks before entry %s", entry.ID))
			}
			prevAfter = entry.BalanceAfter
		}
		if balance.Amount != prevAfter {
			return s.invariantViolation(ctx, userID, fmt.Sprintf("stored balance %d diverges from ledger tail %d", balance.Amount, prevAfter))
		}
		return nil
	})
}

// runLedgerTx executes op in a transaction, retrying when Postgres reports a
// transient conflict. op must be safe to re-run from scratch.
func (s *service) runLedgerTx(ctx context.Context, op func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		if attempt > 0 {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "retrying ledger transaction after conflict")
		}
		err = s.tx.WithTx(ctx, op)
		if err == nil || !dbpkg.IsSerializationConflict(err) {
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "ledger transaction kept conflicting")
}

func (s *service) noteRejection(err error) {
	appErr := pkgerrors.As(err)
	if appErr == nil {
		return
	}
	switch appErr.Code() {
	case pkgerrors.CodeInsufficientCreds, pkgerrors.CodeDuplicateRequest, pkgerrors.CodeAlreadyReversed:
		s.metrics.IncRejection(string(appErr.Code()))
	}
}

func (s *service) invariantViolation(ctx context.Context, userID uuid.UUID, detail string) error {
	err := pkgerrors.New(pkgerrors.CodeBalanceInvariant, detail)
	s.metrics.IncInvariantViolation()
	s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "credit ledger invariant violated", err)
	return err
}

const systemActorRole = "system"

func systemActor() *outbox.ActorRef {
	return &outbox.ActorRef{Role: systemActorRole}
}

func adminActor(id uuid.UUID) *outbox.ActorRef {
	actor := id
	return &outbox.ActorRef{UserID: &actor, Role: string(enums.ActorRoleAdmin)}
}

func actorOrSystem(id *uuid.UUID) *outbox.ActorRef {
	if id == nil {
		return systemActor()
	}
	return adminActor(*id)
}
