package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
)

// Pricing is the fully resolved rate card for one request: vendor prices
// per million tokens plus the margin multiplier to apply on top.
type Pricing struct {
	InputPerMillion       decimal.Decimal
	OutputPerMillion      decimal.Decimal
	CachedInputPerMillion decimal.Decimal // zero means cached input is free
	MarginMultiplier      decimal.Decimal
}

// Free carries the highest multiplier; unknown users resolve to it.
var (
	multiplierFree    = decimal.RequireFromString("5.0")
	multiplierPro     = decimal.RequireFromString("4.0")
	multiplierPremium = decimal.RequireFromString("3.0")
)

// Fallback rates sit above every model in the seed catalog so an unknown
// model can never be charged below cost.
var (
	fallbackInputPerMillion  = decimal.RequireFromString("15")
	fallbackOutputPerMillion = decimal.RequireFromString("75")
)

// MultiplierForTier maps a subscription tier to its margin multiplier.
func MultiplierForTier(tier enums.SubscriptionTier) decimal.Decimal {
	switch tier {
	case enums.SubscriptionTierPremium:
		return multiplierPremium
	case enums.SubscriptionTierPro:
		return multiplierPro
	default:
		return multiplierFree
	}
}

// Fallback returns the most expensive known pricing with the free-tier
// multiplier. Cached input is charged at the full input rate.
func Fallback() Pricing {
	return Pricing{
		InputPerMillion:       fallbackInputPerMillion,
		OutputPerMillion:      fallbackOutputPerMillion,
		CachedInputPerMillion: fallbackInputPerMillion,
		MarginMultiplier:      multiplierFree,
	}
}

type userSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service resolves model pricing and margin multipliers.
type Service interface {
	Resolve(ctx context.Context, providerID, modelID string, userID uuid.UUID) (Pricing, error)
	FallbackFor(ctx context.Context, userID uuid.UUID) (Pricing, error)
	ListActive(ctx context.Context) ([]models.ModelPricing, error)
}

type cacheEntry struct {
	rows      []models.ModelPricing
	fetchedAt time.Time
}

type service struct {
	repo  Repository
	users userSource
	ttl   time.Duration
	now   func() time.Time

	mtx   sync.RWMutex
	cache map[string]cacheEntry
}

// NewService wires a pricing service with a per-provider TTL cache.
// Balances are never cached; pricing rows change rarely and tolerate
// CacheTTL of staleness.
func NewService(repo Repository, users userSource, cfg config.PricingConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("user source required")
	}
	ttl := cfg.CacheTTL
	if ttl < 0 {
		ttl = 0
	}
	return &service{
		repo:  repo,
		users: users,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}, nil
}

func (s *service) Resolve(ctx context.Context, providerID, modelID string, userID uuid.UUID) (Pricing, error) {
	if providerID == "" {
		return Pricing{}, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	if modelID == "" {
		return Pricing{}, pkgerrors.New(pkgerrors.CodeValidation, "model id required")
	}

	rows, err := s.providerRows(ctx, providerID)
	if err != nil {
		return Pricing{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load model pricing")
	}

	row := matchModel(rows, modelID)
	if row == nil {
		return Pricing{}, pkgerrors.New(pkgerrors.CodePricingNotFound, fmt.Sprintf("no active pricing for %s/%s", providerID, modelID))
	}

	multiplier, err := s.multiplierFor(ctx, userID)
	if err != nil {
		return Pricing{}, err
	}
	if row.MarginOverride != nil {
		multiplier = *row.MarginOverride
	}

	resolved := Pricing{
		InputPerMillion:  row.InputPricePerMillion,
		OutputPerMillion: row.OutputPricePerMillion,
		MarginMultiplier: multiplier,
	}
	if row.CachedInputPricePerMillion != nil {
		resolved.CachedInputPerMillion = *row.CachedInputPricePerMillion
	}
	return resolved, nil
}

func (s *service) FallbackFor(ctx context.Context, userID uuid.UUID) (Pricing, error) {
	multiplier, err := s.multiplierFor(ctx, userID)
	if err != nil {
		return Pricing{}, err
	}
	fallback := Fallback()
	fallback.MarginMultiplier = multiplier
	return fallback, nil
}

func (s *service) ListActive(ctx context.Context) ([]models.ModelPricing, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list model pricing")
	}
	return rows, nil
}

func (s *service) multiplierFor(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return multiplierFree, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown user pays the most expensive tier.
			return multiplierFree, nil
		}
		return decimal.Decimal{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user tier")
	}
	return MultiplierForTier(user.SubscriptionTier), nil
}

func (s *service) providerRows(ctx context.Context, providerID string) ([]models.ModelPricing, error) {
	if s.ttl > 0 {
		s.mtx.RLock()
		entry, ok := s.cache[providerID]
		s.mtx.RUnlock()
		if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
			return entry.rows, nil
		}
	}

	rows, err := s.repo.ListActiveByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if s.ttl > 0 {
		s.mtx.Lock()
		s.cache[providerID] = cacheEntry{rows: rows, fetchedAt: s.now()}
		s.mtx.Unlock()
	}
	return rows, nil
}

// matchModel prefers an exact model_id hit, then scans version aliases.
func matchModel(rows []models.ModelPricing, modelID string) *models.ModelPricing {
	for i := range rows {
		if rows[i].ModelID == modelID {
			return &rows[i]
		}
	}
	for i := range rows {
		for _, alias := range rows[i].Aliases {
			if alias == modelID {
				return &rows[i]
			}
		}
	}
	return nil
}
