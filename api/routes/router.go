package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribeflow/scribeflow-backend/api/controllers"
	"github.com/scribeflow/scribeflow-backend/api/middleware"
	"github.com/scribeflow/scribeflow-backend/internal/costs"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/metering"
	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/redis"
)

// NewRouter assembles the ledger API. Everything under /api/v1 requires a
// bearer token; the admin subtree additionally requires the admin role and
// an Idempotency-Key on mutations.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	creditsService credits.Service,
	usageService usage.Service,
	pricingService pricing.Service,
	estimator costs.Estimator,
	engine metering.Engine,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, dbP, redisClient))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(cfg.RateLimit, redisClient, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", controllers.CreditBalance(creditsService, logg))
			r.Post("/validate", controllers.CreditValidate(estimator, creditsService, logg))
			r.Get("/history", controllers.CreditHistory(creditsService, logg))
		})

		r.Post("/inference", controllers.InferenceExecute(engine, logg))

		r.Route("/usage", func(r chi.Router) {
			r.Get("/history", controllers.UsageHistory(usageService, logg))
			r.Get("/daily-summary", controllers.UsageDailySummary(usageService, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Post("/credits/grant", controllers.AdminCreditGrant(creditsService, logg))
			r.Post("/credits/adjust", controllers.AdminCreditAdjust(creditsService, logg))
			r.Post("/ledger/{entryId}/reverse", controllers.AdminLedgerReverse(creditsService, logg))
			r.Get("/pricing", controllers.AdminPricingList(pricingService, logg))
		})
	})

	return r
}
