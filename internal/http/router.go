// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected via Infra
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/config"
	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/geo"
	"github.com/tbourn/go-pharmacy-backend/internal/http/handlers"
	"github.com/tbourn/go-pharmacy-backend/internal/http/middleware"
	"github.com/tbourn/go-pharmacy-backend/internal/ledger"
	"github.com/tbourn/go-pharmacy-backend/internal/lock"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
	"github.com/tbourn/go-pharmacy-backend/internal/store"
	"github.com/tbourn/go-pharmacy-backend/internal/utils"
)

// pharmacyRepoShim adapts the repository free functions to the
// services.PharmacyRepo interface. This keeps services decoupled from the
// concrete repo package while reusing existing functions.
type pharmacyRepoShim struct{}

// GetPharmacy proxies repo.GetPharmacy.
func (pharmacyRepoShim) GetPharmacy(ctx context.Context, db *gorm.DB, id uint64) (*domain.Pharmacy, error) {
	return repo.GetPharmacy(ctx, db, id)
}

// ListPharmacies proxies repo.ListPharmacies (index warm-up).
func (pharmacyRepoShim) ListPharmacies(ctx context.Context, db *gorm.DB) ([]domain.Pharmacy, error) {
	return repo.ListPharmacies(ctx, db)
}

// UpsertPharmacy proxies repo.UpsertPharmacy.
func (pharmacyRepoShim) UpsertPharmacy(ctx context.Context, db *gorm.DB, p *domain.Pharmacy) error {
	return repo.UpsertPharmacy(ctx, db, p)
}

// UpdatePharmacyStatus proxies repo.UpdatePharmacyStatus.
func (pharmacyRepoShim) UpdatePharmacyStatus(ctx context.Context, db *gorm.DB, id uint64, status domain.PharmacyStatus) (*domain.Pharmacy, error) {
	return repo.UpdatePharmacyStatus(ctx, db, id, status)
}

// prescriptionRepoShim adapts the prescription and history functions to
// services.PrescriptionRepo.
type prescriptionRepoShim struct{}

// GetPrescription proxies repo.GetPrescription.
func (prescriptionRepoShim) GetPrescription(ctx context.Context, db *gorm.DB, id uint64) (*domain.Prescription, error) {
	return repo.GetPrescription(ctx, db, id)
}

// ReassignPrescription proxies repo.ReassignPrescription (version CAS).
func (prescriptionRepoShim) ReassignPrescription(ctx context.Context, db *gorm.DB, id uint64, fromVersion int64, pharmacyID uint64, status domain.PrescriptionStatus) (bool, error) {
	return repo.ReassignPrescription(ctx, db, id, fromVersion, pharmacyID, status)
}

// CreateRerouteHistory proxies repo.CreateRerouteHistory.
func (prescriptionRepoShim) CreateRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID, fromID, toID uint64, reason, idemKey string) (*domain.RerouteHistory, error) {
	return repo.CreateRerouteHistory(ctx, db, prescriptionID, fromID, toID, reason, idemKey)
}

// CountRerouteHistory proxies repo.CountRerouteHistory (pagination support).
func (prescriptionRepoShim) CountRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID uint64) (int64, error) {
	return repo.CountRerouteHistory(ctx, db, prescriptionID)
}

// ListRerouteHistoryPage proxies repo.ListRerouteHistoryPage (pagination support).
func (prescriptionRepoShim) ListRerouteHistoryPage(ctx context.Context, db *gorm.DB, prescriptionID uint64, offset, limit int) ([]domain.RerouteHistory, error) {
	return repo.ListRerouteHistoryPage(ctx, db, prescriptionID, offset, limit)
}

// Infra carries the long-lived dependencies built in main. Nil fields get
// single-process defaults: the settings store falls back to the database,
// the index starts empty and locks are process-local.
type Infra struct {
	DB    *gorm.DB
	Store store.Store
	Index *geo.Index
	Locks lock.Locker
}

func (in Infra) withDefaults() Infra {
	if in.Store == nil {
		in.Store = store.NewGorm(in.DB)
	}
	if in.Index == nil {
		in.Index = geo.New()
	}
	if in.Locks == nil {
		in.Locks = lock.NewKeyed()
	}
	return in
}

// NewPharmacyService builds the directory service over db and idx using the
// repo package. Shared by RegisterRoutes, main and the admin CLI.
func NewPharmacyService(db *gorm.DB, idx *geo.Index) *services.PharmacyService {
	return services.NewPharmacyService(db, pharmacyRepoShim{}, idx)
}

// WarmIndex loads every pharmacy row into idx and returns the ids skipped
// for invalid coordinates.
func WarmIndex(ctx context.Context, db *gorm.DB, idx *geo.Index) ([]uint64, error) {
	return NewPharmacyService(db, idx).LoadIndex(ctx)
}

// rerouteRoute is the only route whose Idempotency-Key is backed by the
// ledger.
const rerouteRoute = "/prescriptions/customer/:id/reroute"

// ledgerScope maps a request to its ledger scope, matching the scope the
// reroute service writes.
func ledgerScope(c *gin.Context) (string, bool) {
	if c.Request.Method != http.MethodPost || !strings.HasSuffix(c.FullPath(), rerouteRoute) {
		return "", false
	}
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		return "", false
	}
	return "reroute:" + strconv.FormatUint(id, 10), true
}

// ledgerLookup reports whether (scope, key) already has a final outcome.
func ledgerLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, scope, key)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec.Outcome != domain.OutcomePending && !rec.Expired(now), nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per client/IP, bypass on replay)
//  9. CORS and Security headers
//  10. gzip
func RegisterRoutes(r *gin.Engine, infra Infra, cfg config.Config) {
	infra = infra.withDefaults()
	db := infra.DB
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", middleware.HeaderClientID},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		ledgerScope,
		ledgerLookup(db),
	))

	// 8) Token-bucket rate limiter per client/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderClientID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 10) Response compression; /metrics is registered above and stays plain.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/store/index/locks
	pharmacySvc := NewPharmacyService(db, infra.Index)
	walletSvc := services.NewCommissionService(infra.Store, services.SettingsInput{
		Currency:          cfg.Wallet.DefaultCurrency,
		CommissionPercent: cfg.Wallet.DefaultCommissionPercent,
		ConvenienceFee:    cfg.Wallet.DefaultConvenienceFee,
	}, pharmacySvc)
	rerouteSvc := services.NewRerouteService(db, prescriptionRepoShim{}, pharmacyRepoShim{}, infra.Index,
		ledger.New(db, cfg.IdempotencyTTL, cfg.Reroute.IdempotencyPending), infra.Locks)
	if cfg.Reroute.CandidateLimit > 0 {
		rerouteSvc.CandidateLimit = cfg.Reroute.CandidateLimit
	}
	if cfg.Reroute.CandidateMaxLimit > 0 {
		rerouteSvc.CandidateMaxLimit = cfg.Reroute.CandidateMaxLimit
	}
	h := handlers.New(walletSvc, rerouteSvc, pharmacySvc)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	{
		// Wallet settings and commission overrides
		api.GET("/admin/wallet/settings", h.GetWalletSettings)
		api.PUT("/admin/wallet/settings", h.UpdateWalletSettings)
		api.GET("/admin/wallet/commission/pharmacies/:id", h.GetCommissionOverride)
		api.PUT("/admin/wallet/commission/pharmacies/:id", h.PutCommissionOverride)
		api.DELETE("/admin/wallet/commission/pharmacies/:id", h.DeleteCommissionOverride)
		api.GET("/admin/wallet/commission/pharmacies/:id/effective", h.GetEffectiveCommission)

		// Pharmacy directory
		api.GET("/admin/pharmacies/:id", h.GetPharmacy)
		api.PUT("/admin/pharmacies/:id", h.UpsertPharmacy)
		api.PATCH("/admin/pharmacies/:id/status", h.UpdatePharmacyStatus)

		// Prescriptions and rerouting
		api.GET("/prescriptions/customer/:id", h.GetPrescription)
		api.GET("/prescriptions/customer/:id/reroute/candidates", h.ListRerouteCandidates)
		api.POST(rerouteRoute, middleware.RequireIdempotencyKey(), h.RerouteToPharmacy)
		api.GET("/prescriptions/customer/:id/reroute/history", h.ListRerouteHistory)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
