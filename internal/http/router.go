// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID before logging before recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/config"
	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/http/handlers"
	"github.com/mindwell/go-scheduling-backend/internal/http/middleware"
	"github.com/mindwell/go-scheduling-backend/internal/recommender"
	"github.com/mindwell/go-scheduling-backend/internal/repo"
	"github.com/mindwell/go-scheduling-backend/internal/services"
)

// The repo shims below adapt the repository free functions to the narrow
// interfaces each service expects. Services stay decoupled from the concrete
// repo package while reusing its functions.

// itemRepoShim satisfies services.ItemRepo.
type itemRepoShim struct{}

func (itemRepoShim) CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	return repo.CreateItem(ctx, db, item)
}

func (itemRepoShim) GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error) {
	return repo.GetItem(ctx, db, userID, id)
}

func (itemRepoShim) SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	return repo.SaveItem(ctx, db, item)
}

func (itemRepoShim) DeleteItem(ctx context.Context, db *gorm.DB, userID, id string) error {
	return repo.DeleteItem(ctx, db, userID, id)
}

func (itemRepoShim) ListItemsPage(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time, offset, limit int) ([]domain.ScheduleItem, error) {
	return repo.ListItemsPage(ctx, db, userID, typ, until, offset, limit)
}

func (itemRepoShim) CountItems(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time) (int64, error) {
	return repo.CountItems(ctx, db, userID, typ, until)
}

func (itemRepoShim) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return repo.ListActiveItems(ctx, db, userID)
}

// conflictRepoShim satisfies services.ConflictRepo.
type conflictRepoShim struct{}

func (conflictRepoShim) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return repo.ListActiveItems(ctx, db, userID)
}

func (conflictRepoShim) ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	return repo.ListConflicts(ctx, db, userID, status)
}

func (conflictRepoShim) GetConflict(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Conflict, error) {
	return repo.GetConflict(ctx, db, userID, id)
}

func (conflictRepoShim) ReplaceUnresolved(ctx context.Context, db *gorm.DB, userID string, conflicts []domain.Conflict) error {
	return repo.ReplaceUnresolved(ctx, db, userID, conflicts)
}

func (conflictRepoShim) ResolveConflict(ctx context.Context, db *gorm.DB, userID, id string, status domain.ResolutionStatus, action, notes string) error {
	return repo.ResolveConflict(ctx, db, userID, id, status, action, notes)
}

func (conflictRepoShim) SettledPairKeys(ctx context.Context, db *gorm.DB, userID string) (map[string]bool, error) {
	return repo.SettledPairKeys(ctx, db, userID)
}

// analyticsRepoShim satisfies services.AnalyticsRepo.
type analyticsRepoShim struct{}

func (analyticsRepoShim) ListItemsForDay(ctx context.Context, db *gorm.DB, userID string, day time.Time) ([]domain.ScheduleItem, error) {
	return repo.ListItemsForDay(ctx, db, userID, day)
}

func (analyticsRepoShim) UpsertRollup(ctx context.Context, db *gorm.DB, r *domain.DailyRollup) error {
	return repo.UpsertRollup(ctx, db, r)
}

func (analyticsRepoShim) GetRollup(ctx context.Context, db *gorm.DB, userID string, day time.Time) (*domain.DailyRollup, error) {
	return repo.GetRollup(ctx, db, userID, day)
}

func (analyticsRepoShim) ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	return repo.ListRollups(ctx, db, userID, from, to)
}

func (analyticsRepoShim) ListUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	return repo.ListUserIDs(ctx, db)
}

// candidateRepoShim satisfies services.CandidateRepo.
type candidateRepoShim struct{}

func (candidateRepoShim) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return repo.ListActiveItems(ctx, db, userID)
}

func (candidateRepoShim) ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	return repo.ListConflicts(ctx, db, userID, status)
}

func (candidateRepoShim) ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	return repo.ListRollups(ctx, db, userID, from, to)
}

func (candidateRepoShim) CreateCandidate(ctx context.Context, db *gorm.DB, c *domain.OptimizationCandidate) error {
	return repo.CreateCandidate(ctx, db, c)
}

func (candidateRepoShim) GetCandidate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.OptimizationCandidate, error) {
	return repo.GetCandidate(ctx, db, userID, id)
}

func (candidateRepoShim) ListCandidates(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.OptimizationCandidate, error) {
	return repo.ListCandidates(ctx, db, userID, limit)
}

func (candidateRepoShim) MarkCandidateApplied(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error {
	return repo.MarkCandidateApplied(ctx, db, userID, id, at)
}

func (candidateRepoShim) SaveCandidateFeedback(ctx context.Context, db *gorm.DB, userID, id, feedback string, effectiveness *float64) error {
	return repo.SaveCandidateFeedback(ctx, db, userID, id, feedback, effectiveness)
}

func (candidateRepoShim) GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error) {
	return repo.GetItem(ctx, db, userID, id)
}

func (candidateRepoShim) SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	return repo.SaveItem(ctx, db, item)
}

// templateRepoShim satisfies services.TemplateRepo.
type templateRepoShim struct{}

func (templateRepoShim) CreateTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error {
	return repo.CreateTemplate(ctx, db, t)
}

func (templateRepoShim) GetTemplate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleTemplate, error) {
	return repo.GetTemplate(ctx, db, userID, id)
}

func (templateRepoShim) ListTemplates(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleTemplate, error) {
	return repo.ListTemplates(ctx, db, userID)
}

func (templateRepoShim) SaveTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error {
	return repo.SaveTemplate(ctx, db, t)
}

func (templateRepoShim) DeleteTemplate(ctx context.Context, db *gorm.DB, userID, id string) error {
	return repo.DeleteTemplate(ctx, db, userID, id)
}

func (templateRepoShim) TouchTemplateUsage(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error {
	return repo.TouchTemplateUsage(ctx, db, userID, id, at)
}

func (templateRepoShim) ListTemplateSlots(ctx context.Context, db *gorm.DB, userID, templateID string) (map[time.Time]bool, error) {
	return repo.ListTemplateSlots(ctx, db, userID, templateID)
}

func (templateRepoShim) CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	return repo.CreateItem(ctx, db, item)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and
// rate limiting, CORS and security headers, health and metrics endpoints, and
// then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rec recommender.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scopeID, key string, now time.Time) (bool, error) {
			record, err := repo.GetIdempotency(ctx, db, userID, scopeID, key, now)
			if err != nil || record == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps
		// tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when allowlisted (in addition to
		// gin-contrib/cors).
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
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
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

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services <- repo/db/recommender
	conflictSvc := services.NewConflictService(db, conflictRepoShim{})
	scheduleSvc := services.NewScheduleService(db, itemRepoShim{}, conflictSvc)
	analyticsSvc := services.NewAnalyticsService(db, analyticsRepoShim{})
	optimizeSvc := services.NewOptimizationService(db, candidateRepoShim{}, rec, conflictSvc)
	if cfg.Recommender.Timeout > 0 {
		optimizeSvc.ProposeTimeout = cfg.Recommender.Timeout
	}
	templateSvc := services.NewTemplateService(db, templateRepoShim{}, conflictSvc)

	h := handlers.New(db, scheduleSvc, conflictSvc, analyticsSvc, optimizeSvc, templateSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	sched := api.Group("/schedule")
	{
		// Items
		sched.POST("/items", h.CreateItem)
		sched.GET("/items", h.ListItems)
		sched.GET("/items/:id", h.GetItem)
		sched.PUT("/items/:id", h.UpdateItem)
		sched.DELETE("/items/:id", h.DeleteItem)
		sched.POST("/items/:id/complete", h.CompleteItem)
		sched.GET("/items/:id/occurrences", h.ItemOccurrences)
		sched.GET("/agenda", h.Agenda)

		// Conflicts
		sched.GET("/conflicts", h.ListConflicts)
		sched.POST("/conflicts/recompute", h.RecomputeConflicts)
		sched.POST("/conflicts/:id/resolve", h.ResolveConflict)

		// Analytics
		sched.GET("/analytics", h.ListRollups)
		sched.GET("/analytics/:day", h.GetRollup)
		sched.POST("/analytics/recompute", h.RecomputeRollup)

		// Optimization
		sched.POST("/optimize", h.ProposeOptimization)
		sched.GET("/optimizations", h.ListCandidates)
		sched.GET("/optimizations/:id", h.GetCandidate)
		sched.POST("/optimizations/:id/apply", h.ApplyCandidate)
		sched.POST("/optimizations/:id/feedback", h.CandidateFeedback)

		// Templates
		sched.POST("/templates", h.CreateTemplate)
		sched.GET("/templates", h.ListTemplates)
		sched.GET("/templates/:id", h.GetTemplate)
		sched.PUT("/templates/:id", h.UpdateTemplate)
		sched.DELETE("/templates/:id", h.DeleteTemplate)
		sched.POST("/templates/:id/apply", h.ApplyTemplate)
	}
}

// NewAnalyticsService builds the analytics service over the shared repo
// layer. cmd/server uses it to drive the nightly rollup job with the same
// wiring the HTTP layer uses.
func NewAnalyticsService(db *gorm.DB) *services.AnalyticsService {
	return services.NewAnalyticsService(db, analyticsRepoShim{})
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
