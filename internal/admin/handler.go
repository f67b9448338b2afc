// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/seller-billing/internal/billing"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/middleware"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// SellerBilling is the slice of the billing service operators may drive
// directly.
type SellerBilling interface {
	Reconcile(ctx context.Context, sellerID string) (*billing.SyncResult, error)
	OverrideTier(ctx context.Context, sellerID, tier string) (*profile.Profile, error)
}

type Handler struct {
	dbStats    func() sql.DBStats
	redisStats func() *redis.PoolStats
	redisPing  func(ctx context.Context) error
	dbPing     func(ctx context.Context) error
	billing    SellerBilling
	validator  *validator.Validate
}

type HandlerConfig struct {
	DBStats    func() sql.DBStats
	RedisStats func() *redis.PoolStats
	RedisPing  func(ctx context.Context) error
	DBPing     func(ctx context.Context) error
	Billing    SellerBilling
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		dbStats:    cfg.DBStats,
		redisStats: cfg.RedisStats,
		redisPing:  cfg.RedisPing,
		dbPing:     cfg.DBPing,
		billing:    cfg.Billing,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/stats", h.GetSystemStats)
		r.Get("/stats/db", h.GetDatabaseStats)
		r.Get("/stats/redis", h.GetRedisStats)
		r.Get("/stats/runtime", h.GetRuntimeStats)

		r.Post("/sellers/{sellerID}/sync", h.SyncSeller)
		r.Put("/sellers/{sellerID}/tier", h.OverrideSellerTier)
	})
}

// SyncSeller reconciles one seller against the processor on an operator's
// request.
func (h *Handler) SyncSeller(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")

	result, err := h.billing.Reconcile(r.Context(), sellerID)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "admin seller sync",
		"admin_id", middleware.GetUserID(r.Context()),
		"admin_role", middleware.GetUserRole(r.Context()),
		"seller_id", sellerID,
	)
	core.OK(w, billing.ToSyncResponse(result))
}

// OverrideSellerTier sets a seller's tier without going through the
// processor and drops any staged change.
func (h *Handler) OverrideSellerTier(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")

	var req OverrideTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	updated, err := h.billing.OverrideTier(r.Context(), sellerID, req.Tier)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "admin tier override",
		"admin_id", middleware.GetUserID(r.Context()),
		"admin_role", middleware.GetUserRole(r.Context()),
		"seller_id", sellerID,
		"tier", updated.Tier,
	)
	core.OK(w, billing.ToProfileResponse(updated))
}

func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbHealthy := true
	if h.dbPing != nil {
		if err := h.dbPing(ctx); err != nil {
			dbHealthy = false
		}
	}

	redisHealthy := true
	if h.redisPing != nil {
		if err := h.redisPing(ctx); err != nil {
			redisHealthy = false
		}
	}

	response := SystemStatsResponse{
		Database: DatabaseStatus{
			Healthy: dbHealthy,
			Stats:   h.getDBStats(),
		},
		Redis: RedisStatus{
			Healthy: redisHealthy,
			Stats:   h.getRedisStats(),
		},
		Runtime: readRuntimeStats(),
	}

	core.OK(w, response)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getDBStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getRedisStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, readRuntimeStats())
}

func readRuntimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

func (h *Handler) getDBStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}

	stats := h.dbStats()
	return &DBPoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.String(),
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

func (h *Handler) getRedisStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}

	stats := h.redisStats()
	return &RedisPoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
		StaleConns: stats.StaleConns,
	}
}
