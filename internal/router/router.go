// Package router builds the optional operator-facing HTTP surface: a
// storage health check and a small runtime summary. It is never exposed
// to bot users.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/patric-chuzhbe/vkccbot/internal/ipchecker"
	"github.com/patric-chuzhbe/vkccbot/internal/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type cacheInspector interface {
	Len() int
}

// Router serves the debug endpoints.
type Router struct {
	mux       *chi.Mux
	db        pinger
	cache     cacheInspector
	checker   *ipchecker.IPChecker
	startedAt time.Time
}

// New assembles the debug router. The IP checker guards every endpoint;
// a checker without a configured subnet admits everyone.
func New(db pinger, cache cacheInspector, checker *ipchecker.IPChecker) *Router {
	r := &Router{
		mux:       chi.NewRouter(),
		db:        db,
		cache:     cache,
		checker:   checker,
		startedAt: time.Now(),
	}

	r.mux.Use(logger.WithLoggingHTTPMiddleware)
	r.mux.Use(r.withTrustedSubnet)
	r.mux.Get("/ping", r.getPing)
	r.mux.Get("/debug/summary", r.getSummary)

	return r
}

func (r *Router) withTrustedSubnet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		clientIP, err := r.checker.GetClientIP(req)
		if err != nil || !r.checker.Admits(clientIP) {
			res.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(res, req)
	})
}

// ServeHTTP makes Router an http.Handler.
func (r *Router) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(res, req)
}

func (r *Router) getPing(res http.ResponseWriter, req *http.Request) {
	if err := r.db.Ping(req.Context()); err != nil {
		logger.Log.Errorw("storage ping failed", "err", err)
		res.WriteHeader(http.StatusInternalServerError)
		return
	}
	res.WriteHeader(http.StatusOK)
}

type summaryResponse struct {
	UptimeSeconds   int64 `json:"uptime_seconds"`
	StatsCachedKeys int   `json:"stats_cached_keys"`
}

func (r *Router) getSummary(res http.ResponseWriter, req *http.Request) {
	summary := summaryResponse{
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
	}
	if r.cache != nil {
		summary.StatsCachedKeys = r.cache.Len()
	}

	res.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(res).Encode(summary); err != nil {
		logger.Log.Errorw("encoding the summary failed", "err", err)
	}
}
