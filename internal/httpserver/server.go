// Package httpserver exposes the marketplace's REST API.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/health"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/metrics"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/pricing"
	"github.com/subsplit/subsplit/internal/ratelimit"
	"github.com/subsplit/subsplit/internal/usage"
)

// Server exposes REST endpoints for the Subsplit marketplace.
type Server struct {
	cards     *card.Service
	pools     *pool.Service
	market    *marketplace.Service
	pricing   *pricing.Engine
	runner    *platform.Runner
	usageLog  usage.Store
	accounts  account.Store
	limiter   *ratelimit.Middleware
	collector *metrics.Collector
	checker   *health.Checker
	logger    *log.Logger
}

// Deps bundles the services the HTTP layer fronts. Limiter, Collector and
// Checker are optional.
type Deps struct {
	Cards     *card.Service
	Pools     *pool.Service
	Market    *marketplace.Service
	Pricing   *pricing.Engine
	Runner    *platform.Runner
	UsageLog  usage.Store
	Accounts  account.Store
	Limiter   *ratelimit.Middleware
	Collector *metrics.Collector
	Checker   *health.Checker
	Logger    *log.Logger
}

// New constructs a Server with the required dependencies.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[http] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		cards:     d.Cards,
		pools:     d.Pools,
		market:    d.Market,
		pricing:   d.Pricing,
		runner:    d.Runner,
		usageLog:  d.UsageLog,
		accounts:  d.Accounts,
		limiter:   d.Limiter,
		collector: d.Collector,
		checker:   d.Checker,
		logger:    logger,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.collector != nil {
		r.Use(s.metricsMiddleware)
	}

	r.Get("/health", s.handleHealth)
	if s.collector != nil {
		r.Get("/metrics", s.handleMetrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Wrap)
		}

		api.Post("/cards", s.handleCardGenerate)
		api.Post("/cards/validate", s.handleCardValidate)
		api.Get("/cards/{id}", s.handleCardGet)
		api.Post("/cards/{id}/charge", s.handleCardCharge)
		api.Post("/cards/{id}/deactivate", s.handleCardDeactivate)
		api.Get("/cards/{id}/usage", s.handleCardUsage)

		api.Get("/marketplace/cards", s.handleMarketBrowse)
		api.Post("/marketplace/cards/{id}/purchase", s.handleMarketPurchase)
		api.Get("/marketplace/purchases", s.handleMarketPurchases)
		api.Get("/marketplace/sales", s.handleMarketSales)

		api.Post("/pools", s.handlePoolCreate)
		api.Get("/pools", s.handlePoolList)
		api.Get("/pools/{id}/stats", s.handlePoolStats)
		api.Post("/pools/{id}/contribute", s.handlePoolContribute)
		api.Post("/pools/{id}/refill", s.handlePoolRefill)
		api.Post("/pools/{id}/sessions", s.handlePoolSessionCreate)
		api.Post("/pools/sessions/{id}/use", s.handlePoolSessionUse)
		api.Post("/pools/sessions/{id}/complete", s.handlePoolSessionComplete)

		api.Get("/pricing/multiplier", s.handlePricingMultiplier)
		api.Get("/pricing/trend", s.handlePricingTrend)
		api.Get("/pricing/predict", s.handlePricingPredict)
		api.Post("/pricing/cards/{id}/update", s.handlePricingUpdateCard)
		api.Post("/pricing/bulk-update", s.handlePricingBulkUpdate)

		api.Post("/sessions", s.handleSessionStart)
		api.Get("/sessions", s.handleSessionList)
		api.Post("/sessions/{id}/execute", s.handleSessionExecute)
		api.Post("/sessions/{id}/end", s.handleSessionEnd)

		api.Get("/usage", s.handleUserUsage)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
		return
	}
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		s.collector.RecordRequestStart(endpoint)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.collector.RecordRequestEnd(endpoint)
		s.collector.RecordRequest(endpoint, time.Since(start))
		if rec.status >= 500 {
			s.collector.RecordError(endpoint)
		}
		if rec.status == http.StatusTooManyRequests {
			s.collector.RecordRateLimitHit(r.Header.Get("X-User-ID"))
		}
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondDomainError maps sentinel errors onto HTTP statuses: validation
// 400, missing entities 404, state conflicts 409, uncovered amounts 402.
// Anything unclassified is treated as a storage-layer failure and surfaces
// as 503.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	s.respondError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, card.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrAmountOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, card.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientSourceCredits),
		errors.Is(err, pool.ErrInsufficientPoolBalance),
		errors.Is(err, marketplace.ErrInsufficientFunds),
		errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, account.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, platform.ErrNotSessionOwner):
		return http.StatusForbidden
	case errors.Is(err, card.ErrNotFound),
		errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, pool.ErrSessionNotFound),
		errors.Is(err, platform.ErrSessionNotFound),
		errors.Is(err, marketplace.ErrCardNotForSale),
		errors.Is(err, account.ErrUserNotFound),
		errors.Is(err, account.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, card.ErrNotActive),
		errors.Is(err, card.ErrExpired),
		errors.Is(err, card.ErrDepleted),
		errors.Is(err, card.ErrNotUsable),
		errors.Is(err, card.ErrAlreadyPurchased),
		errors.Is(err, card.ErrDuplicateNumber),
		errors.Is(err, pool.ErrPoolNotActive),
		errors.Is(err, pool.ErrSessionNotActive),
		errors.Is(err, pool.ErrAllocationExceeded),
		errors.Is(err, platform.ErrSessionNotActive),
		errors.Is(err, marketplace.ErrOwnCard):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// callerID extracts the authenticated user from the X-User-ID header.
// Authentication proper sits in front of this service; the header carries
// the resolved identity.
func (s *Server) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, errors.New("missing or invalid X-User-ID header"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}

func queryFloat(r *http.Request, name string, fallback float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return fallback
}
