package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/panelsweep/internal/reconcile"
	"github.com/loykin/panelsweep/internal/scheduler"
	"github.com/loykin/panelsweep/internal/store"
)

// Runner is the daemon side of the API.
type Runner interface {
	Trigger() error
	Running() bool
	LastSummary() (reconcile.Summary, bool)
	NextRun() time.Time
	Tracked(ctx context.Context) (store.Snapshot, error)
}

// Router provides embeddable HTTP handlers for the sweeper daemon.
// Endpoints:
//
//	GET  {basePath}/healthz
//	GET  {basePath}/status
//	GET  {basePath}/state        query: phase=inactive|suspended (optional)
//	GET  {basePath}/state/:id
//	POST {basePath}/run          202 when started, 409 while a pass runs
//
// When a token is configured every endpoint except healthz requires
// "Authorization: Bearer <token>".
type Router struct {
	runner   Runner
	basePath string
	token    string
	logger   *slog.Logger
}

type Options struct {
	BasePath string
	Token    string
	Logger   *slog.Logger
}

func NewRouter(runner Runner, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		runner:   runner,
		basePath: sanitizeBase(opts.BasePath),
		token:    opts.Token,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)

	authed := group.Group("", r.requireToken())
	authed.GET("/status", r.handleStatus)
	authed.GET("/state", r.handleState)
	authed.GET("/state/:id", r.handleStateRecord)
	authed.POST("/run", r.handleRun)
	return g
}

// --- Wire types ---

type errorResp struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Running bool               `json:"running"`
	NextRun *time.Time         `json:"next_run,omitempty"`
	LastRun *reconcile.Summary `json:"last_run,omitempty"`
}

type StateRecord struct {
	ID            string       `json:"id"`
	Phase         store.Phase  `json:"phase"`
	InactiveSince *time.Time   `json:"inactive_since,omitempty"`
	SuspendedAt   *time.Time   `json:"suspended_at,omitempty"`
	SuspendedBy   store.Origin `json:"suspended_by,omitempty"`
}

type StateResponse struct {
	Inactive  int           `json:"inactive"`
	Suspended int           `json:"suspended"`
	Records   []StateRecord `json:"records"`
}

type RunResponse struct {
	Started bool `json:"started"`
}

func stateRecord(id string, rec store.Record) StateRecord {
	return StateRecord{
		ID:            id,
		Phase:         rec.Phase(),
		InactiveSince: rec.InactiveSince,
		SuspendedAt:   rec.SuspendedAt,
		SuspendedBy:   rec.SuspendedBy,
	}
}

// --- Handlers ---

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResponse{Running: r.runner.Running()}
	if next := r.runner.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	if last, ok := r.runner.LastSummary(); ok {
		resp.LastRun = &last
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleState(c *gin.Context) {
	phase := store.Phase(c.Query("phase"))
	if phase != store.PhaseNone && phase != store.PhaseInactive && phase != store.PhaseSuspended {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "phase must be inactive or suspended"})
		return
	}
	snap, err := r.runner.Tracked(c.Request.Context())
	if err != nil {
		r.logger.Error("load state", "error", err)
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "state store unavailable: " + err.Error()})
		return
	}
	counts := snap.Count()
	resp := StateResponse{
		Inactive:  counts[store.PhaseInactive],
		Suspended: counts[store.PhaseSuspended],
		Records:   make([]StateRecord, 0, len(snap)),
	}
	for _, id := range snap.IDs() {
		rec := snap[id]
		if phase != store.PhaseNone && rec.Phase() != phase {
			continue
		}
		resp.Records = append(resp.Records, stateRecord(id, rec))
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStateRecord(c *gin.Context) {
	id := c.Param("id")
	if !isSafeID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}
	snap, err := r.runner.Tracked(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "state store unavailable: " + err.Error()})
		return
	}
	rec, ok := snap[id]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "server " + id + " is not tracked"})
		return
	}
	writeJSON(c, http.StatusOK, stateRecord(id, rec))
}

func (r *Router) handleRun(c *gin.Context) {
	err := r.runner.Trigger()
	switch {
	case errors.Is(err, scheduler.ErrPassRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		r.logger.Info("pass triggered via API", "remote", c.ClientIP())
		writeJSON(c, http.StatusAccepted, RunResponse{Started: true})
	}
}

// --- Middleware ---

func (r *Router) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		scheme, tok, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(tok)), []byte(r.token)) != 1 {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
