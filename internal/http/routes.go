package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/notify"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
	"github.com/dropDatabas3/rebano/internal/verify"
)

// auditCacheKey es la key del último reporte de auditoría.
const auditCacheKey = "audit:report"

// Deps son las dependencias del router. Auditor, Engine y Harness comparten stores.
type Deps struct {
	Auditor  *audit.Auditor
	Engine   *reconcile.Engine
	Harness  *verify.Harness
	Notifier *notify.Notifier

	// Cache guarda el último reporte de GET /v1/audit por AuditTTL.
	Cache    cache.Client
	AuditTTL time.Duration

	// Ping verifica el store para /readyz.
	Ping func(ctx context.Context) error

	// AdminToken protege /v1. Vacío = sin auth.
	AdminToken string

	// Metrics es el handler de /metrics (nil = no se expone).
	Metrics http.Handler
}

type handlers struct{ d Deps }

// NewRouter arma el router chi.
func NewRouter(d Deps) http.Handler {
	h := &handlers{d: d}
	r := chi.NewRouter()
	r.Use(WithRequestID, WithLogging, WithRecover, WithMetrics, WithSecurityHeaders)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireToken(d.AdminToken))
		r.Get("/audit", h.audit)
		r.Post("/reconcile", h.reconcile)
		r.Post("/verify", h.verify)
		r.Get("/people", h.people)
	})
	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz verifica el store y el cache; con cache incluye sus estadísticas.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if h.d.Ping != nil {
		if err := h.d.Ping(ctx); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	body := map[string]any{"status": "ready"}
	if h.d.Cache != nil {
		st, err := h.d.Cache.Stats(ctx)
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "cache_not_ready", err.Error())
			return
		}
		body["cache"] = st
	}
	WriteJSON(w, http.StatusOK, body)
}

// GET /v1/audit[?fresh=1]
func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx)
	fresh := r.URL.Query().Get("fresh")
	if h.d.Cache != nil && fresh == "" {
		raw, err := h.d.Cache.Get(ctx, auditCacheKey)
		switch {
		case err == nil:
			w.Header().Set("X-Cache", "hit")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(raw))
			return
		case !cache.IsNotFound(err):
			log.Warn("audit cache read failed", logger.Err(err))
		}
	}

	rep, err := h.d.Auditor.Run(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.d.Cache != nil {
		if b, err := json.Marshal(rep); err == nil {
			if err := h.d.Cache.Set(ctx, auditCacheKey, string(b), h.d.AuditTTL); err != nil {
				log.Warn("audit cache write failed", logger.Err(err))
			}
		}
	}
	w.Header().Set("X-Cache", "miss")
	WriteJSON(w, http.StatusOK, rep)
}

func (h *handlers) invalidateAudit(ctx context.Context) {
	if h.d.Cache == nil {
		return
	}
	if err := h.d.Cache.Delete(ctx, auditCacheKey); err != nil {
		logger.From(ctx).Warn("audit cache invalidation failed", logger.Err(err))
	}
}

type reconcileRequest struct {
	Policy reconcile.Policy `json:"policy"`
	// Token del reporte sobre el que decidió el operador. Si no coincide con
	// el estado actual se rechaza con 409.
	Token string `json:"token,omitempty"`
}

// POST /v1/reconcile
func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Policy.Empty() {
		WriteError(w, http.StatusBadRequest, "empty_policy", "la policy no habilita ninguna categoría")
		return
	}
	ctx := r.Context()
	rep, err := h.d.Auditor.Run(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Token != "" && req.Token != rep.Token {
		WriteError(w, http.StatusConflict, "inconsistent_input", "el token no coincide con el estado actual")
		return
	}
	sum, err := h.d.Engine.Reconcile(ctx, rep, req.Policy)
	if !req.Policy.DryRun && sum != nil {
		h.invalidateAudit(ctx)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

type verifyRequest struct {
	Policy reconcile.Policy `json:"policy"`
}

// POST /v1/verify
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	rep, err := h.d.Harness.Run(ctx, req.Policy)
	if rep != nil && !req.Policy.DryRun {
		h.invalidateAudit(ctx)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.d.Notifier.Report(ctx, rep); err != nil {
		logger.From(ctx).Warn("verification notification failed", logger.Err(err))
	}
	WriteJSON(w, http.StatusOK, rep)
}

// GET /v1/people?email=
func (h *handlers) people(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "falta email")
		return
	}
	p, err := h.d.Auditor.Inspect(r.Context(), email)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

