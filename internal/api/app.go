// Package api exposes the agent's status and control surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leshsec/lesh/internal/agent"
	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/metrics"
	"github.com/leshsec/lesh/internal/threat"
)

// summaryWindow bounds the trailing period the analytics summary covers.
const summaryWindow = 24 * time.Hour

type App struct {
	cfg       *config.Config
	agent     *agent.Orchestrator
	collector *metrics.Collector
}

func NewApp(cfg *config.Config, orch *agent.Orchestrator, collector *metrics.Collector) *App {
	return &App{cfg: cfg, agent: orch, collector: collector}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get("/readyz", a.readyz)
	r.Method(http.MethodGet, "/metrics", a.collector.Handler(metrics.HandlerOptions{
		ActiveThreats: func() int {
			_, active := a.agent.Store().Counts()
			return active
		},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Get("/status", a.getStatus)
		r.Get("/threats", a.listThreats)
		r.Get("/threats/{id}", a.getThreat)
		r.Post("/threats/{id}/resolve", a.resolveThreat)
		r.Post("/scan", a.scan)
		r.Get("/analytics/summary", a.analyticsSummary)
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	authType := a.cfg.Auth.Type
	if authType == "" || strings.EqualFold(authType, "none") {
		return next
	}
	if strings.EqualFold(authType, "api_key") {
		header := a.cfg.Auth.APIKey.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		allowed := make(map[string]struct{}, len(a.cfg.Auth.APIKey.Keys))
		for _, k := range a.cfg.Auth.APIKey.Keys {
			if k != "" {
				allowed[k] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "api key auth enabled but no keys configured",
				})
			})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(header)
			if _, ok := allowed[key]; key == "" || !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unsupported auth type"})
	})
}

func (a *App) readyz(w http.ResponseWriter, r *http.Request) {
	if !a.agent.Status().Running {
		writeText(w, http.StatusServiceUnavailable, "not running\n")
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

func (a *App) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.agent.Status())
}

func (a *App) listThreats(w http.ResponseWriter, r *http.Request) {
	st := a.agent.Store()
	if r.URL.Query().Get("active") == "true" {
		writeJSON(w, http.StatusOK, st.ListActive())
		return
	}
	writeJSON(w, http.StatusOK, st.ListAll())
}

func (a *App) getThreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := a.agent.Store().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "threat not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *App) resolveThreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Details string `json:"details"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}
	if req.Details == "" {
		req.Details = "resolved by operator"
	}

	st := a.agent.Store()
	if st.MarkResolved(id, "manual", req.Details) {
		t, _ := st.Get(id)
		writeJSON(w, http.StatusOK, t)
		return
	}
	if t, ok := st.Get(id); ok {
		// Already resolved; report the current record rather than an error.
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "threat not found"})
}

func (a *App) scan(w http.ResponseWriter, r *http.Request) {
	found, err := a.agent.Scan(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if found == nil {
		found = []threat.Threat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"new_threats": len(found),
		"threats":     found,
	})
}

func (a *App) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	rec := a.agent.Recorder()
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "analytics disabled"})
		return
	}
	s, err := rec.Summarize(r.Context(), summaryWindow)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
