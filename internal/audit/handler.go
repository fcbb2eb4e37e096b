package audit

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/meridian-scm/meridian-scm/internal/platform/httpx"
	"github.com/meridian-scm/meridian-scm/internal/rbac"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// Handler exposes the audit timeline and approval trails.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes. The CSV export is rate limited per
// user since it scans without paging.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAuditView))
		r.Get("/", h.timeline)
		r.Get("/approvals", h.approvalTrail)
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Get("/export.csv", h.exportCSV)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if user := strings.TrimSpace(sess.User()); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Timeline(r.Context(), h.filters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": result.Rows, "paging": result.Paging})
}

func (h *Handler) approvalTrail(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	ref, err := uuid.Parse(r.URL.Query().Get("ref"))
	if module == "" || err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "module and ref are required")
		return
	}
	trail, err := h.service.ApprovalTrail(r.Context(), module, ref)
	if err != nil {
		h.logger.Error("approval trail", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": trail})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Export(r.Context(), h.filters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"at", "actor_id", "action", "entity", "entity_id"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("write audit csv", slog.Any("error", err))
	}
}

func (h *Handler) filters(r *http.Request) TimelineFilters {
	filters := TimelineFilters{}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.To = t
		}
	}
	if raw := q.Get("actor"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.ActorID = id
		}
	}
	filters.Entity = q.Get("entity")
	filters.Action = q.Get("action")
	if raw := q.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filters.Page = n
		}
	}
	if raw := q.Get("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filters.PageSize = n
		}
	}
	return filters
}
