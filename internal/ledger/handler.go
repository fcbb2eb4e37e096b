package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-scm/meridian-scm/internal/platform/httpx"
	"github.com/meridian-scm/meridian-scm/internal/rbac"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

// Handler exposes read-only views over the stock ledger. All writes go
// through the workflow modules; these endpoints only answer "what is where"
// and "where has this serial been".
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView))
		r.Get("/records", h.listRecords)
		r.Get("/records/{location}/{product}", h.getRecord)
		r.Get("/records/{location}/{product}/serials", h.listSerials)
		r.Get("/serials/{serial}", h.getSerial)
		r.Get("/serials/{serial}/history", h.serialHistory)
	})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	filter := RecordFilter{}
	q := r.URL.Query()
	if raw := q.Get("location"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.LocationID = id
		}
	}
	if raw := q.Get("product"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.ProductID = id
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}
	records, err := h.service.Records(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock records", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	locationID, productID, ok := h.recordPath(w, r)
	if !ok {
		return
	}
	record, err := h.service.Record(r.Context(), locationID, productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": record})
}

func (h *Handler) listSerials(w http.ResponseWriter, r *http.Request) {
	locationID, productID, ok := h.recordPath(w, r)
	if !ok {
		return
	}
	record, err := h.service.Record(r.Context(), locationID, productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	serials, err := h.service.Serials(r.Context(), record.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": serials})
}

func (h *Handler) getSerial(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serial")
	if serialNumber == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "missing serial number")
		return
	}
	entry, err := h.service.Serial(r.Context(), serialNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entry})
}

func (h *Handler) serialHistory(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serial")
	if serialNumber == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "missing serial number")
		return
	}
	events, err := h.service.SerialHistory(r.Context(), serialNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": events})
}

func (h *Handler) recordPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	locationID, err := strconv.ParseInt(chi.URLParam(r, "location"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid location id")
		return 0, 0, false
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "product"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return 0, 0, false
	}
	return locationID, productID, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrSerialNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such ledger entry")
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}
