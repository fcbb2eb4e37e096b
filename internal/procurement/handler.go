package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/platform/httpx"
	"github.com/meridian-scm/meridian-scm/internal/rbac"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

// Handler exposes purchasing over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/receipts", h.listReceipts)
		r.Get("/receipts/{id}", h.getReceipt)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementEdit))
		r.Post("/orders", h.createOrder)
		r.Post("/orders/{id}/submit", h.submitOrder)
		r.Post("/orders/{id}/approve", h.approveOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/receipts", h.createReceipt)
		r.Post("/receipts/{id}/post", h.postReceipt)
		r.Post("/receipts/{id}/cancel", h.cancelReceipt)
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, total, err := h.service.ListPurchaseOrders(r.Context(), h.filter(r))
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": orders, "total": total})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, lines, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": po, "lines": lines})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input CreatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": po})
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPO(w, r, func(id, actorID int64, req noteRequest) (*PurchaseOrder, error) {
		return h.service.SubmitPurchaseOrder(r.Context(), id, actorID)
	})
}

func (h *Handler) approveOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPO(w, r, func(id, actorID int64, req noteRequest) (*PurchaseOrder, error) {
		return h.service.ApprovePurchaseOrder(r.Context(), id, actorID, req.Note)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPO(w, r, func(id, actorID int64, req noteRequest) (*PurchaseOrder, error) {
		return h.service.CancelPurchaseOrder(r.Context(), id, actorID, req.Note)
	})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, total, err := h.service.ListGoodsReceipts(r.Context(), h.filter(r))
	if err != nil {
		h.logger.Error("list goods receipts", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": receipts, "total": total})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	grn, lines, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": grn, "lines": lines})
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input CreateGRNInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), input, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": grn})
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	h.transitionGRN(w, r, func(id, actorID int64, req noteRequest) (*GoodsReceipt, error) {
		return h.service.PostGoodsReceipt(r.Context(), id, actorID)
	})
}

func (h *Handler) cancelReceipt(w http.ResponseWriter, r *http.Request) {
	h.transitionGRN(w, r, func(id, actorID int64, req noteRequest) (*GoodsReceipt, error) {
		return h.service.CancelGoodsReceipt(r.Context(), id, actorID, req.Note)
	})
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) transitionPO(w http.ResponseWriter, r *http.Request, fn func(id, actorID int64, req noteRequest) (*PurchaseOrder, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
			return
		}
	}
	po, err := fn(id, actorID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": po})
}

func (h *Handler) transitionGRN(w http.ResponseWriter, r *http.Request, fn func(id, actorID int64, req noteRequest) (*GoodsReceipt, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
			return
		}
	}
	grn, err := fn(id, actorID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": grn})
}

func (h *Handler) filter(r *http.Request) ListFilter {
	f := ListFilter{}
	q := r.URL.Query()
	if raw := q.Get("supplier"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.SupplierID = &id
		}
	}
	if raw := q.Get("outlet"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.OutletID = &id
		}
	}
	f.Status = q.Get("status")
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Offset = n
		}
	}
	return f
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "authentication required")
		return 0, false
	}
	return actorID, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "document not found")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrOutletRequired),
		errors.Is(err, ledger.ErrSerialCountMismatch), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrDuplicateSerial), errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}
