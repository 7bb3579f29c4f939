package doorlock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/doorlock/internal/platform/httpx"
	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/internal/shared"
)

// Handler exposes the administrative card endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers card routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDoorlockCardsRead, shared.PermDoorlockCardsWrite))
		r.Get("/", h.listCards)
		r.Get("/{id}", h.getCard)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDoorlockCardsWrite))
		r.Put("/{id}/devices", h.replaceDevices)
		r.Patch("/{id}", h.updateState)
	})
}

type replaceDevicesRequest struct {
	DeviceIDs []int64 `json:"deviceIds" validate:"omitempty,dive,gt=0"`
}

func (h *Handler) listCards(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCardFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cards, err := h.service.FetchCards(r.Context(), filter)
	if err != nil {
		h.logger.Error("list cards", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cards)
}

func (h *Handler) getCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	card, err := h.service.FetchCardByID(r.Context(), id)
	if err != nil {
		h.respond(w, "get card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) replaceDevices(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req replaceDevicesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceAuthorizedDevices(r.Context(), id, req.DeviceIDs); err != nil {
		h.respond(w, "replace devices", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateState(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CardStateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Frozen == nil && req.Disabled == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "frozen or disabled required")
		return
	}
	if err := h.service.SetCardState(r.Context(), id, req); err != nil {
		h.respond(w, "update card state", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrUnknownDevice):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Device", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrValidation
	}
	return id, nil
}

func parseCardFilter(r *http.Request) (CardFilter, error) {
	q := r.URL.Query()
	filter := CardFilter{Search: q.Get("q")}
	if v := q.Get("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return CardFilter{}, httpx.ErrValidation
		}
		filter.UserID = &id
	}
	if v := q.Get("deviceId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return CardFilter{}, httpx.ErrValidation
		}
		filter.DeviceID = &id
	}
	for key, dst := range map[string]**bool{"frozen": &filter.Frozen, "disabled": &filter.Disabled} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return CardFilter{}, httpx.ErrValidation
			}
			*dst = &b
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return CardFilter{}, httpx.ErrValidation
		}
		filter.Limit = n
	}
	return filter, nil
}
