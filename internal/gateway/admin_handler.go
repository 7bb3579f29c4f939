package gateway

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/doorlock/internal/platform/httpx"
	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/internal/shared"
)

// AdminHandler exposes channel operations to operators.
type AdminHandler struct {
	gateway *Gateway
	hub     *Hub
	rbac    rbac.Middleware
	logger  *slog.Logger
}

// NewAdminHandler builds AdminHandler.
func NewAdminHandler(gateway *Gateway, hub *Hub, rbac rbac.Middleware, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{gateway: gateway, hub: hub, rbac: rbac, logger: logger}
}

// MountRoutes registers device channel routes under /admin/devices.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermDoorlockDevicesRead, shared.PermDoorlockDevicesWrite)).
		Get("/{id}/channel", h.channelStatus)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDoorlockDevicesWrite))
		r.Post("/{id}/sync", h.sync)
		r.Post("/{id}/update", h.update)
	})
}

type updateRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

type channelStatusResponse struct {
	DeviceID int64 `json:"deviceId"`
	Channels int   `json:"channels"`
}

type pushResponse struct {
	Delivered int `json:"delivered"`
}

func (h *AdminHandler) channelStatus(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, channelStatusResponse{DeviceID: id, Channels: h.hub.Subscribers(DeviceTopic(id))})
}

func (h *AdminHandler) sync(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.gateway.SyncDevice(r.Context(), id); err != nil {
		h.logger.Error("manual device sync", slog.Int64("device_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	n := h.gateway.PushUpdate(r.Context(), id, req.URL)
	h.logger.Info("firmware update pushed", slog.Int64("device_id", id), slog.Int("delivered", n))
	httpx.JSON(w, http.StatusAccepted, pushResponse{Delivered: n})
}

func deviceID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrValidation
	}
	return id, nil
}
