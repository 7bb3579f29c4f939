package flags

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/doorlock/internal/platform/httpx"
	"github.com/campusgate/doorlock/internal/rbac"
	"github.com/campusgate/doorlock/internal/shared"
)

// Lister returns every persisted flag.
type Lister interface {
	List(ctx context.Context) ([]Flag, error)
}

// Handler exposes the administrative flag toggle.
type Handler struct {
	store  *Store
	lister Lister
	rbac   rbac.Middleware
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(store *Store, lister Lister, rbac rbac.Middleware, logger *slog.Logger) *Handler {
	return &Handler{store: store, lister: lister, rbac: rbac, logger: logger}
}

// MountRoutes registers flag routes under /admin/flags.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.PermDoorlockFlagsWrite))
	r.Get("/", h.list)
	r.Put("/{name}", h.toggle)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	flags, err := h.lister.List(r.Context())
	if err != nil {
		h.logger.Error("list feature flags", slog.Any("error", err))
		httpx.RespondError(w, errors.Join(shared.ErrStore, err))
		return
	}
	if flags == nil {
		flags = []Flag{}
	}
	httpx.JSON(w, http.StatusOK, flags)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	name := normalizeName(chi.URLParam(r, "name"))
	if name == "" {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.Toggle(r.Context(), name, *req.Enabled); err != nil {
		if errors.Is(err, shared.ErrFlagNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("toggle feature flag", slog.String("flag", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
