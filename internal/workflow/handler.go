package workflow

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medimart-erp/medimart-erp/internal/platform/httpx"
)

// Handler exposes read-only stage endpoints.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	return &Handler{logger: logger, registry: registry}
}

// MountRoutes registers stage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{code}", h.show)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	stages, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("list stages", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	stage, err := h.registry.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, stage)
}
