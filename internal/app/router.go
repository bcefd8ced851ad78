package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/observability"
	"github.com/medimart-erp/medimart-erp/internal/purchaseorder"
	"github.com/medimart-erp/medimart-erp/internal/workflow"
	"github.com/medimart-erp/medimart-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	PurchaseOrderHandler *purchaseorder.Handler
	PrincipalsHandler    *principals.Handler
	WorkflowHandler      *workflow.Handler
	JobHandler           *jobs.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with MediMart defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/purchase-orders", params.PurchaseOrderHandler.MountRoutes)
	if params.PrincipalsHandler != nil {
		r.Route("/masterdata/principals", params.PrincipalsHandler.MountRoutes)
	}
	if params.WorkflowHandler != nil {
		r.Route("/workflow/stages", params.WorkflowHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
