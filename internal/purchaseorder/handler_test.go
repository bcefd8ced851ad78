package purchaseorder

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/medimart-erp/medimart-erp/internal/workflow"
)

func newTestRouter(t *testing.T) (*serviceFixture, http.Handler) {
	t.Helper()
	f := newServiceFixture(t)
	handler := NewHandler(nil, f.service, nil)
	r := chi.NewRouter()
	r.Route("/purchase-orders", handler.MountRoutes)
	return f, r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateAndShow(t *testing.T) {
	_, router := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/purchase-orders", `{
		"principal_id": 7,
		"bill_to": {"branch_warehouse": "HQ Warehouse"},
		"ship_to": {"branch_warehouse": "Clinic North"},
		"products": [{"product_name": "Paracetamol 500mg", "quantity": 2, "unit_price": 100, "gst_rate": 0}],
		"gst_rate": 5
	}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"grand_total":210`)

	rr = doJSON(t, router, http.MethodGet, "/purchase-orders/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"current_stage":"DRAFT"`)
}

func TestHandlerErrorMapping(t *testing.T) {
	f, router := newTestRouter(t)

	// Unknown order.
	rr := doJSON(t, router, http.MethodGet, "/purchase-orders/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	// Validation failure.
	rr = doJSON(t, router, http.MethodPost, "/purchase-orders", `{"principal_id": 7}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	po := f.createDraft(t)

	// Approving a draft has no transition target.
	rr = doJSON(t, router, http.MethodPost, "/purchase-orders/1/approve", `{"actor_id": 1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// Editing outside an editable stage is forbidden.
	f.moveToStage(t, po.ID, workflow.StageApprovedL1)
	rr = doJSON(t, router, http.MethodPut, "/purchase-orders/1", `{"gst_rate": 12}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Rejection without remarks.
	rr = doJSON(t, router, http.MethodPost, "/purchase-orders/1/reject", `{"actor_id": 1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerDeleteGuard(t *testing.T) {
	f, router := newTestRouter(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StagePendingApproval)

	rr := doJSON(t, router, http.MethodPost, "/purchase-orders/1/approve", `{"actor_id": 1}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodDelete, "/purchase-orders/1", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
}
