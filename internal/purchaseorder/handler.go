package purchaseorder

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/medimart-erp/medimart-erp/internal/platform/httpx"
)

// TransitionRecorder counts completed workflow actions, nil disables it.
type TransitionRecorder interface {
	RecordTransition(action string)
}

// Handler wires the purchase order JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	recorder  TransitionRecorder
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, recorder TransitionRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), recorder: recorder}
}

func (h *Handler) record(action string) {
	if h.recorder != nil {
		h.recorder.RecordTransition(action)
	}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

type addressRequest struct {
	BranchWarehouse string `json:"branch_warehouse" validate:"required"`
	AddressLine     string `json:"address_line"`
	City            string `json:"city"`
	State           string `json:"state"`
	PinCode         string `json:"pin_code"`
	GSTIN           string `json:"gstin"`
}

type chargeRequest struct {
	Type  string  `json:"type" validate:"omitempty,oneof=amount percent"`
	Value float64 `json:"value" validate:"gte=0"`
}

type productLineRequest struct {
	ProductID   int64          `json:"product_id"`
	ProductCode string         `json:"product_code"`
	ProductName string         `json:"product_name" validate:"required"`
	Description string         `json:"description"`
	Quantity    *float64       `json:"quantity" validate:"omitempty,gte=0"`
	UnitPrice   float64        `json:"unit_price" validate:"gte=0"`
	FOC         float64        `json:"foc" validate:"gte=0"`
	Discount    *chargeRequest `json:"discount"`
	Unit        string         `json:"unit"`
	GSTRate     *float64       `json:"gst_rate" validate:"omitempty,gte=0"`
	Remarks     string         `json:"remarks"`
}

type createRequest struct {
	PONumber           string               `json:"po_number"`
	PrincipalID        int64                `json:"principal_id" validate:"required"`
	BillTo             addressRequest       `json:"bill_to" validate:"required"`
	ShipTo             addressRequest       `json:"ship_to" validate:"required"`
	Products           []productLineRequest `json:"products" validate:"required,min=1,dive"`
	AdditionalDiscount *chargeRequest       `json:"additional_discount"`
	TaxType            string               `json:"tax_type" validate:"omitempty,oneof=IGST CGST_SGST"`
	GSTRate            float64              `json:"gst_rate" validate:"gte=0"`
	ShippingCharges    *chargeRequest       `json:"shipping_charges"`
	Remarks            string               `json:"remarks"`
	ActorID            int64                `json:"actor_id"`
}

type updateRequest struct {
	BillTo             *addressRequest      `json:"bill_to"`
	ShipTo             *addressRequest      `json:"ship_to"`
	Products           []productLineRequest `json:"products" validate:"omitempty,min=1,dive"`
	AdditionalDiscount *chargeRequest       `json:"additional_discount"`
	TaxType            *string              `json:"tax_type" validate:"omitempty,oneof=IGST CGST_SGST"`
	GSTRate            *float64             `json:"gst_rate" validate:"omitempty,gte=0"`
	ShippingCharges    *chargeRequest       `json:"shipping_charges"`
	Remarks            *string              `json:"remarks"`
	ActorID            int64                `json:"actor_id"`
}

type actionRequest struct {
	ActorID int64  `json:"actor_id"`
	Remarks string `json:"remarks"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	principalID, _ := strconv.ParseInt(r.URL.Query().Get("principal_id"), 10, 64)
	filters := ListFilters{
		Status:      r.URL.Query().Get("status"),
		PrincipalID: principalID,
		Search:      r.URL.Query().Get("search"),
		SortBy:      r.URL.Query().Get("sort"),
		SortDir:     r.URL.Query().Get("dir"),
	}
	items, total, err := h.service.List(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_orders": items,
		"total":           total,
		"limit":           limit,
		"offset":          offset,
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Create(r.Context(), CreateInput{
		PONumber:           req.PONumber,
		PrincipalID:        req.PrincipalID,
		BillTo:             toAddress(req.BillTo),
		ShipTo:             toAddress(req.ShipTo),
		Products:           toLines(req.Products),
		AdditionalDiscount: toCharge(req.AdditionalDiscount),
		TaxType:            TaxType(req.TaxType),
		GSTRate:            req.GSTRate,
		ShippingCharges:    toCharge(req.ShippingCharges),
		Remarks:            req.Remarks,
		ActorID:            req.ActorID,
	})
	if err != nil {
		h.respondError(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := UpdateInput{ActorID: req.ActorID, Remarks: req.Remarks}
	if req.BillTo != nil {
		addr := toAddress(*req.BillTo)
		input.BillTo = &addr
	}
	if req.ShipTo != nil {
		addr := toAddress(*req.ShipTo)
		input.ShipTo = &addr
	}
	if req.Products != nil {
		input.Products = toLines(req.Products)
	}
	if req.AdditionalDiscount != nil {
		charge := toCharge(req.AdditionalDiscount)
		input.AdditionalDiscount = &charge
	}
	if req.TaxType != nil {
		tax := TaxType(*req.TaxType)
		input.TaxType = &tax
	}
	input.GSTRate = req.GSTRate
	if req.ShippingCharges != nil {
		charge := toCharge(req.ShippingCharges)
		input.ShippingCharges = &charge
	}
	result, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "update purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	result, err := h.service.Approve(r.Context(), id, req.ActorID, req.Remarks)
	if err != nil {
		h.respondError(w, "approve purchase order", err)
		return
	}
	h.record("approve")
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	result, err := h.service.Reject(r.Context(), id, req.ActorID, req.Remarks)
	if err != nil {
		h.respondError(w, "reject purchase order", err)
		return
	}
	h.record("reject")
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Purchase order deleted"})
}

// respondError maps domain errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbiddenInStage):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toAddress(req addressRequest) Address {
	return Address{
		BranchWarehouse: req.BranchWarehouse,
		AddressLine:     req.AddressLine,
		City:            req.City,
		State:           req.State,
		PinCode:         req.PinCode,
		GSTIN:           req.GSTIN,
	}
}

func toCharge(req *chargeRequest) ChargeSpec {
	if req == nil {
		return ChargeSpec{Type: ChargeAmount}
	}
	return ChargeSpec{Type: ChargeType(req.Type), Value: req.Value}
}

func toLines(reqs []productLineRequest) []ProductLine {
	lines := make([]ProductLine, 0, len(reqs))
	for _, req := range reqs {
		line := ProductLine{
			ProductID:   req.ProductID,
			ProductCode: req.ProductCode,
			ProductName: req.ProductName,
			Description: req.Description,
			Quantity:    1,
			UnitPrice:   req.UnitPrice,
			FOC:         req.FOC,
			Discount:    toCharge(req.Discount),
			Unit:        req.Unit,
			GSTRate:     DefaultLineGSTRate,
			Remarks:     req.Remarks,
		}
		if req.Quantity != nil {
			line.Quantity = *req.Quantity
		}
		if req.GSTRate != nil {
			line.GSTRate = *req.GSTRate
		}
		line.Normalize()
		lines = append(lines, line)
	}
	return lines
}
