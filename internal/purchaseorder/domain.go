package purchaseorder

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the stage semantics of a purchase order.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusOrdered  Status = "ordered"
	StatusRejected Status = "rejected"
)

// TaxType selects the GST split applied to the order.
type TaxType string

const (
	TaxIGST     TaxType = "IGST"
	TaxCGSTSGST TaxType = "CGST_SGST"
)

// ChargeType selects how a charge or discount value is interpreted.
type ChargeType string

const (
	ChargeAmount  ChargeType = "amount"
	ChargePercent ChargeType = "percent"
)

// ChargeSpec is a discount or shipping charge, either a flat amount or a
// percentage of the base it applies to.
type ChargeSpec struct {
	Type  ChargeType `json:"type"`
	Value float64    `json:"value"`
}

// Address captures a billing or shipping destination. BranchWarehouse is
// mandatory on both.
type Address struct {
	BranchWarehouse string `json:"branch_warehouse"`
	AddressLine     string `json:"address_line"`
	City            string `json:"city"`
	State           string `json:"state"`
	PinCode         string `json:"pin_code"`
	GSTIN           string `json:"gstin"`
}

// ProductLine is a single order line. Product details are denormalised at
// order time so later catalogue edits never rewrite historical orders.
type ProductLine struct {
	ProductID   int64      `json:"product_id"`
	ProductCode string     `json:"product_code"`
	ProductName string     `json:"product_name"`
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   float64    `json:"unit_price"`
	FOC         float64    `json:"foc"`
	Discount    ChargeSpec `json:"discount"`
	Unit        string     `json:"unit"`
	GSTRate     float64    `json:"gst_rate"`
	Remarks     string     `json:"remarks"`
}

// Line defaults applied by Normalize.
const (
	DefaultUnit        = "PCS"
	DefaultLineGSTRate = 18
)

// Normalize coerces absent or invalid numeric fields to their documented
// defaults so they never reach the totals calculator as NaN.
func (l *ProductLine) Normalize() {
	if !isFinite(l.Quantity) || l.Quantity < 0 {
		l.Quantity = 1
	}
	if !isFinite(l.UnitPrice) || l.UnitPrice < 0 {
		l.UnitPrice = 0
	}
	if !isFinite(l.FOC) || l.FOC < 0 {
		l.FOC = 0
	}
	if !isFinite(l.Discount.Value) || l.Discount.Value < 0 {
		l.Discount.Value = 0
	}
	if l.Discount.Type == "" {
		l.Discount.Type = ChargeAmount
	}
	if l.Unit == "" {
		l.Unit = DefaultUnit
	}
	if !isFinite(l.GSTRate) || l.GSTRate < 0 {
		l.GSTRate = DefaultLineGSTRate
	}
}

// HistoryAction enumerates audit trail actions.
type HistoryAction string

const (
	HistoryCreated  HistoryAction = "created"
	HistoryUpdated  HistoryAction = "updated"
	HistoryApproved HistoryAction = "approved"
	HistoryRejected HistoryAction = "rejected"
)

// FieldChange records an old/new pair for one changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// HistoryEntry is one immutable record in a purchase order's workflow
// history. Entries are only ever appended; insertion order is the total
// order.
type HistoryEntry struct {
	ID         uuid.UUID              `json:"id"`
	StageCode  string                 `json:"stage"`
	Action     HistoryAction          `json:"action"`
	ActionBy   int64                  `json:"action_by"`
	ActionDate time.Time              `json:"action_date"`
	Remarks    string                 `json:"remarks"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
}

// PurchaseOrder domain model. Totals fields are derived by the calculator
// and overwritten on every relevant edit, never set by callers. Revision
// guards the load-modify-save cycle against lost updates.
type PurchaseOrder struct {
	ID                 int64          `json:"id"`
	PONumber           string         `json:"po_number"`
	PrincipalID        int64          `json:"principal_id"`
	BillTo             Address        `json:"bill_to"`
	ShipTo             Address        `json:"ship_to"`
	Products           []ProductLine  `json:"products"`
	AdditionalDiscount ChargeSpec     `json:"additional_discount"`
	TaxType            TaxType        `json:"tax_type"`
	GSTRate            float64        `json:"gst_rate"`
	ShippingCharges    ChargeSpec     `json:"shipping_charges"`
	SubTotal           float64        `json:"sub_total"`
	DiscountAmount     float64        `json:"discount_amount"`
	TaxableAmount      float64        `json:"taxable_amount"`
	TaxAmount          float64        `json:"tax_amount"`
	ShippingAmount     float64        `json:"shipping_amount"`
	GrandTotal         float64        `json:"grand_total"`
	CurrentStage       string         `json:"current_stage"`
	Status             Status         `json:"status"`
	Remarks            string         `json:"remarks"`
	ApprovedBy         int64          `json:"approved_by,omitempty"`
	ApprovedDate       *time.Time     `json:"approved_date,omitempty"`
	Revision           int64          `json:"revision"`
	CreatedBy          int64          `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	History            []HistoryEntry `json:"workflow_history"`
}

var (
	// ErrNotFound indicates the purchase order or a referenced record is
	// missing.
	ErrNotFound = errors.New("purchaseorder: not found")
	// ErrValidation indicates a required field is missing or malformed.
	ErrValidation = errors.New("purchaseorder: invalid input")
	// ErrConflict indicates a duplicate business key or a stale revision.
	ErrConflict = errors.New("purchaseorder: conflict")
	// ErrForbiddenInStage indicates the action is not permitted by the
	// current stage's allowed actions.
	ErrForbiddenInStage = errors.New("purchaseorder: forbidden in current stage")
	// ErrInvalidTransition indicates approval was requested from a stage
	// with no defined next stage, or a target stage is not seeded.
	ErrInvalidTransition = errors.New("purchaseorder: invalid stage transition")
	// ErrNotifyFailed indicates notification dispatch failed after the
	// transition was already committed. It is a warning, never a rollback.
	ErrNotifyFailed = errors.New("purchaseorder: order notification failed")
)

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
