package purchaseorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error)
	CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	// UpdatePO persists the order guarded by its revision; a stale
	// revision fails with ErrConflict and writes nothing.
	UpdatePO(ctx context.Context, po PurchaseOrder) error
	DeletePO(ctx context.Context, id int64) error
	AppendHistory(ctx context.Context, poID int64, entry HistoryEntry) error
}

// StagePort exposes the workflow stage registry. Read-only except for the
// DRAFT bootstrap.
type StagePort interface {
	Get(ctx context.Context, code string) (workflow.Stage, error)
	EnsureDraft(ctx context.Context) (workflow.Stage, error)
}

// PrincipalPort resolves principals for numbering and validation.
type PrincipalPort interface {
	FindByID(ctx context.Context, id int64) (principals.Principal, error)
}

// Notifier dispatches the outbound notification once an order reaches the
// terminal ORDERED stage. Failures are reported, never rolled back into the
// already-committed transition.
type Notifier interface {
	OrderPlaced(ctx context.Context, po PurchaseOrder) error
}

// ListFilters narrows purchase order listings.
type ListFilters struct {
	Status      string
	PrincipalID int64
	Search      string
	SortBy      string
	SortDir     string
}

// ListItem is a purchase order listing row.
type ListItem struct {
	ID            int64     `json:"id"`
	PONumber      string    `json:"po_number"`
	PrincipalID   int64     `json:"principal_id"`
	PrincipalName string    `json:"principal_name"`
	CurrentStage  string    `json:"current_stage"`
	Status        Status    `json:"status"`
	GrandTotal    float64   `json:"grand_total"`
	CreatedAt     time.Time `json:"created_at"`
}

// Service owns the purchase order state machine.
type Service struct {
	repo       RepositoryPort
	stages     StagePort
	principals PrincipalPort
	numbers    *NumberGenerator
	notifier   Notifier
	logger     *slog.Logger
}

// NewService constructs the purchase order service.
func NewService(repo RepositoryPort, stages StagePort, principalLookup PrincipalPort, numbers *NumberGenerator, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stages: stages, principals: principalLookup, numbers: numbers, notifier: notifier, logger: logger}
}

// CreateInput describes the creation payload.
type CreateInput struct {
	PONumber           string
	PrincipalID        int64
	BillTo             Address
	ShipTo             Address
	Products           []ProductLine
	AdditionalDiscount ChargeSpec
	TaxType            TaxType
	GSTRate            float64
	ShippingCharges    ChargeSpec
	Remarks            string
	ActorID            int64
}

// UpdateInput is a partial patch; nil fields are left untouched.
type UpdateInput struct {
	BillTo             *Address
	ShipTo             *Address
	Products           []ProductLine
	AdditionalDiscount *ChargeSpec
	TaxType            *TaxType
	GSTRate            *float64
	ShippingCharges    *ChargeSpec
	Remarks            *string
	ActorID            int64
}

// TransitionResult carries the updated order, a human-readable message and
// an optional warning (set when notification dispatch failed after the
// transition was committed).
type TransitionResult struct {
	PO      PurchaseOrder `json:"purchase_order"`
	Message string        `json:"message"`
	Warning string        `json:"warning,omitempty"`
}

// Create bootstraps a purchase order into the DRAFT stage, generates its
// number when the caller supplied none, runs the totals calculator and
// records the created audit entry.
func (s *Service) Create(ctx context.Context, input CreateInput) (TransitionResult, error) {
	if err := validateCreate(input); err != nil {
		return TransitionResult{}, err
	}

	principal, err := s.principals.FindByID(ctx, input.PrincipalID)
	if err != nil {
		if errors.Is(err, principals.ErrNotFound) {
			return TransitionResult{}, fmt.Errorf("%w: principal %d", ErrNotFound, input.PrincipalID)
		}
		return TransitionResult{}, err
	}

	draft, err := s.stages.EnsureDraft(ctx)
	if err != nil {
		return TransitionResult{}, err
	}

	po := PurchaseOrder{
		PONumber:           input.PONumber,
		PrincipalID:        principal.ID,
		BillTo:             input.BillTo,
		ShipTo:             input.ShipTo,
		Products:           normalizeLines(input.Products),
		AdditionalDiscount: defaultCharge(input.AdditionalDiscount),
		TaxType:            defaultTaxType(input.TaxType),
		GSTRate:            input.GSTRate,
		ShippingCharges:    defaultCharge(input.ShippingCharges),
		CurrentStage:       draft.Code,
		Status:             StatusDraft,
		Remarks:            input.Remarks,
		Revision:           1,
		CreatedBy:          input.ActorID,
	}
	CalculateTotals(po.Products, po.AdditionalDiscount, po.GSTRate, po.ShippingCharges).Apply(&po)

	generated := po.PONumber == ""
	if generated {
		number, err := s.numbers.Generate(ctx, principal.Name)
		if err != nil {
			return TransitionResult{}, err
		}
		po.PONumber = number
	}

	entry := newHistoryEntry(draft.Code, HistoryCreated, input.ActorID, "Purchase order created")
	err = s.insertWithRetry(ctx, &po, principal.Name, generated, entry)
	if err != nil {
		return TransitionResult{}, err
	}
	po.History = []HistoryEntry{entry}
	return TransitionResult{PO: po, Message: "Purchase order created"}, nil
}

// insertWithRetry inserts the order; a duplicate generated number is retried
// once with a fresh serial before surfacing ErrConflict.
func (s *Service) insertWithRetry(ctx context.Context, po *PurchaseOrder, principalName string, generated bool, entry HistoryEntry) error {
	insert := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertPO(ctx, *po)
			if err != nil {
				return err
			}
			po.ID = id
			return tx.AppendHistory(ctx, id, entry)
		})
	}
	err := insert()
	if err == nil || !generated || !errors.Is(err, ErrConflict) {
		return err
	}
	s.logger.Warn("duplicate po number, regenerating", slog.String("po_number", po.PONumber))
	number, genErr := s.numbers.Generate(ctx, principalName)
	if genErr != nil {
		return genErr
	}
	po.PONumber = number
	return insert()
}

// Update edits a draft-editable purchase order. The edit gate checks the
// current stage's allowed actions; on success every changed top-level field
// is diffed into an updated history entry and totals are recomputed when a
// monetary field moved.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (TransitionResult, error) {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	stage, err := s.currentStage(ctx, po)
	if err != nil {
		return TransitionResult{}, err
	}
	if !stage.Allows(workflow.ActionEdit) {
		return TransitionResult{}, fmt.Errorf("%w: edit not allowed in %s", ErrForbiddenInStage, stage.Code)
	}
	if err := validateUpdate(input); err != nil {
		return TransitionResult{}, err
	}

	changes, recalc := applyPatch(&po, input)
	if len(changes) == 0 {
		return TransitionResult{PO: po, Message: "No changes"}, nil
	}
	if recalc {
		CalculateTotals(po.Products, po.AdditionalDiscount, po.GSTRate, po.ShippingCharges).Apply(&po)
	}

	entry := newUpdateEntry(po.CurrentStage, input.ActorID, "Purchase order updated", changes)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, po.ID, entry)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	po.Revision++
	po.History = append(po.History, entry)
	return TransitionResult{PO: po, Message: "Purchase order updated"}, nil
}

// Approve advances the order along the fixed approval chain. approvedBy and
// approvedDate are stamped exactly once, at the transition into
// APPROVED_FINAL. Reaching ORDERED flips the status to ordered and fires
// the notification after the transition is committed.
func (s *Service) Approve(ctx context.Context, id, actorID int64, remarks string) (TransitionResult, error) {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	stage, err := s.currentStage(ctx, po)
	if err != nil {
		return TransitionResult{}, err
	}
	if !stage.Allows(workflow.ActionApprove) {
		return TransitionResult{}, fmt.Errorf("%w: approve not allowed in %s", ErrForbiddenInStage, stage.Code)
	}
	nextCode, err := workflow.NextOnApprove(stage.Code)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: no next stage after %s", ErrInvalidTransition, stage.Code)
	}
	next, err := s.stages.Get(ctx, nextCode)
	if err != nil {
		if errors.Is(err, workflow.ErrStageNotFound) {
			return TransitionResult{}, fmt.Errorf("%w: next stage %s not found", ErrInvalidTransition, nextCode)
		}
		return TransitionResult{}, err
	}

	po.CurrentStage = next.Code
	if next.Code == workflow.StageOrdered {
		po.Status = StatusOrdered
	} else {
		po.Status = StatusApproved
	}
	if next.Code == workflow.StageApprovedFinal && po.ApprovedDate == nil {
		now := time.Now()
		po.ApprovedBy = actorID
		po.ApprovedDate = &now
	}

	if strings.TrimSpace(remarks) == "" {
		remarks = fmt.Sprintf("Approved to %s", next.Name)
	}
	entry := newHistoryEntry(next.Code, HistoryApproved, actorID, remarks)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, po.ID, entry)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	po.Revision++
	po.History = append(po.History, entry)

	result := TransitionResult{PO: po, Message: fmt.Sprintf("Purchase order moved to %s", next.Name)}
	if next.Code == workflow.StageOrdered && s.notifier != nil {
		if err := s.notifier.OrderPlaced(ctx, po); err != nil {
			// The transition is already durable; surface the failure as a
			// warning instead of undoing it.
			s.logger.Warn("order notification failed", slog.String("po_number", po.PONumber), slog.Any("error", err))
			result.Warning = fmt.Sprintf("%v: %v", ErrNotifyFailed, err)
		}
	}
	return result, nil
}

// Reject moves the order to CANCELLED with status rejected. Remarks are
// mandatory and recorded verbatim.
func (s *Service) Reject(ctx context.Context, id, actorID int64, remarks string) (TransitionResult, error) {
	if strings.TrimSpace(remarks) == "" {
		return TransitionResult{}, fmt.Errorf("%w: rejection remarks required", ErrValidation)
	}
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	stage, err := s.currentStage(ctx, po)
	if err != nil {
		return TransitionResult{}, err
	}
	if !stage.Allows(workflow.ActionReject) {
		return TransitionResult{}, fmt.Errorf("%w: reject not allowed in %s", ErrForbiddenInStage, stage.Code)
	}
	cancelled, err := s.stages.Get(ctx, workflow.StageCancelled)
	if err != nil {
		if errors.Is(err, workflow.ErrStageNotFound) {
			return TransitionResult{}, fmt.Errorf("%w: stage %s not found", ErrInvalidTransition, workflow.StageCancelled)
		}
		return TransitionResult{}, err
	}

	po.CurrentStage = cancelled.Code
	po.Status = StatusRejected
	entry := newHistoryEntry(cancelled.Code, HistoryRejected, actorID, remarks)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, po.ID, entry)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	po.Revision++
	po.History = append(po.History, entry)
	return TransitionResult{PO: po, Message: "Purchase order rejected"}, nil
}

// Delete hard-removes a purchase order that is still in draft. Orders in any
// other status are protected; no tombstone or history survives the removal.
func (s *Service) Delete(ctx context.Context, id int64) error {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return fmt.Errorf("%w: delete requires draft status, got %s", ErrForbiddenInStage, po.Status)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeletePO(ctx, id)
	})
}

// Get returns a purchase order with its history.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns purchase order listing rows.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	return s.repo.ListPOs(ctx, limit, offset, filters)
}

func (s *Service) currentStage(ctx context.Context, po PurchaseOrder) (workflow.Stage, error) {
	stage, err := s.stages.Get(ctx, po.CurrentStage)
	if err != nil {
		if errors.Is(err, workflow.ErrStageNotFound) {
			return workflow.Stage{}, fmt.Errorf("%w: stage %s not found", ErrInvalidTransition, po.CurrentStage)
		}
		return workflow.Stage{}, err
	}
	return stage, nil
}

func validateCreate(input CreateInput) error {
	if input.PrincipalID == 0 {
		return fmt.Errorf("%w: principal required", ErrValidation)
	}
	if strings.TrimSpace(input.BillTo.BranchWarehouse) == "" {
		return fmt.Errorf("%w: billing branch/warehouse required", ErrValidation)
	}
	if strings.TrimSpace(input.ShipTo.BranchWarehouse) == "" {
		return fmt.Errorf("%w: shipping branch/warehouse required", ErrValidation)
	}
	if len(input.Products) == 0 {
		return fmt.Errorf("%w: at least one product line required", ErrValidation)
	}
	return nil
}

func validateUpdate(input UpdateInput) error {
	if input.BillTo != nil && strings.TrimSpace(input.BillTo.BranchWarehouse) == "" {
		return fmt.Errorf("%w: billing branch/warehouse required", ErrValidation)
	}
	if input.ShipTo != nil && strings.TrimSpace(input.ShipTo.BranchWarehouse) == "" {
		return fmt.Errorf("%w: shipping branch/warehouse required", ErrValidation)
	}
	if input.Products != nil && len(input.Products) == 0 {
		return fmt.Errorf("%w: at least one product line required", ErrValidation)
	}
	return nil
}

// applyPatch mutates po in place, returning the per-field diff and whether
// any field feeding the totals calculator changed.
func applyPatch(po *PurchaseOrder, input UpdateInput) (map[string]FieldChange, bool) {
	changes := make(map[string]FieldChange)
	recalc := false

	if input.BillTo != nil && !reflect.DeepEqual(po.BillTo, *input.BillTo) {
		changes["billTo"] = FieldChange{Old: po.BillTo, New: *input.BillTo}
		po.BillTo = *input.BillTo
	}
	if input.ShipTo != nil && !reflect.DeepEqual(po.ShipTo, *input.ShipTo) {
		changes["shipTo"] = FieldChange{Old: po.ShipTo, New: *input.ShipTo}
		po.ShipTo = *input.ShipTo
	}
	if input.Products != nil {
		next := normalizeLines(input.Products)
		if !reflect.DeepEqual(po.Products, next) {
			changes["products"] = FieldChange{Old: po.Products, New: next}
			po.Products = next
			recalc = true
		}
	}
	if input.AdditionalDiscount != nil {
		next := defaultCharge(*input.AdditionalDiscount)
		if po.AdditionalDiscount != next {
			changes["additionalDiscount"] = FieldChange{Old: po.AdditionalDiscount, New: next}
			po.AdditionalDiscount = next
			recalc = true
		}
	}
	if input.TaxType != nil {
		next := defaultTaxType(*input.TaxType)
		if po.TaxType != next {
			changes["taxType"] = FieldChange{Old: po.TaxType, New: next}
			po.TaxType = next
			recalc = true
		}
	}
	if input.GSTRate != nil && po.GSTRate != *input.GSTRate {
		changes["gstRate"] = FieldChange{Old: po.GSTRate, New: *input.GSTRate}
		po.GSTRate = *input.GSTRate
		recalc = true
	}
	if input.ShippingCharges != nil {
		next := defaultCharge(*input.ShippingCharges)
		if po.ShippingCharges != next {
			changes["shippingCharges"] = FieldChange{Old: po.ShippingCharges, New: next}
			po.ShippingCharges = next
			recalc = true
		}
	}
	if input.Remarks != nil && po.Remarks != *input.Remarks {
		changes["remarks"] = FieldChange{Old: po.Remarks, New: *input.Remarks}
		po.Remarks = *input.Remarks
	}
	return changes, recalc
}

func normalizeLines(lines []ProductLine) []ProductLine {
	out := make([]ProductLine, len(lines))
	for i, line := range lines {
		line.Normalize()
		out[i] = line
	}
	return out
}

func defaultCharge(spec ChargeSpec) ChargeSpec {
	if spec.Type == "" {
		spec.Type = ChargeAmount
	}
	if !isFinite(spec.Value) || spec.Value < 0 {
		spec.Value = 0
	}
	return spec
}

func defaultTaxType(t TaxType) TaxType {
	if t == "" {
		return TaxIGST
	}
	return t
}
