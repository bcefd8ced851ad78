package purchaseorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/workflow"
)

// memoryRepo is an in-memory RepositoryPort. WithTx snapshots state before
// the callback and restores it on error, mirroring transactional rollback.
type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]PurchaseOrder
	history map[int64][]HistoryEntry

	insertErrs []error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]PurchaseOrder), history: make(map[int64][]HistoryEntry)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordersBackup := make(map[int64]PurchaseOrder, len(r.orders))
	for k, v := range r.orders {
		ordersBackup[k] = v
	}
	historyBackup := make(map[int64][]HistoryEntry, len(r.history))
	for k, v := range r.history {
		historyBackup[k] = append([]HistoryEntry(nil), v...)
	}

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.orders = ordersBackup
		r.history = historyBackup
		return err
	}
	return nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	po.History = append([]HistoryEntry(nil), r.history[id]...)
	return po, nil
}

func (r *memoryRepo) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []ListItem
	for _, po := range r.orders {
		if filters.Status != "" && string(po.Status) != filters.Status {
			continue
		}
		items = append(items, ListItem{ID: po.ID, PONumber: po.PONumber, Status: po.Status, GrandTotal: po.GrandTotal})
	}
	return items, len(items), nil
}

func (r *memoryRepo) CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	r := t.repo
	if len(r.insertErrs) > 0 {
		err := r.insertErrs[0]
		r.insertErrs = r.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	for _, existing := range r.orders {
		if existing.PONumber == po.PONumber {
			return 0, ErrConflict
		}
	}
	r.nextID++
	po.ID = r.nextID
	po.CreatedAt = time.Now()
	r.orders[po.ID] = po
	return po.ID, nil
}

func (t *memoryTx) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	r := t.repo
	stored, ok := r.orders[po.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Revision != po.Revision {
		return ErrConflict
	}
	po.Revision++
	po.History = nil
	r.orders[po.ID] = po
	return nil
}

func (t *memoryTx) DeletePO(ctx context.Context, id int64) error {
	r := t.repo
	if _, ok := r.orders[id]; !ok {
		return ErrNotFound
	}
	delete(r.orders, id)
	delete(r.history, id)
	return nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, poID int64, entry HistoryEntry) error {
	r := t.repo
	r.history[poID] = append(r.history[poID], entry)
	return nil
}

// stagePortFake serves the full seeded pipeline without a store.
type stagePortFake struct {
	stages map[string]workflow.Stage
}

func seededStages() *stagePortFake {
	f := &stagePortFake{stages: make(map[string]workflow.Stage)}
	pipeline := []workflow.Stage{
		{ID: 1, Code: workflow.StageDraft, Name: "Draft", Sequence: 1, AllowedActions: []workflow.Action{workflow.ActionEdit, workflow.ActionApprove, workflow.ActionCancel}, IsActive: true},
		{ID: 2, Code: workflow.StagePendingApproval, Name: "Pending Approval", Sequence: 2, AllowedActions: []workflow.Action{workflow.ActionEdit, workflow.ActionApprove, workflow.ActionReject}, IsActive: true},
		{ID: 3, Code: workflow.StageApprovedL1, Name: "Approved Level 1", Sequence: 3, AllowedActions: []workflow.Action{workflow.ActionApprove, workflow.ActionReject}, IsActive: true},
		{ID: 4, Code: workflow.StageApprovedFinal, Name: "Approved Final", Sequence: 4, AllowedActions: []workflow.Action{workflow.ActionApprove}, IsActive: true},
		{ID: 5, Code: workflow.StageOrdered, Name: "Ordered", Sequence: 5, IsActive: true},
		{ID: 6, Code: workflow.StageCancelled, Name: "Cancelled", Sequence: 6, IsActive: true},
	}
	for _, stage := range pipeline {
		f.stages[stage.Code] = stage
	}
	return f
}

func (f *stagePortFake) Get(ctx context.Context, code string) (workflow.Stage, error) {
	stage, ok := f.stages[code]
	if !ok {
		return workflow.Stage{}, workflow.ErrStageNotFound
	}
	return stage, nil
}

func (f *stagePortFake) EnsureDraft(ctx context.Context) (workflow.Stage, error) {
	return f.Get(ctx, workflow.StageDraft)
}

type principalDirFake struct {
	byID map[int64]principals.Principal
}

func (f *principalDirFake) FindByID(ctx context.Context, id int64) (principals.Principal, error) {
	p, ok := f.byID[id]
	if !ok {
		return principals.Principal{}, principals.ErrNotFound
	}
	return p, nil
}

type notifierFake struct {
	calls []PurchaseOrder
	err   error
}

func (f *notifierFake) OrderPlaced(ctx context.Context, po PurchaseOrder) error {
	f.calls = append(f.calls, po)
	return f.err
}

type serviceFixture struct {
	repo     *memoryRepo
	stages   *stagePortFake
	notifier *notifierFake
	seq      *stubSequence
	service  *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := newMemoryRepo()
	stages := seededStages()
	notifier := &notifierFake{}
	seq := &stubSequence{}
	directory := &principalDirFake{byID: map[int64]principals.Principal{
		7: {ID: 7, Code: "APX", Name: "Apex Pharma", Email: "orders@apexpharma.example"},
	}}
	numbers := NewNumberGenerator("MM", seq, repo)
	service := NewService(repo, stages, directory, numbers, notifier, nil)
	return &serviceFixture{repo: repo, stages: stages, notifier: notifier, seq: seq, service: service}
}

func validCreateInput() CreateInput {
	return CreateInput{
		PrincipalID: 7,
		BillTo:      Address{BranchWarehouse: "HQ Warehouse"},
		ShipTo:      Address{BranchWarehouse: "Clinic North"},
		Products: []ProductLine{
			{ProductName: "Paracetamol 500mg", Quantity: 2, UnitPrice: 100},
		},
		GSTRate: 5,
		ActorID: 42,
	}
}

func (f *serviceFixture) createDraft(t *testing.T) PurchaseOrder {
	t.Helper()
	result, err := f.service.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	return result.PO
}

func (f *serviceFixture) moveToStage(t *testing.T, id int64, stageCode string) {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	po := f.repo.orders[id]
	po.CurrentStage = stageCode
	f.repo.orders[id] = po
}

func TestCreateBootstrapsDraft(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	po := result.PO
	require.NotZero(t, po.ID)
	require.Equal(t, workflow.StageDraft, po.CurrentStage)
	require.Equal(t, StatusDraft, po.Status)
	require.EqualValues(t, 1, po.Revision)
	require.True(t, strings.HasPrefix(po.PONumber, "MM-APE-"), po.PONumber)
	require.Equal(t, 210.0, po.GrandTotal)

	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	require.Equal(t, HistoryCreated, stored.History[0].Action)
	require.EqualValues(t, 42, stored.History[0].ActionBy)
}

func TestCreateUnknownPrincipal(t *testing.T) {
	f := newServiceFixture(t)
	input := validCreateInput()
	input.PrincipalID = 999

	_, err := f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	f := newServiceFixture(t)

	input := validCreateInput()
	input.BillTo.BranchWarehouse = "  "
	_, err := f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)

	input = validCreateInput()
	input.Products = nil
	_, err = f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRetriesDuplicateGeneratedNumber(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.insertErrs = []error{ErrConflict}

	result, err := f.service.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	// The first serial collided; the retry drew a fresh one.
	require.Equal(t, 2, f.seq.calls)
	require.True(t, strings.HasSuffix(result.PO.PONumber, "/002"), result.PO.PONumber)
}

func TestCreateDoesNotRetryCallerSuppliedNumber(t *testing.T) {
	f := newServiceFixture(t)
	f.createDraft(t)

	input := validCreateInput()
	input.PONumber = "CUSTOM-PO-001"
	first, err := f.service.Create(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, input.PONumber, first.PO.PONumber)

	_, err = f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateRecalculatesTotals(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)

	rate := 18.0
	result, err := f.service.Update(context.Background(), po.ID, UpdateInput{GSTRate: &rate, ActorID: 42})
	require.NoError(t, err)
	require.Equal(t, 236.0, result.PO.GrandTotal)
	require.EqualValues(t, 2, result.PO.Revision)

	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	entry := stored.History[1]
	require.Equal(t, HistoryUpdated, entry.Action)
	change, ok := entry.Changes["gstRate"]
	require.True(t, ok)
	require.Equal(t, 5.0, change.Old)
	require.Equal(t, 18.0, change.New)
}

func TestUpdateNoChangesWritesNothing(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)

	result, err := f.service.Update(context.Background(), po.ID, UpdateInput{ActorID: 42})
	require.NoError(t, err)
	require.Equal(t, "No changes", result.Message)

	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	require.EqualValues(t, 1, stored.Revision)
}

func TestUpdateForbiddenOutsideEditableStage(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StageApprovedL1)

	rate := 12.0
	_, err := f.service.Update(context.Background(), po.ID, UpdateInput{GSTRate: &rate})
	require.ErrorIs(t, err, ErrForbiddenInStage)

	// The failed edit left the order untouched.
	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, 5.0, stored.GSTRate)
	require.Len(t, stored.History, 1)
}

func TestUpdateStaleRevisionConflicts(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)

	// A concurrent writer bumps the stored revision between load and save.
	f.repo.mu.Lock()
	racer := f.repo.orders[po.ID]
	racer.Revision++
	f.repo.orders[po.ID] = racer
	f.repo.mu.Unlock()

	rate := 12.0
	_, err := f.service.Update(context.Background(), po.ID, UpdateInput{GSTRate: &rate})
	require.ErrorIs(t, err, ErrConflict)
}

func TestApproveChainStampsApproverOnce(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StagePendingApproval)
	ctx := context.Background()

	first, err := f.service.Approve(ctx, po.ID, 100, "")
	require.NoError(t, err)
	require.Equal(t, workflow.StageApprovedL1, first.PO.CurrentStage)
	require.Equal(t, StatusApproved, first.PO.Status)
	require.Nil(t, first.PO.ApprovedDate)

	second, err := f.service.Approve(ctx, po.ID, 200, "")
	require.NoError(t, err)
	require.Equal(t, workflow.StageApprovedFinal, second.PO.CurrentStage)
	require.EqualValues(t, 200, second.PO.ApprovedBy)
	require.NotNil(t, second.PO.ApprovedDate)
	approvedAt := *second.PO.ApprovedDate

	third, err := f.service.Approve(ctx, po.ID, 300, "")
	require.NoError(t, err)
	require.Equal(t, workflow.StageOrdered, third.PO.CurrentStage)
	require.Equal(t, StatusOrdered, third.PO.Status)
	// The final approver's stamp survives the move to ORDERED.
	require.EqualValues(t, 200, third.PO.ApprovedBy)
	require.Equal(t, approvedAt, *third.PO.ApprovedDate)

	require.Len(t, f.notifier.calls, 1)
	require.Empty(t, third.Warning)

	stored, err := f.service.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 4)
	for _, entry := range stored.History[1:] {
		require.Equal(t, HistoryApproved, entry.Action)
	}
}

func TestApproveFromDraftIsInvalid(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)

	_, err := f.service.Approve(context.Background(), po.ID, 100, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveTerminalStagesForbidden(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)

	for _, stage := range []string{workflow.StageOrdered, workflow.StageCancelled} {
		f.moveToStage(t, po.ID, stage)
		_, err := f.service.Approve(context.Background(), po.ID, 100, "")
		require.ErrorIs(t, err, ErrForbiddenInStage, stage)
	}
}

func TestApproveNotificationFailureWarns(t *testing.T) {
	f := newServiceFixture(t)
	f.notifier.err = errors.New("smtp relay unreachable")
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StageApprovedFinal)

	result, err := f.service.Approve(context.Background(), po.ID, 100, "")
	require.NoError(t, err)
	require.Contains(t, result.Warning, "order notification failed")

	// The transition committed despite the failed notification.
	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StageOrdered, stored.CurrentStage)
	require.Equal(t, StatusOrdered, stored.Status)
}

func TestRejectRequiresRemarks(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StagePendingApproval)

	_, err := f.service.Reject(context.Background(), po.ID, 100, "   ")
	require.ErrorIs(t, err, ErrValidation)

	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
}

func TestRejectMovesToCancelled(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StageApprovedL1)

	result, err := f.service.Reject(context.Background(), po.ID, 100, "pricing out of budget")
	require.NoError(t, err)
	require.Equal(t, workflow.StageCancelled, result.PO.CurrentStage)
	require.Equal(t, StatusRejected, result.PO.Status)

	stored, err := f.service.Get(context.Background(), po.ID)
	require.NoError(t, err)
	last := stored.History[len(stored.History)-1]
	require.Equal(t, HistoryRejected, last.Action)
	require.Equal(t, "pricing out of budget", last.Remarks)
}

func TestRejectForbiddenInTerminalStage(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StageOrdered)

	_, err := f.service.Reject(context.Background(), po.ID, 100, "too late")
	require.ErrorIs(t, err, ErrForbiddenInStage)
}

func TestDeleteRequiresDraftStatus(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	ctx := context.Background()

	// Approved orders are protected.
	f.moveToStage(t, po.ID, workflow.StagePendingApproval)
	_, err := f.service.Approve(ctx, po.ID, 100, "")
	require.NoError(t, err)
	err = f.service.Delete(ctx, po.ID)
	require.ErrorIs(t, err, ErrForbiddenInStage)

	draft := f.createDraft(t)
	require.NoError(t, f.service.Delete(ctx, draft.ID))
	_, err = f.service.Get(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// History went with the order.
	f.repo.mu.Lock()
	_, ok := f.repo.history[draft.ID]
	f.repo.mu.Unlock()
	require.False(t, ok)
}

func TestDeleteMissingOrder(t *testing.T) {
	f := newServiceFixture(t)
	err := f.service.Delete(context.Background(), 12345)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newServiceFixture(t)
	po := f.createDraft(t)
	f.createDraft(t)
	f.moveToStage(t, po.ID, workflow.StagePendingApproval)
	ctx := context.Background()

	_, err := f.service.Reject(ctx, po.ID, 100, "duplicate order")
	require.NoError(t, err)

	items, total, err := f.service.List(ctx, 20, 0, ListFilters{Status: string(StatusRejected)})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, po.ID, items[0].ID)
}
