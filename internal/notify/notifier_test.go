package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/purchaseorder"
	"github.com/medimart-erp/medimart-erp/jobs"
)

type enqueuerFake struct {
	payloads []jobs.SendEmailPayload
	err      error
}

func (f *enqueuerFake) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{}, nil
}

type directoryFake struct {
	principal principals.Principal
	err       error
}

func (f *directoryFake) FindByID(ctx context.Context, id int64) (principals.Principal, error) {
	if f.err != nil {
		return principals.Principal{}, f.err
	}
	return f.principal, nil
}

func testOrder() purchaseorder.PurchaseOrder {
	return purchaseorder.PurchaseOrder{
		PONumber:    "MM-APE-280826/001",
		PrincipalID: 7,
		GrandTotal:  1234.56,
		Products:    []purchaseorder.ProductLine{{ProductName: "Paracetamol 500mg"}},
	}
}

func TestOrderPlacedEnqueuesToPrincipal(t *testing.T) {
	enqueuer := &enqueuerFake{}
	directory := &directoryFake{principal: principals.Principal{ID: 7, Name: "Apex Pharma", Email: "orders@apexpharma.example"}}
	notifier := NewEmailNotifier(enqueuer, directory, "procurement@medimart.local", slog.Default())

	err := notifier.OrderPlaced(context.Background(), testOrder())
	require.NoError(t, err)
	require.Len(t, enqueuer.payloads, 1)

	payload := enqueuer.payloads[0]
	require.Equal(t, "orders@apexpharma.example", payload.To)
	require.Contains(t, payload.Subject, "MM-APE-280826/001")
	require.Contains(t, payload.Body, "Apex Pharma")
	require.Contains(t, payload.Body, "1,234.56")
}

func TestOrderPlacedFallsBackToProcurementMailbox(t *testing.T) {
	enqueuer := &enqueuerFake{}
	directory := &directoryFake{principal: principals.Principal{ID: 7, Name: "Apex Pharma"}}
	notifier := NewEmailNotifier(enqueuer, directory, "procurement@medimart.local", slog.Default())

	err := notifier.OrderPlaced(context.Background(), testOrder())
	require.NoError(t, err)
	require.Equal(t, "procurement@medimart.local", enqueuer.payloads[0].To)
}

func TestOrderPlacedNoRecipient(t *testing.T) {
	enqueuer := &enqueuerFake{}
	directory := &directoryFake{err: principals.ErrNotFound}
	notifier := NewEmailNotifier(enqueuer, directory, "", slog.Default())

	err := notifier.OrderPlaced(context.Background(), testOrder())
	require.Error(t, err)
	require.Empty(t, enqueuer.payloads)
}

func TestOrderPlacedEnqueueFailure(t *testing.T) {
	enqueuer := &enqueuerFake{err: errors.New("redis down")}
	directory := &directoryFake{principal: principals.Principal{ID: 7, Name: "Apex Pharma", Email: "orders@apexpharma.example"}}
	notifier := NewEmailNotifier(enqueuer, directory, "", slog.Default())

	err := notifier.OrderPlaced(context.Background(), testOrder())
	require.Error(t, err)
	require.Contains(t, err.Error(), "enqueue order email")
}
