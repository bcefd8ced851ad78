// Package notify dispatches outbound purchase order notifications through
// the background job queue. Enqueue failures surface to the caller so the
// transition result can carry a warning, but they never affect the already
// committed state change.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/principals"
	"github.com/medimart-erp/medimart-erp/internal/purchaseorder"
	"github.com/medimart-erp/medimart-erp/jobs"
)

// Enqueuer submits email tasks to the queue.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// PrincipalDirectory resolves principal contact details.
type PrincipalDirectory interface {
	FindByID(ctx context.Context, id int64) (principals.Principal, error)
}

// EmailNotifier builds and enqueues the order placed email.
type EmailNotifier struct {
	enqueuer   Enqueuer
	directory  PrincipalDirectory
	procurerTo string
	logger     *slog.Logger
	printer    *message.Printer
}

// NewEmailNotifier constructs an EmailNotifier. procurerTo is an optional
// internal mailbox copied on every order placed notification.
func NewEmailNotifier(enqueuer Enqueuer, directory PrincipalDirectory, procurerTo string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		enqueuer:   enqueuer,
		directory:  directory,
		procurerTo: procurerTo,
		logger:     logger,
		printer:    message.NewPrinter(language.English),
	}
}

// OrderPlaced notifies the principal that the purchase order has been
// placed. The recipient is the principal's email, falling back to the
// configured procurement mailbox when the principal has none on file.
func (n *EmailNotifier) OrderPlaced(ctx context.Context, po purchaseorder.PurchaseOrder) error {
	recipient := n.procurerTo
	principalName := ""
	principal, err := n.directory.FindByID(ctx, po.PrincipalID)
	if err != nil {
		n.logger.Warn("order notification principal lookup",
			slog.Int64("principal_id", po.PrincipalID), slog.Any("error", err))
	} else {
		principalName = principal.Name
		if strings.TrimSpace(principal.Email) != "" {
			recipient = principal.Email
		}
	}
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("no recipient for purchase order %s", po.PONumber)
	}
	payload := jobs.SendEmailPayload{
		To:      recipient,
		Subject: fmt.Sprintf("Purchase Order %s Placed", po.PONumber),
		Body:    n.orderBody(po, principalName),
	}
	if _, err := n.enqueuer.EnqueueSendEmail(ctx, payload); err != nil {
		return fmt.Errorf("enqueue order email: %w", err)
	}
	n.logger.Info("order notification enqueued",
		slog.String("po_number", po.PONumber), slog.String("to", recipient))
	return nil
}

func (n *EmailNotifier) orderBody(po purchaseorder.PurchaseOrder, principalName string) string {
	var b strings.Builder
	if principalName == "" {
		fmt.Fprintf(&b, "Purchase order %s has been placed.\n\n", po.PONumber)
	} else {
		fmt.Fprintf(&b, "Purchase order %s has been placed with %s.\n\n", po.PONumber, principalName)
	}
	fmt.Fprintf(&b, "Lines: %d\n", len(po.Products))
	b.WriteString(n.printer.Sprintf("Grand Total: %.2f\n", po.GrandTotal))
	if po.Remarks != "" {
		fmt.Fprintf(&b, "\nRemarks: %s\n", po.Remarks)
	}
	b.WriteString("\nThis is an automated notification from MediMart Procure.\n")
	return b.String()
}
