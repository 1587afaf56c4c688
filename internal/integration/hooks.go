package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Ledger exposes the posting operation required by integrations.
type Ledger interface {
	Post(ctx context.Context, ev accounting.Event) (accounting.Result, error)
}

// LedgerPostError wraps a failed post with whether the workflow may retry it.
type LedgerPostError struct {
	Key       accounting.PostingKey
	Retryable bool
	Err       error
}

func (e *LedgerPostError) Error() string {
	return fmt.Sprintf("integration: post %s: %v", e.Key, e.Err)
}

func (e *LedgerPostError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient ledger failure.
func IsRetryable(err error) bool {
	var postErr *LedgerPostError
	if errors.As(err, &postErr) {
		return postErr.Retryable
	}
	return false
}

// retryable is false for failures that repeat until data or configuration changes.
func retryable(err error) bool {
	switch {
	case errors.Is(err, accounting.ErrConfiguration),
		errors.Is(err, accounting.ErrInvariant),
		errors.Is(err, accounting.ErrRecordNotFound),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, logger: logger}
}

// post submits ev; a skipped duplicate counts as success.
func (h *Hooks) post(ctx context.Context, ev accounting.Event) error {
	if ev.Source.ID <= 0 {
		return errors.New("integration: source id required")
	}
	if len(ev.Lines) == 0 {
		h.logger.Debug("integration: nothing to post", slog.String("key", ev.Key().String()))
		return nil
	}
	res, err := h.ledger.Post(ctx, ev)
	if err != nil {
		return &LedgerPostError{Key: ev.Key(), Retryable: retryable(err), Err: err}
	}
	if res.Status == accounting.StatusSkipped {
		h.logger.Info("integration: posting already recorded", slog.String("key", ev.Key().String()))
	}
	return nil
}

// HandleSalesInvoiceFinalized posts revenue and opens the receivable.
func (h *Hooks) HandleSalesInvoiceFinalized(ctx context.Context, evt SalesInvoiceFinalized) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.IssuedAt.IsZero() {
		return errors.New("integration: invoice date required")
	}
	return h.post(ctx, SalesInvoiceEvent(evt))
}

// HandlePurchaseInvoiceFinalized posts the supplier invoice and opens the payable.
func (h *Hooks) HandlePurchaseInvoiceFinalized(ctx context.Context, evt PurchaseInvoiceFinalized) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.IssuedAt.IsZero() {
		return errors.New("integration: invoice date required")
	}
	return h.post(ctx, PurchaseInvoiceEvent(evt))
}

// HandleCustomerReceiptPosted posts a customer payment against its invoices.
func (h *Hooks) HandleCustomerReceiptPosted(ctx context.Context, evt CustomerReceiptPosted) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.ReceivedAt.IsZero() {
		return errors.New("integration: receipt date required")
	}
	ev, err := CustomerReceiptEvent(evt)
	if err != nil {
		return err
	}
	return h.post(ctx, ev)
}

// HandleVendorPaymentPosted posts a supplier payment against its invoices.
func (h *Hooks) HandleVendorPaymentPosted(ctx context.Context, evt VendorPaymentPosted) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.PaidAt.IsZero() {
		return errors.New("integration: payment date required")
	}
	ev, err := VendorPaymentEvent(evt)
	if err != nil {
		return err
	}
	return h.post(ctx, ev)
}

// HandleDeliveryCompleted posts cost of goods sold for a delivery.
func (h *Hooks) HandleDeliveryCompleted(ctx context.Context, evt DeliveryCompleted) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.DeliveredAt.IsZero() {
		return errors.New("integration: delivery date required")
	}
	return h.post(ctx, DeliveryEvent(evt))
}

// HandleDepositReceived posts a customer or supplier advance.
func (h *Hooks) HandleDepositReceived(ctx context.Context, evt DepositReceived) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.At.IsZero() {
		return errors.New("integration: deposit date required")
	}
	if !evt.Amount.IsPositive() {
		return nil
	}
	ev, err := DepositEvent(evt)
	if err != nil {
		return err
	}
	return h.post(ctx, ev)
}
