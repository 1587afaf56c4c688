package integration

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

var errUnknownMethod = errors.New("integration: unknown payment method")

func methodLine(method PaymentMethod, methodID int64, amount decimal.Decimal) (accounting.EventLine, error) {
	var role accounting.AccountRole
	switch method {
	case MethodCash, "":
		role = accounting.RoleCash
	case MethodBank:
		role = accounting.RoleBank
	default:
		return accounting.EventLine{}, fmt.Errorf("%w: %q", errUnknownMethod, method)
	}
	return accounting.EventLine{
		Role:   role,
		Amount: amount,
		Scope:  accounting.MappingScope{Kind: accounting.ScopePaymentMethod, ID: methodID},
	}, nil
}

// appendPositive drops zero lines so optional legs never reach the ledger.
func appendPositive(lines []accounting.EventLine, line accounting.EventLine) []accounting.EventLine {
	if line.Value().IsPositive() {
		return append(lines, line)
	}
	return lines
}

func allocationLines(role accounting.AccountRole, allocations []Allocation) []accounting.EventLine {
	lines := make([]accounting.EventLine, 0, len(allocations))
	for _, a := range allocations {
		lines = appendPositive(lines, accounting.EventLine{Role: role, Amount: a.Amount, InvoiceID: a.InvoiceID})
	}
	return lines
}

// SalesInvoiceEvent maps a finalized sales invoice.
func SalesInvoiceEvent(evt SalesInvoiceFinalized) accounting.Event {
	lines := appendPositive(nil, accounting.EventLine{Role: accounting.RoleRevenue, Amount: evt.Subtotal})
	lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleOutputTax, Amount: evt.Tax})
	return accounting.Event{
		Type:           accounting.EventSalesInvoiceIssued,
		Source:         accounting.SourceRef{Kind: accounting.SourceSalesInvoice, ID: evt.ID},
		Date:           evt.IssuedAt,
		Description:    fmt.Sprintf("Sales Invoice %s", evt.Number),
		Reference:      evt.Number,
		BranchID:       evt.BranchID,
		CounterpartyID: evt.CustomerID,
		InvoiceDate:    evt.IssuedAt,
		DueDate:        evt.DueAt,
		Lines:          lines,
		ActorID:        evt.ActorID,
	}
}

// PurchaseInvoiceEvent maps a supplier invoice. Receipted goods debit inventory,
// others debit expense; import invoices carry their taxes on the payment.
func PurchaseInvoiceEvent(evt PurchaseInvoiceFinalized) accounting.Event {
	debit := accounting.RoleExpense
	if evt.GRNID != 0 {
		debit = accounting.RoleInventory
	}
	eventType := accounting.EventPurchaseInvoiceIssued
	lines := appendPositive(nil, accounting.EventLine{Role: debit, Amount: evt.Subtotal})
	if evt.Import {
		eventType = accounting.EventImportPurchaseInvoiceIssued
	} else {
		lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleInputTax, Amount: evt.Tax})
	}
	return accounting.Event{
		Type:           eventType,
		Source:         accounting.SourceRef{Kind: accounting.SourcePurchaseInvoice, ID: evt.ID},
		Date:           evt.IssuedAt,
		Description:    fmt.Sprintf("Purchase Invoice %s", evt.Number),
		Reference:      evt.Number,
		BranchID:       evt.BranchID,
		CounterpartyID: evt.SupplierID,
		InvoiceDate:    evt.IssuedAt,
		DueDate:        evt.DueAt,
		Lines:          lines,
		ActorID:        evt.ActorID,
	}
}

// CustomerReceiptEvent maps a customer payment split across money and deposit.
func CustomerReceiptEvent(evt CustomerReceiptPosted) (accounting.Event, error) {
	money, err := methodLine(evt.Method, evt.MethodID, evt.Paid)
	if err != nil {
		return accounting.Event{}, err
	}
	lines := allocationLines(accounting.RoleReceivable, evt.Allocations)
	lines = appendPositive(lines, money)
	lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleCustomerDeposit, Amount: evt.DepositUsed})
	return accounting.Event{
		Type:           accounting.EventCustomerPaymentReceived,
		Source:         accounting.SourceRef{Kind: accounting.SourceCustomerReceipt, ID: evt.ID},
		Date:           evt.ReceivedAt,
		Description:    fmt.Sprintf("Customer Receipt %s", evt.Number),
		Reference:      evt.Number,
		BranchID:       evt.BranchID,
		CounterpartyID: evt.CustomerID,
		Lines:          lines,
		ActorID:        evt.ActorID,
	}, nil
}

// VendorPaymentEvent maps a supplier payment, adding import VAT and duty when present.
func VendorPaymentEvent(evt VendorPaymentPosted) (accounting.Event, error) {
	money, err := methodLine(evt.Method, evt.MethodID, evt.Paid)
	if err != nil {
		return accounting.Event{}, err
	}
	eventType := accounting.EventVendorPaymentMade
	lines := allocationLines(accounting.RolePayable, evt.Allocations)
	if evt.Import {
		eventType = accounting.EventImportVendorPaymentMade
		lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleInputTax, Amount: evt.VAT})
		lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleImportTax, Amount: evt.ImportDuty})
	}
	lines = appendPositive(lines, money)
	lines = appendPositive(lines, accounting.EventLine{Role: accounting.RoleSupplierDeposit, Amount: evt.DepositUsed})
	return accounting.Event{
		Type:           eventType,
		Source:         accounting.SourceRef{Kind: accounting.SourceVendorPayment, ID: evt.ID},
		Date:           evt.PaidAt,
		Description:    fmt.Sprintf("Vendor Payment %s", evt.Number),
		Reference:      evt.Number,
		BranchID:       evt.BranchID,
		CounterpartyID: evt.SupplierID,
		Lines:          lines,
		ActorID:        evt.ActorID,
	}, nil
}

// DeliveryEvent maps shipped goods to COGS at product-scoped inventory cost.
func DeliveryEvent(evt DeliveryCompleted) accounting.Event {
	lines := make([]accounting.EventLine, 0, len(evt.Lines))
	for _, l := range evt.Lines {
		lines = appendPositive(lines, accounting.EventLine{
			Role:     accounting.RoleCOGS,
			Quantity: l.Qty,
			UnitCost: l.UnitCost,
			Scope:    accounting.MappingScope{Kind: accounting.ScopeProduct, ID: l.ProductID},
		})
	}
	return accounting.Event{
		Type:        accounting.EventGoodsDelivered,
		Source:      accounting.SourceRef{Kind: accounting.SourceDeliveryOrder, ID: evt.ID},
		Date:        evt.DeliveredAt,
		Description: fmt.Sprintf("Delivery %s", evt.Number),
		Reference:   evt.Number,
		BranchID:    evt.BranchID,
		Lines:       lines,
		ActorID:     evt.ActorID,
	}
}

// DepositEvent maps an advance received from a customer or paid to a supplier.
func DepositEvent(evt DepositReceived) (accounting.Event, error) {
	money, err := methodLine(evt.Method, evt.MethodID, evt.Amount)
	if err != nil {
		return accounting.Event{}, err
	}
	ev := accounting.Event{
		Source:         accounting.SourceRef{Kind: accounting.SourceDeposit, ID: evt.ID},
		Date:           evt.At,
		Reference:      evt.Number,
		BranchID:       evt.BranchID,
		CounterpartyID: evt.CounterpartyID,
		ActorID:        evt.ActorID,
	}
	switch evt.Direction {
	case DepositFromCustomer:
		ev.Type = accounting.EventCustomerDepositReceived
		ev.Description = fmt.Sprintf("Customer Deposit %s", evt.Number)
		ev.Lines = []accounting.EventLine{{Role: accounting.RoleCustomerDeposit, Amount: evt.Amount}, money}
	case DepositToSupplier:
		ev.Type = accounting.EventSupplierDepositPaid
		ev.Description = fmt.Sprintf("Supplier Deposit %s", evt.Number)
		ev.Lines = []accounting.EventLine{{Role: accounting.RoleSupplierDeposit, Amount: evt.Amount}, money}
	default:
		return accounting.Event{}, fmt.Errorf("integration: unknown deposit direction %q", evt.Direction)
	}
	return ev, nil
}
