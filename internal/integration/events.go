package integration

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects the cash or bank side of a settlement.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodBank PaymentMethod = "bank"
)

// SalesInvoiceFinalized is emitted when a sales invoice leaves draft.
type SalesInvoiceFinalized struct {
	ID         int64
	Number     string
	CustomerID int64
	BranchID   *int64
	IssuedAt   time.Time
	DueAt      time.Time
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	ActorID    int64
}

// PurchaseInvoiceFinalized is emitted when a supplier invoice is approved.
type PurchaseInvoiceFinalized struct {
	ID         int64
	Number     string
	SupplierID int64
	BranchID   *int64
	GRNID      int64
	Import     bool
	IssuedAt   time.Time
	DueAt      time.Time
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	ActorID    int64
}

// Allocation applies part of a payment to one invoice.
type Allocation struct {
	InvoiceID int64
	Amount    decimal.Decimal
}

// CustomerReceiptPosted is emitted when a customer payment is confirmed.
type CustomerReceiptPosted struct {
	ID          int64
	Number      string
	CustomerID  int64
	BranchID    *int64
	ReceivedAt  time.Time
	Method      PaymentMethod
	MethodID    int64
	Paid        decimal.Decimal
	DepositUsed decimal.Decimal
	Allocations []Allocation
	ActorID     int64
}

// VendorPaymentPosted is emitted when a supplier payment is released.
type VendorPaymentPosted struct {
	ID          int64
	Number      string
	SupplierID  int64
	BranchID    *int64
	PaidAt      time.Time
	Method      PaymentMethod
	MethodID    int64
	Paid        decimal.Decimal
	DepositUsed decimal.Decimal
	Allocations []Allocation
	Import      bool
	VAT         decimal.Decimal
	ImportDuty  decimal.Decimal
	ActorID     int64
}

// DeliveryLine carries the cost of goods shipped for one product.
type DeliveryLine struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// DeliveryCompleted is emitted when a delivery order is confirmed.
type DeliveryCompleted struct {
	ID          int64
	Number      string
	BranchID    *int64
	DeliveredAt time.Time
	Lines       []DeliveryLine
	ActorID     int64
}

// DepositDirection tells customer deposits from supplier prepayments.
type DepositDirection string

const (
	DepositFromCustomer DepositDirection = "customer"
	DepositToSupplier   DepositDirection = "supplier"
)

// DepositReceived is emitted when an advance is received or paid.
type DepositReceived struct {
	ID             int64
	Number         string
	Direction      DepositDirection
	CounterpartyID int64
	BranchID       *int64
	At             time.Time
	Method         PaymentMethod
	MethodID       int64
	Amount         decimal.Decimal
	ActorID        int64
}
