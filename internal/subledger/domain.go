package subledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes receivable from payable records.
type Kind string

const (
	KindReceivable Kind = "AR"
	KindPayable    Kind = "AP"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k == KindReceivable || k == KindPayable
}

// Status enumerates settlement states derived from paid vs total.
type Status string

const (
	StatusUnpaid        Status = "UNPAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
)

// OverpaymentPolicy decides what happens when an allocation exceeds the remaining balance.
type OverpaymentPolicy string

const (
	// OverpaymentAllow records the payment and lets remaining go negative.
	OverpaymentAllow OverpaymentPolicy = "allow"
	// OverpaymentReject refuses allocations larger than the remaining balance.
	OverpaymentReject OverpaymentPolicy = "reject"
)

// ParseOverpaymentPolicy maps configuration values to a policy.
func ParseOverpaymentPolicy(raw string) (OverpaymentPolicy, error) {
	switch OverpaymentPolicy(raw) {
	case "", OverpaymentAllow:
		return OverpaymentAllow, nil
	case OverpaymentReject:
		return OverpaymentReject, nil
	default:
		return "", fmt.Errorf("subledger: unknown overpayment policy %q", raw)
	}
}

var (
	// ErrOverpayment indicates an allocation larger than the remaining balance under the reject policy.
	ErrOverpayment = errors.New("subledger: allocation exceeds remaining balance")
	// ErrInvalidAmount indicates a non-positive total or allocation.
	ErrInvalidAmount = errors.New("subledger: amount must be positive")
	// ErrInconsistent indicates remaining != total - paid or a stale status.
	ErrInconsistent = errors.New("subledger: record inconsistent")
)

// Record is the per-invoice running balance kept alongside the control account.
type Record struct {
	ID             int64
	Kind           Kind
	InvoiceID      int64
	CounterpartyID int64
	BranchID       *int64
	InvoiceDate    time.Time
	DueDate        time.Time
	Total          decimal.Decimal
	Paid           decimal.Decimal
	Remaining      decimal.Decimal
	Status         Status
	Bucket         Bucket
	RetiredAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Allocation ties part of a payment posting to a record.
type Allocation struct {
	ID        int64
	RecordID  int64
	PostingID int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Filter scopes record listings.
type Filter struct {
	Kind           Kind
	CounterpartyID int64
	BranchID       *int64
	IncludeSettled bool
	IncludeRetired bool
}

// Match reports whether the record passes the filter.
func (f Filter) Match(r Record) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.CounterpartyID != 0 && r.CounterpartyID != f.CounterpartyID {
		return false
	}
	if f.BranchID != nil && (r.BranchID == nil || *r.BranchID != *f.BranchID) {
		return false
	}
	if !f.IncludeRetired && r.RetiredAt != nil {
		return false
	}
	if !f.IncludeSettled && !r.Remaining.IsPositive() {
		return false
	}
	return true
}

// DeriveStatus computes settlement status from paid and total.
func DeriveStatus(total, paid decimal.Decimal) Status {
	switch {
	case paid.IsZero():
		return StatusUnpaid
	case paid.LessThan(total):
		return StatusPartiallyPaid
	default:
		return StatusPaid
	}
}

// NewRecord opens a record for a freshly issued invoice.
func NewRecord(kind Kind, invoiceID, counterpartyID int64, invoiceDate, dueDate time.Time, total decimal.Decimal, now time.Time) (Record, error) {
	if !kind.Valid() {
		return Record{}, fmt.Errorf("subledger: unknown kind %q", kind)
	}
	if invoiceID == 0 {
		return Record{}, errors.New("subledger: invoice id required")
	}
	if !total.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	rec := Record{
		Kind:           kind,
		InvoiceID:      invoiceID,
		CounterpartyID: counterpartyID,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		Total:          total,
		CreatedAt:      now,
	}
	rec.SetPaid(decimal.Zero, invoiceDate, now)
	return rec, nil
}

// SetPaid overwrites the paid amount and re-derives every dependent field.
func (r *Record) SetPaid(paid decimal.Decimal, asOf, now time.Time) {
	r.Paid = paid
	r.Remaining = r.Total.Sub(paid)
	r.Status = DeriveStatus(r.Total, paid)
	r.Bucket = Classify(r.InvoiceDate, r.DueDate, asOf)
	r.UpdatedAt = now
}

// Reissue replaces total and dates, keeping already allocated payments.
func (r *Record) Reissue(total decimal.Decimal, counterpartyID int64, invoiceDate, dueDate time.Time, now time.Time) error {
	if !total.IsPositive() {
		return ErrInvalidAmount
	}
	r.Total = total
	r.CounterpartyID = counterpartyID
	r.InvoiceDate = invoiceDate
	r.DueDate = dueDate
	r.RetiredAt = nil
	r.SetPaid(r.Paid, invoiceDate, now)
	return nil
}

// ApplyPayment adds an allocation under the given overpayment policy.
func (r *Record) ApplyPayment(amount decimal.Decimal, policy OverpaymentPolicy, asOf, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if policy == OverpaymentReject && amount.GreaterThan(r.Remaining) {
		return fmt.Errorf("%w: invoice %d remaining %s, allocation %s", ErrOverpayment, r.InvoiceID, r.Remaining.StringFixed(2), amount.StringFixed(2))
	}
	r.SetPaid(r.Paid.Add(amount), asOf, now)
	return nil
}

// Retire soft-deletes the record; it stays queryable for audit.
func (r *Record) Retire(now time.Time) {
	r.RetiredAt = &now
	r.UpdatedAt = now
}

// Reclassify refreshes the ageing bucket for a new as-of date.
func (r *Record) Reclassify(asOf time.Time) bool {
	bucket := Classify(r.InvoiceDate, r.DueDate, asOf)
	if bucket == r.Bucket {
		return false
	}
	r.Bucket = bucket
	return true
}

// Validate checks the remaining and status invariants.
func (r Record) Validate() error {
	if !r.Remaining.Equal(r.Total.Sub(r.Paid)) {
		return fmt.Errorf("%w: remaining %s != total %s - paid %s", ErrInconsistent, r.Remaining, r.Total, r.Paid)
	}
	if want := DeriveStatus(r.Total, r.Paid); r.Status != want {
		return fmt.Errorf("%w: status %s, expected %s", ErrInconsistent, r.Status, want)
	}
	return nil
}
