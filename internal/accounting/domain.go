package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Side is the debit or credit column of an entry.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Opposite flips the side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// NormalSide returns the side on which the account type increases.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Valid reports whether the type is one of the five CoA classes.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// Account models a chart of accounts node.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	OpeningBalance decimal.Decimal
	IsActive       bool
	IsCurrent      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SourceKind tags the business object that caused a posting.
type SourceKind string

const (
	SourceSalesInvoice      SourceKind = "sales_invoice"
	SourcePurchaseInvoice   SourceKind = "purchase_invoice"
	SourceCustomerReceipt   SourceKind = "customer_receipt"
	SourceVendorPayment     SourceKind = "vendor_payment"
	SourceAssetDepreciation SourceKind = "asset_depreciation"
	SourceDeliveryOrder     SourceKind = "delivery_order"
	SourceDeposit           SourceKind = "deposit"
)

// Valid reports whether the kind is known.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceSalesInvoice, SourcePurchaseInvoice, SourceCustomerReceipt, SourceVendorPayment,
		SourceAssetDepreciation, SourceDeliveryOrder, SourceDeposit:
		return true
	}
	return false
}

// SourceRef identifies a business object, e.g. sales_invoice#42.
type SourceRef struct {
	Kind SourceKind
	ID   int64
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// EventType names the business event being posted.
type EventType string

const (
	EventSalesInvoiceIssued          EventType = "sales_invoice_issued"
	EventPurchaseInvoiceIssued       EventType = "purchase_invoice_issued"
	EventImportPurchaseInvoiceIssued EventType = "import_purchase_invoice_issued"
	EventCustomerPaymentReceived     EventType = "customer_payment_received"
	EventVendorPaymentMade           EventType = "vendor_payment_made"
	EventImportVendorPaymentMade     EventType = "import_vendor_payment_made"
	EventDepreciationRecorded        EventType = "depreciation_recorded"
	EventGoodsDelivered              EventType = "goods_delivered"
	EventCustomerDepositReceived     EventType = "customer_deposit_received"
	EventSupplierDepositPaid         EventType = "supplier_deposit_paid"
)

// Category is the journal the entries belong to.
type Category string

const (
	CategorySales        Category = "sales"
	CategoryProcurement  Category = "procurement"
	CategoryDepreciation Category = "depreciation"
	CategoryCashFlow     Category = "cash_flow"
	CategoryInventory    Category = "inventory"
)

// PostingKey is the idempotency key of a posting transaction.
type PostingKey struct {
	Source SourceRef
	Event  EventType
}

func (k PostingKey) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.Event)
}

// Reference derives a stable reference code for the key.
func (k PostingKey) Reference() string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(k.String())).String()
}

// Posting is the header of a balanced group of journal entries.
type Posting struct {
	ID          int64
	Source      SourceRef
	Event       EventType
	Category    Category
	Date        time.Time
	Description string
	Reference   string
	BranchID    *int64
	PostedBy    int64
	PostedAt    time.Time
	ReversedAt  *time.Time
}

// Key returns the idempotency key.
func (p Posting) Key() PostingKey {
	return PostingKey{Source: p.Source, Event: p.Event}
}

// JournalEntry is a single append-only ledger line.
type JournalEntry struct {
	ID          int64
	PostingID   int64
	AccountID   int64
	Date        time.Time
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	Reference   string
	Source      SourceRef
	Event       EventType
	Category    Category
	BranchID    *int64
	CreatedAt   time.Time
}

// Side reports which column carries the amount.
func (e JournalEntry) Side() Side {
	if e.Debit.IsPositive() {
		return SideDebit
	}
	return SideCredit
}

// Amount returns the non-zero column.
func (e JournalEntry) Amount() decimal.Decimal {
	if e.Debit.IsPositive() {
		return e.Debit
	}
	return e.Credit
}

// AccountRole names the job an account plays in a posting rule.
type AccountRole string

const (
	RoleReceivable              AccountRole = "receivable"
	RolePayable                 AccountRole = "payable"
	RoleRevenue                 AccountRole = "revenue"
	RoleOutputTax               AccountRole = "output_tax"
	RoleInputTax                AccountRole = "input_tax"
	RoleImportTax               AccountRole = "import_tax"
	RoleExpense                 AccountRole = "expense"
	RoleInventory               AccountRole = "inventory"
	RoleCOGS                    AccountRole = "cogs"
	RoleCash                    AccountRole = "cash"
	RoleBank                    AccountRole = "bank"
	RoleCustomerDeposit         AccountRole = "customer_deposit"
	RoleSupplierDeposit         AccountRole = "supplier_deposit"
	RoleDepreciationExpense     AccountRole = "depreciation_expense"
	RoleAccumulatedDepreciation AccountRole = "accumulated_depreciation"
)

// ScopeKind narrows an account mapping to a business object.
type ScopeKind string

const (
	ScopeDefault       ScopeKind = ""
	ScopeProduct       ScopeKind = "product"
	ScopePaymentMethod ScopeKind = "payment_method"
	ScopeAsset         ScopeKind = "asset"
	ScopeCounterparty  ScopeKind = "counterparty"
)

// MappingScope selects a specific mapping; the zero value is the company default.
type MappingScope struct {
	Kind ScopeKind
	ID   int64
}

// IsDefault reports whether the scope is the company-wide fallback.
func (s MappingScope) IsDefault() bool {
	return s.Kind == ScopeDefault || s.ID == 0
}

func (s MappingScope) String() string {
	if s.IsDefault() {
		return "default"
	}
	return fmt.Sprintf("%s#%d", s.Kind, s.ID)
}

// AccountMapping links a role (optionally scoped) to a ledger account.
type AccountMapping struct {
	Role      AccountRole
	Scope     MappingScope
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventLine is an amount attached to an account role.
type EventLine struct {
	Role      AccountRole
	Amount    decimal.Decimal
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Scope     MappingScope
	InvoiceID int64
	Memo      string
}

// Value is the monetary value of the line. A quantity line is valued at quantity × unit cost
// rounded to cents; an amount line is taken as given.
func (l EventLine) Value() decimal.Decimal {
	if !l.Quantity.IsZero() {
		return l.Quantity.Mul(l.UnitCost).Round(2)
	}
	return l.Amount
}

// Event is the payload a workflow hands to the posting service.
type Event struct {
	Type           EventType
	Source         SourceRef
	Date           time.Time
	Description    string
	Reference      string
	BranchID       *int64
	CounterpartyID int64
	InvoiceDate    time.Time
	DueDate        time.Time
	Lines          []EventLine
	ActorID        int64
}

// Key returns the idempotency key of the event.
func (e Event) Key() PostingKey {
	return PostingKey{Source: e.Source, Event: e.Type}
}

// PostStatus reports whether a post wrote entries.
type PostStatus string

const (
	StatusPosted  PostStatus = "posted"
	StatusSkipped PostStatus = "skipped"
)

// Result is returned by Post.
type Result struct {
	Status  PostStatus
	Posting Posting
	Entries []JournalEntry
}

// ReverseMode selects how a posting is undone.
type ReverseMode string

const (
	// ReverseDelete removes the entries so balances recompute as if never posted.
	ReverseDelete ReverseMode = "delete"
	// ReverseOffset appends mirrored entries and keeps the originals.
	ReverseOffset ReverseMode = "offset"
)

// ParseReverseMode maps configuration values to a mode.
func ParseReverseMode(raw string) (ReverseMode, error) {
	switch ReverseMode(raw) {
	case "", ReverseDelete:
		return ReverseDelete, nil
	case ReverseOffset:
		return ReverseOffset, nil
	default:
		return "", fmt.Errorf("accounting: unknown reversal mode %q", raw)
	}
}

// ReverseStatus reports the outcome of a reversal.
type ReverseStatus string

const (
	StatusReversed ReverseStatus = "reversed"
	StatusNotFound ReverseStatus = "not_found"
)

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	Source  SourceRef
	Event   EventType
	Mode    ReverseMode
	ActorID int64
	Reason  string
}

// ReverseResult is returned by Reverse.
type ReverseResult struct {
	Status  ReverseStatus
	Posting Posting
	Entries []JournalEntry
}

// BalanceQuery bounds a balance computation. Branch and period are always explicit.
type BalanceQuery struct {
	AsOf            time.Time
	From            *time.Time
	BranchID        *int64
	IncludeChildren bool
}

// EntryFilter restricts entry listings for balance reads.
type EntryFilter struct {
	From     *time.Time
	To       time.Time
	BranchID *int64
}
