package accounting

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

type subledgerEffect int

const (
	effectNone subledgerEffect = iota
	effectOpen
	effectSettle
)

// rule fixes, per event type, which roles may appear and on which side.
type rule struct {
	source   SourceKind
	category Category
	sides    map[AccountRole]Side
	// counter is derived per line and merged by account.
	counter     AccountRole
	counterSide Side
	// counterScope picks the mapping scope of the counter line.
	counterScope func(ev Event, line EventLine) MappingScope
	effect       subledgerEffect
	kind         subledger.Kind
	// allocation is the role whose lines settle subsidiary ledger records.
	allocation AccountRole
	quantity   bool
}

func lineScope(_ Event, line EventLine) MappingScope {
	return line.Scope
}

func counterpartyScope(ev Event, _ EventLine) MappingScope {
	return MappingScope{Kind: ScopeCounterparty, ID: ev.CounterpartyID}
}

var rules = map[EventType]rule{
	EventSalesInvoiceIssued: {
		source:       SourceSalesInvoice,
		category:     CategorySales,
		sides:        map[AccountRole]Side{RoleRevenue: SideCredit, RoleOutputTax: SideCredit},
		counter:      RoleReceivable,
		counterSide:  SideDebit,
		counterScope: counterpartyScope,
		effect:       effectOpen,
		kind:         subledger.KindReceivable,
	},
	EventPurchaseInvoiceIssued: {
		source:       SourcePurchaseInvoice,
		category:     CategoryProcurement,
		sides:        map[AccountRole]Side{RoleExpense: SideDebit, RoleInventory: SideDebit, RoleInputTax: SideDebit},
		counter:      RolePayable,
		counterSide:  SideCredit,
		counterScope: counterpartyScope,
		effect:       effectOpen,
		kind:         subledger.KindPayable,
	},
	EventImportPurchaseInvoiceIssued: {
		source:       SourcePurchaseInvoice,
		category:     CategoryProcurement,
		sides:        map[AccountRole]Side{RoleExpense: SideDebit, RoleInventory: SideDebit},
		counter:      RolePayable,
		counterSide:  SideCredit,
		counterScope: counterpartyScope,
		effect:       effectOpen,
		kind:         subledger.KindPayable,
	},
	EventCustomerPaymentReceived: {
		source:   SourceCustomerReceipt,
		category: CategoryCashFlow,
		sides: map[AccountRole]Side{
			RoleReceivable:      SideCredit,
			RoleCash:            SideDebit,
			RoleBank:            SideDebit,
			RoleCustomerDeposit: SideDebit,
		},
		effect:     effectSettle,
		kind:       subledger.KindReceivable,
		allocation: RoleReceivable,
	},
	EventVendorPaymentMade: {
		source:   SourceVendorPayment,
		category: CategoryCashFlow,
		sides: map[AccountRole]Side{
			RolePayable:         SideDebit,
			RoleCash:            SideCredit,
			RoleBank:            SideCredit,
			RoleSupplierDeposit: SideCredit,
		},
		effect:     effectSettle,
		kind:       subledger.KindPayable,
		allocation: RolePayable,
	},
	EventImportVendorPaymentMade: {
		source:   SourceVendorPayment,
		category: CategoryCashFlow,
		sides: map[AccountRole]Side{
			RolePayable:         SideDebit,
			RoleInputTax:        SideDebit,
			RoleImportTax:       SideDebit,
			RoleCash:            SideCredit,
			RoleBank:            SideCredit,
			RoleSupplierDeposit: SideCredit,
		},
		effect:     effectSettle,
		kind:       subledger.KindPayable,
		allocation: RolePayable,
	},
	EventDepreciationRecorded: {
		source:       SourceAssetDepreciation,
		category:     CategoryDepreciation,
		sides:        map[AccountRole]Side{RoleDepreciationExpense: SideDebit},
		counter:      RoleAccumulatedDepreciation,
		counterSide:  SideCredit,
		counterScope: lineScope,
	},
	EventGoodsDelivered: {
		source:       SourceDeliveryOrder,
		category:     CategoryInventory,
		sides:        map[AccountRole]Side{RoleCOGS: SideDebit},
		counter:      RoleInventory,
		counterSide:  SideCredit,
		counterScope: lineScope,
		quantity:     true,
	},
	EventCustomerDepositReceived: {
		source:   SourceDeposit,
		category: CategoryCashFlow,
		sides:    map[AccountRole]Side{RoleCustomerDeposit: SideCredit, RoleCash: SideDebit, RoleBank: SideDebit},
	},
	EventSupplierDepositPaid: {
		source:   SourceDeposit,
		category: CategoryCashFlow,
		sides:    map[AccountRole]Side{RoleSupplierDeposit: SideDebit, RoleCash: SideCredit, RoleBank: SideCredit},
	},
}

// EventTypes lists every event type with a posting rule, sorted.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(rules))
	for t := range rules {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubledgerKindFor reports the subsidiary ledger an event type touches, if any.
func SubledgerKindFor(t EventType) (subledger.Kind, bool) {
	r, ok := rules[t]
	if !ok || r.effect == effectNone {
		return "", false
	}
	return r.kind, true
}

func ruleFor(t EventType) (rule, error) {
	r, ok := rules[t]
	if !ok {
		return rule{}, invariantf("unknown event type %q", t)
	}
	return r, nil
}

// validateEvent checks the event shape against its rule before any lookup.
func validateEvent(ev Event, r rule) error {
	if ev.Source.Kind != r.source {
		return invariantf("event %s expects source %s, got %s", ev.Type, r.source, ev.Source.Kind)
	}
	if ev.Source.ID <= 0 {
		return invariantf("source id required")
	}
	if ev.Date.IsZero() {
		return invariantf("posting date required")
	}
	if len(ev.Lines) == 0 {
		return invariantf("event %s has no lines", ev.Type)
	}
	for i, line := range ev.Lines {
		if _, ok := r.sides[line.Role]; !ok {
			return invariantf("role %s not allowed for %s", line.Role, ev.Type)
		}
		if line.Amount.IsNegative() || line.Quantity.IsNegative() || line.UnitCost.IsNegative() {
			return invariantf("line %d has a negative amount", i)
		}
		if !line.Amount.Equal(line.Amount.Round(2)) {
			return invariantf("line %d amount %s has more than 2 decimal places", i, line.Amount)
		}
		if r.quantity && line.Quantity.IsZero() && line.Amount.IsZero() {
			return invariantf("line %d needs a quantity and unit cost", i)
		}
		if r.effect == effectSettle && line.Role == r.allocation && line.InvoiceID == 0 && line.Value().IsPositive() {
			return invariantf("line %d settles %s without an invoice id", i, r.kind)
		}
	}
	return nil
}

type resolver interface {
	ResolveAccount(ctx context.Context, role AccountRole, scope MappingScope) (Account, error)
}

// buildEntries resolves accounts and expands lines into journal entries.
// Counter lines merge by account in first-seen order.
func buildEntries(ctx context.Context, tx resolver, ev Event, r rule) ([]JournalEntry, decimal.Decimal, error) {
	var entries []JournalEntry
	counters := make(map[int64]decimal.Decimal)
	var counterOrder []int64
	total := decimal.Zero
	for _, line := range ev.Lines {
		amount := line.Value()
		if amount.IsZero() {
			continue
		}
		account, err := tx.ResolveAccount(ctx, line.Role, line.Scope)
		if err != nil {
			return nil, decimal.Zero, err
		}
		entries = append(entries, newEntry(ev, r.category, account.ID, r.sides[line.Role], amount, line.Memo))
		if r.counter == "" {
			continue
		}
		scope := r.counterScope(ev, line)
		counter, err := tx.ResolveAccount(ctx, r.counter, scope)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if _, seen := counters[counter.ID]; !seen {
			counterOrder = append(counterOrder, counter.ID)
		}
		counters[counter.ID] = counters[counter.ID].Add(amount)
		total = total.Add(amount)
	}
	for _, id := range counterOrder {
		entries = append(entries, newEntry(ev, r.category, id, r.counterSide, counters[id], ""))
	}
	return entries, total, nil
}

// allocations groups settling lines per invoice, ordered by invoice id so row locks are taken consistently.
func allocations(ev Event, r rule) []allocationLine {
	byInvoice := make(map[int64]decimal.Decimal)
	for _, line := range ev.Lines {
		if line.Role != r.allocation {
			continue
		}
		amount := line.Value()
		if amount.IsZero() {
			continue
		}
		byInvoice[line.InvoiceID] = byInvoice[line.InvoiceID].Add(amount)
	}
	out := make([]allocationLine, 0, len(byInvoice))
	for id, amount := range byInvoice {
		out = append(out, allocationLine{invoiceID: id, amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].invoiceID < out[j].invoiceID })
	return out
}

type allocationLine struct {
	invoiceID int64
	amount    decimal.Decimal
}

func describe(ev Event) string {
	if strings.TrimSpace(ev.Description) != "" {
		return ev.Description
	}
	return strings.ReplaceAll(string(ev.Type), "_", " ") + " " + ev.Source.String()
}
