package accounting

import (
	"github.com/shopspring/decimal"
)

// ValidateEntries checks the double-entry invariants of a posting before it is written.
func ValidateEntries(entries []JournalEntry) error {
	if len(entries) < 2 {
		return invariantf("posting needs at least 2 entries, got %d", len(entries))
	}
	debit, credit := decimal.Zero, decimal.Zero
	for i, e := range entries {
		if e.AccountID == 0 {
			return invariantf("entry %d has no account", i)
		}
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return invariantf("entry %d has a negative amount", i)
		}
		if e.Debit.IsPositive() == e.Credit.IsPositive() {
			return invariantf("entry %d must carry exactly one of debit or credit", i)
		}
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	if !debit.Equal(credit) {
		return invariantf("debits %s do not equal credits %s", debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// MirrorEntries builds equal-and-opposite entries for an offset reversal.
func MirrorEntries(entries []JournalEntry, memo string) []JournalEntry {
	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		m := e
		m.ID = 0
		m.Debit, m.Credit = e.Credit, e.Debit
		if memo != "" {
			m.Description = memo
		}
		out = append(out, m)
	}
	return out
}

func newEntry(ev Event, category Category, accountID int64, side Side, amount decimal.Decimal, memo string) JournalEntry {
	e := JournalEntry{
		AccountID:   accountID,
		Date:        ev.Date,
		Debit:       decimal.Zero,
		Credit:      decimal.Zero,
		Description: memo,
		Reference:   ev.Reference,
		Source:      ev.Source,
		Event:       ev.Type,
		Category:    category,
		BranchID:    ev.BranchID,
	}
	if e.Description == "" {
		e.Description = ev.Description
	}
	if side == SideDebit {
		e.Debit = amount
	} else {
		e.Credit = amount
	}
	return e
}
