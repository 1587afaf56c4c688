package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculateEndingBalance derives an account balance from its opening balance and entries.
// Entries outside [q.From, q.AsOf] or on another branch are ignored.
func CalculateEndingBalance(account Account, entries []JournalEntry, q BalanceQuery) decimal.Decimal {
	debit, credit := SumEntries(entries, q)
	if account.Type.NormalSide() == SideDebit {
		return account.OpeningBalance.Add(debit).Sub(credit)
	}
	return account.OpeningBalance.Add(credit).Sub(debit)
}

// SumEntries totals the debit and credit columns of entries inside the query window.
func SumEntries(entries []JournalEntry, q BalanceQuery) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	filter := q.Filter()
	for _, e := range entries {
		if !filter.Includes(e) {
			continue
		}
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// Filter converts the query into an entry filter.
func (q BalanceQuery) Filter() EntryFilter {
	return EntryFilter{From: q.From, To: q.AsOf, BranchID: q.BranchID}
}

// Includes reports whether the entry falls inside the filter. Dates compare by calendar day.
func (f EntryFilter) Includes(e JournalEntry) bool {
	day := civilDate(e.Date)
	if !f.To.IsZero() && day.After(civilDate(f.To)) {
		return false
	}
	if f.From != nil && day.Before(civilDate(*f.From)) {
		return false
	}
	if f.BranchID != nil && (e.BranchID == nil || *e.BranchID != *f.BranchID) {
		return false
	}
	return true
}

// Descendants returns every account below root in the hierarchy.
func Descendants(accounts []Account, rootID int64) []Account {
	children := make(map[int64][]Account, len(accounts))
	for _, a := range accounts {
		if a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], a)
		}
	}
	var out []Account
	queue := []int64{rootID}
	seen := map[int64]bool{rootID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
