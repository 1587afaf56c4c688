package accounting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// AgeingFilter scopes an ageing report.
type AgeingFilter struct {
	AsOf           time.Time
	Kind           subledger.Kind
	CounterpartyID int64
	BranchID       *int64
}

// PostingImbalance describes a stored posting whose entries do not balance.
type PostingImbalance struct {
	PostingID int64
	Key       PostingKey
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// ControlDrift is a subsidiary ledger whose open balance differs from its control accounts.
type ControlDrift struct {
	Kind       subledger.Kind
	Role       AccountRole
	AccountIDs []int64
	Subledger  decimal.Decimal
	Control    decimal.Decimal
}

// IntegrityReport summarises ledger consistency checks.
type IntegrityReport struct {
	CheckedAt          time.Time
	UnbalancedPostings []PostingImbalance
	DriftedRecords     []subledger.Record
	ControlDrift       []ControlDrift
	TrialBalanceDebit  decimal.Decimal
	TrialBalanceCredit decimal.Decimal
}

// Healthy reports whether every check passed.
func (r IntegrityReport) Healthy() bool {
	return len(r.UnbalancedPostings) == 0 &&
		len(r.DriftedRecords) == 0 &&
		len(r.ControlDrift) == 0 &&
		r.TrialBalanceDebit.Equal(r.TrialBalanceCredit)
}

var controlRoles = []struct {
	kind subledger.Kind
	role AccountRole
}{
	{subledger.KindReceivable, RoleReceivable},
	{subledger.KindPayable, RolePayable},
}

// reconcileControl compares the open balance of live records of kind with the posted
// movement on the accounts mapped to role. Opening balances are left out; they predate
// any record.
func reconcileControl(ctx context.Context, tx TxRepository, kind subledger.Kind, role AccountRole) (ControlDrift, bool, error) {
	drift := ControlDrift{Kind: kind, Role: role, Subledger: decimal.Zero, Control: decimal.Zero}
	records, err := tx.ListSubledgerRecords(ctx, subledger.Filter{Kind: kind, IncludeSettled: true})
	if err != nil {
		return drift, false, err
	}
	for _, rec := range records {
		drift.Subledger = drift.Subledger.Add(rec.Remaining)
	}
	ids, err := tx.MappedAccountIDs(ctx, role)
	if err != nil {
		return drift, false, err
	}
	drift.AccountIDs = ids
	if len(ids) > 0 {
		entries, err := tx.ListAccountEntries(ctx, ids, EntryFilter{})
		if err != nil {
			return drift, false, err
		}
		debit, credit := SumEntries(entries, BalanceQuery{})
		if kind == subledger.KindReceivable {
			drift.Control = debit.Sub(credit)
		} else {
			drift.Control = credit.Sub(debit)
		}
	}
	return drift, !drift.Subledger.Equal(drift.Control), nil
}

// AccountBalance derives an account balance. With IncludeChildren the descendants'
// openings and entries are folded in under the parent's sign rule.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, q BalanceQuery) (decimal.Decimal, error) {
	if q.AsOf.IsZero() {
		q.AsOf = s.now()
	}
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		ids := []int64{account.ID}
		if q.IncludeChildren {
			all, err := tx.ListAccounts(ctx)
			if err != nil {
				return err
			}
			for _, child := range Descendants(all, account.ID) {
				ids = append(ids, child.ID)
				account.OpeningBalance = account.OpeningBalance.Add(child.OpeningBalance)
			}
		}
		entries, err := tx.ListAccountEntries(ctx, ids, q.Filter())
		if err != nil {
			return err
		}
		balance = CalculateEndingBalance(account, entries, q)
		return nil
	})
	return balance, err
}

// EntriesFor lists every entry ever written for a source, reversals included.
func (s *Service) EntriesFor(ctx context.Context, source SourceRef) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListEntriesBySource(ctx, source)
		return err
	})
	return entries, err
}

// SubsidiaryLedgerFor returns the AR or AP record of an invoice.
func (s *Service) SubsidiaryLedgerFor(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	var rec subledger.Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetSubledgerRecord(ctx, kind, invoiceID)
		return err
	})
	return rec, err
}

// ListSubledger lists records matching the filter.
func (s *Service) ListSubledger(ctx context.Context, filter subledger.Filter) ([]subledger.Record, error) {
	var records []subledger.Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		records, err = tx.ListSubledgerRecords(ctx, filter)
		return err
	})
	return records, err
}

// AgeingReport classifies open records as of the filter date.
func (s *Service) AgeingReport(ctx context.Context, filter AgeingFilter) (subledger.AgeingReport, error) {
	if filter.AsOf.IsZero() {
		filter.AsOf = s.now()
	}
	records, err := s.ListSubledger(ctx, subledger.Filter{
		Kind:           filter.Kind,
		CounterpartyID: filter.CounterpartyID,
		BranchID:       filter.BranchID,
	})
	if err != nil {
		return subledger.AgeingReport{}, err
	}
	return subledger.BuildAgeingReport(records, filter.AsOf), nil
}

// RefreshAgeing rewrites cached bucket labels for open records. It returns the number changed.
func (s *Service) RefreshAgeing(ctx context.Context, asOf time.Time) (int, error) {
	changed := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		records, err := tx.ListSubledgerRecords(ctx, subledger.Filter{})
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !rec.Reclassify(asOf) {
				continue
			}
			if err := tx.UpdateSubledgerRecord(ctx, rec); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	return changed, err
}

// ListAccounts retrieves all chart of accounts entries.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// AccountBalances computes per-account movements for the window, one row per account.
func (s *Service) AccountBalances(ctx context.Context, q BalanceQuery) ([]reports.AccountBalance, error) {
	if q.AsOf.IsZero() {
		q.AsOf = s.now()
	}
	var rows []reports.AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, q.Filter())
		if err != nil {
			return err
		}
		byAccount := make(map[int64][]JournalEntry, len(accounts))
		for _, e := range entries {
			byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
		}
		for _, a := range accounts {
			debit, credit := SumEntries(byAccount[a.ID], q)
			rows = append(rows, reports.AccountBalance{
				AccountID:   a.ID,
				Code:        a.Code,
				Name:        a.Name,
				Type:        string(a.Type),
				DebitNormal: a.Type.NormalSide() == SideDebit,
				Opening:     a.OpeningBalance,
				Debit:       debit,
				Credit:      credit,
			})
		}
		return nil
	})
	return rows, err
}

// TrialBalance groups account movements up to asOf.
func (s *Service) TrialBalance(ctx context.Context, q BalanceQuery) (reports.TrialBalance, error) {
	rows, err := s.AccountBalances(ctx, q)
	if err != nil {
		return reports.TrialBalance{}, err
	}
	return reports.BuildTrialBalance(rows), nil
}

// ProfitAndLoss reports revenue and expense movements in the window.
func (s *Service) ProfitAndLoss(ctx context.Context, q BalanceQuery) (reports.ProfitAndLoss, error) {
	rows, err := s.AccountBalances(ctx, q)
	if err != nil {
		return reports.ProfitAndLoss{}, err
	}
	return reports.BuildProfitAndLoss(rows), nil
}

// BalanceSheet reports closing balances as of q.AsOf.
func (s *Service) BalanceSheet(ctx context.Context, q BalanceQuery) (reports.BalanceSheet, error) {
	q.From = nil
	rows, err := s.AccountBalances(ctx, q)
	if err != nil {
		return reports.BalanceSheet{}, err
	}
	return reports.BuildBalanceSheet(rows), nil
}

// CheckIntegrity scans for unbalanced postings, drifted subsidiary records, subsidiary ledgers that
// no longer reconcile to their control accounts, and an unbalanced trial balance.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: s.now()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		unbalanced, err := tx.ListUnbalancedPostings(ctx)
		if err != nil {
			return err
		}
		report.UnbalancedPostings = unbalanced
		records, err := tx.ListSubledgerRecords(ctx, subledger.Filter{IncludeSettled: true})
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := rec.Validate(); err != nil {
				report.DriftedRecords = append(report.DriftedRecords, rec)
				continue
			}
			paid, err := tx.SumAllocations(ctx, rec.ID)
			if err != nil {
				return err
			}
			if !paid.Equal(rec.Paid) {
				report.DriftedRecords = append(report.DriftedRecords, rec)
			}
		}
		for _, c := range controlRoles {
			drift, drifted, err := reconcileControl(ctx, tx, c.kind, c.role)
			if err != nil {
				return err
			}
			if drifted {
				report.ControlDrift = append(report.ControlDrift, drift)
			}
		}
		entries, err := tx.ListEntries(ctx, EntryFilter{})
		if err != nil {
			return err
		}
		report.TrialBalanceDebit, report.TrialBalanceCredit = SumEntries(entries, BalanceQuery{})
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	if !report.Healthy() {
		s.logger.Error("ledger integrity check failed",
			slog.Int("unbalanced_postings", len(report.UnbalancedPostings)),
			slog.Int("drifted_records", len(report.DriftedRecords)),
			slog.Int("control_drift", len(report.ControlDrift)),
			slog.String("debit", report.TrialBalanceDebit.StringFixed(2)),
			slog.String("credit", report.TrialBalanceCredit.StringFixed(2)))
	}
	return report, nil
}

// IsNotFound reports whether err means the requested ledger object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPostingNotFound) || errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrAccountNotFound)
}
