package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ResolveAccount(ctx context.Context, role AccountRole, scope MappingScope) (Account, error)
	MappedAccountIDs(ctx context.Context, role AccountRole) ([]int64, error)

	FindPosting(ctx context.Context, key PostingKey) (Posting, bool, error)
	GetPostingForUpdate(ctx context.Context, key PostingKey) (Posting, error)
	InsertPosting(ctx context.Context, p Posting) (Posting, error)
	DeletePosting(ctx context.Context, postingID int64) error
	MarkPostingReversed(ctx context.Context, postingID int64, at time.Time) error
	ListUnbalancedPostings(ctx context.Context) ([]PostingImbalance, error)

	InsertEntries(ctx context.Context, postingID int64, entries []JournalEntry) ([]JournalEntry, error)
	ListEntriesByPosting(ctx context.Context, postingID int64) ([]JournalEntry, error)
	ListEntriesBySource(ctx context.Context, source SourceRef) ([]JournalEntry, error)
	ListAccountEntries(ctx context.Context, accountIDs []int64, filter EntryFilter) ([]JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)

	GetSubledgerRecord(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error)
	GetSubledgerForUpdate(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error)
	GetSubledgerByIDForUpdate(ctx context.Context, id int64) (subledger.Record, error)
	InsertSubledgerRecord(ctx context.Context, rec subledger.Record) (subledger.Record, error)
	UpdateSubledgerRecord(ctx context.Context, rec subledger.Record) error
	ListSubledgerRecords(ctx context.Context, filter subledger.Filter) ([]subledger.Record, error)

	InsertAllocation(ctx context.Context, a subledger.Allocation) error
	ListAllocationsByPosting(ctx context.Context, postingID int64) ([]subledger.Allocation, error)
	DeleteAllocationsByPosting(ctx context.Context, postingID int64) error
	SumAllocations(ctx context.Context, recordID int64) (decimal.Decimal, error)
}

// uqPostingsKey is the partial unique index over live postings.
const uqPostingsKey = "uq_postings_key"

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Bind wraps an externally owned transaction so other modules can post inside it.
func Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const accountColumns = `id, code, name, type, parent_id, opening_balance, is_active, is_current, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.OpeningBalance, &a.IsActive, &a.IsCurrent, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ResolveAccount prefers a scoped mapping and falls back to the company default.
func (r *txRepository) ResolveAccount(ctx context.Context, role AccountRole, scope MappingScope) (Account, error) {
	var accountID int64
	err := r.tx.QueryRow(ctx, `SELECT account_id FROM account_mappings
WHERE role=$1 AND ((scope_kind=$2 AND scope_id=$3) OR scope_id=0)
ORDER BY scope_id DESC LIMIT 1`, string(role), string(scope.Kind), scope.ID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, configErr(role, scope, "no account mapping", ErrMappingNotFound)
		}
		return Account{}, err
	}
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, configErr(role, scope, "mapped account missing", err)
		}
		return Account{}, err
	}
	if !account.IsActive {
		return Account{}, configErr(role, scope, "account "+account.Code+" is inactive", nil)
	}
	return account, nil
}

// MappedAccountIDs lists every account a role is mapped to, across all scopes.
func (r *txRepository) MappedAccountIDs(ctx context.Context, role AccountRole) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT account_id FROM account_mappings WHERE role=$1 ORDER BY account_id`, string(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const postingColumns = `id, source_kind, source_id, event_type, category, posting_date, description, reference, branch_id, posted_by, posted_at, reversed_at`

func scanPosting(row pgx.Row) (Posting, error) {
	var p Posting
	var postedBy *int64
	err := row.Scan(&p.ID, &p.Source.Kind, &p.Source.ID, &p.Event, &p.Category, &p.Date, &p.Description, &p.Reference, &p.BranchID, &postedBy, &p.PostedAt, &p.ReversedAt)
	if postedBy != nil {
		p.PostedBy = *postedBy
	}
	return p, err
}

func (r *txRepository) FindPosting(ctx context.Context, key PostingKey) (Posting, bool, error) {
	p, err := scanPosting(r.tx.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings
WHERE source_kind=$1 AND source_id=$2 AND event_type=$3 AND reversed_at IS NULL`, key.Source.Kind, key.Source.ID, key.Event))
	if errors.Is(err, pgx.ErrNoRows) {
		return Posting{}, false, nil
	}
	if err != nil {
		return Posting{}, false, err
	}
	return p, true, nil
}

func (r *txRepository) GetPostingForUpdate(ctx context.Context, key PostingKey) (Posting, error) {
	p, err := scanPosting(r.tx.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings
WHERE source_kind=$1 AND source_id=$2 AND event_type=$3 AND reversed_at IS NULL FOR UPDATE`, key.Source.Kind, key.Source.ID, key.Event))
	if errors.Is(err, pgx.ErrNoRows) {
		return Posting{}, ErrPostingNotFound
	}
	return p, err
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) (Posting, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO postings (source_kind, source_id, event_type, category, posting_date, description, reference, branch_id, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		p.Source.Kind, p.Source.ID, p.Event, p.Category, p.Date, p.Description, p.Reference, nullIntPtr(p.BranchID), nullInt(p.PostedBy), p.PostedAt).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uqPostingsKey {
			return Posting{}, ErrPostingConflict
		}
		return Posting{}, err
	}
	return p, nil
}

func (r *txRepository) DeletePosting(ctx context.Context, postingID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE posting_id=$1`, postingID); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM postings WHERE id=$1`, postingID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPostingNotFound
	}
	return nil
}

func (r *txRepository) MarkPostingReversed(ctx context.Context, postingID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE postings SET reversed_at=$2 WHERE id=$1 AND reversed_at IS NULL`, postingID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPostingNotFound
	}
	return nil
}

func (r *txRepository) ListUnbalancedPostings(ctx context.Context) ([]PostingImbalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.id, p.source_kind, p.source_id, p.event_type, COALESCE(SUM(e.debit),0), COALESCE(SUM(e.credit),0)
FROM postings p LEFT JOIN journal_entries e ON e.posting_id = p.id
GROUP BY p.id HAVING COALESCE(SUM(e.debit),0) <> COALESCE(SUM(e.credit),0) OR COUNT(e.id) < 2
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostingImbalance
	for rows.Next() {
		var im PostingImbalance
		if err := rows.Scan(&im.PostingID, &im.Key.Source.Kind, &im.Key.Source.ID, &im.Key.Event, &im.Debit, &im.Credit); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

const entryColumns = `e.id, e.posting_id, e.account_id, e.entry_date, e.debit, e.credit, e.description, e.reference, p.source_kind, p.source_id, p.event_type, p.category, e.branch_id, e.created_at`

func (r *txRepository) InsertEntries(ctx context.Context, postingID int64, entries []JournalEntry) ([]JournalEntry, error) {
	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		e.PostingID = postingID
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (posting_id, account_id, entry_date, debit, credit, description, reference, branch_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
			postingID, e.AccountID, e.Date, e.Debit, e.Credit, e.Description, e.Reference, nullIntPtr(e.BranchID)).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *txRepository) queryEntries(ctx context.Context, sql string, args ...any) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.PostingID, &e.AccountID, &e.Date, &e.Debit, &e.Credit, &e.Description, &e.Reference,
			&e.Source.Kind, &e.Source.ID, &e.Event, &e.Category, &e.BranchID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) ListEntriesByPosting(ctx context.Context, postingID int64) ([]JournalEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries e JOIN postings p ON p.id = e.posting_id
WHERE e.posting_id=$1 ORDER BY e.id`, postingID)
}

func (r *txRepository) ListEntriesBySource(ctx context.Context, source SourceRef) ([]JournalEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries e JOIN postings p ON p.id = e.posting_id
WHERE p.source_kind=$1 AND p.source_id=$2 ORDER BY e.id`, source.Kind, source.ID)
}

func (r *txRepository) ListAccountEntries(ctx context.Context, accountIDs []int64, filter EntryFilter) ([]JournalEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries e JOIN postings p ON p.id = e.posting_id
WHERE e.account_id = ANY($1)
  AND ($2::date IS NULL OR e.entry_date >= $2::date)
  AND ($3::date IS NULL OR e.entry_date <= $3::date)
  AND ($4::bigint IS NULL OR e.branch_id = $4::bigint)
ORDER BY e.entry_date, e.id`, accountIDs, filter.From, nullTime(filter.To), filter.BranchID)
}

func (r *txRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries e JOIN postings p ON p.id = e.posting_id
WHERE ($1::date IS NULL OR e.entry_date >= $1::date)
  AND ($2::date IS NULL OR e.entry_date <= $2::date)
  AND ($3::bigint IS NULL OR e.branch_id = $3::bigint)
ORDER BY e.entry_date, e.id`, filter.From, nullTime(filter.To), filter.BranchID)
}

const subledgerColumns = `id, kind, invoice_id, counterparty_id, branch_id, invoice_date, due_date, total, paid, remaining, status, bucket, retired_at, created_at, updated_at`

func scanRecord(row pgx.Row) (subledger.Record, error) {
	var rec subledger.Record
	err := row.Scan(&rec.ID, &rec.Kind, &rec.InvoiceID, &rec.CounterpartyID, &rec.BranchID, &rec.InvoiceDate, &rec.DueDate,
		&rec.Total, &rec.Paid, &rec.Remaining, &rec.Status, &rec.Bucket, &rec.RetiredAt, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (r *txRepository) getRecord(ctx context.Context, sql string, args ...any) (subledger.Record, error) {
	rec, err := scanRecord(r.tx.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return subledger.Record{}, ErrRecordNotFound
	}
	return rec, err
}

func (r *txRepository) GetSubledgerRecord(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	return r.getRecord(ctx, `SELECT `+subledgerColumns+` FROM subledger_records WHERE kind=$1 AND invoice_id=$2`, kind, invoiceID)
}

func (r *txRepository) GetSubledgerForUpdate(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	return r.getRecord(ctx, `SELECT `+subledgerColumns+` FROM subledger_records WHERE kind=$1 AND invoice_id=$2 FOR UPDATE`, kind, invoiceID)
}

func (r *txRepository) GetSubledgerByIDForUpdate(ctx context.Context, id int64) (subledger.Record, error) {
	return r.getRecord(ctx, `SELECT `+subledgerColumns+` FROM subledger_records WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) InsertSubledgerRecord(ctx context.Context, rec subledger.Record) (subledger.Record, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO subledger_records (kind, invoice_id, counterparty_id, branch_id, invoice_date, due_date, total, paid, remaining, status, bucket, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		rec.Kind, rec.InvoiceID, rec.CounterpartyID, nullIntPtr(rec.BranchID), rec.InvoiceDate, rec.DueDate,
		rec.Total, rec.Paid, rec.Remaining, rec.Status, rec.Bucket, rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return subledger.Record{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateSubledgerRecord(ctx context.Context, rec subledger.Record) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_records SET counterparty_id=$2, branch_id=$3, invoice_date=$4, due_date=$5,
total=$6, paid=$7, remaining=$8, status=$9, bucket=$10, retired_at=$11, updated_at=$12 WHERE id=$1`,
		rec.ID, rec.CounterpartyID, nullIntPtr(rec.BranchID), rec.InvoiceDate, rec.DueDate,
		rec.Total, rec.Paid, rec.Remaining, rec.Status, rec.Bucket, rec.RetiredAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) ListSubledgerRecords(ctx context.Context, filter subledger.Filter) ([]subledger.Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+subledgerColumns+` FROM subledger_records
WHERE ($1::text = '' OR kind = $1)
  AND ($2::bigint = 0 OR counterparty_id = $2)
  AND ($3::bigint IS NULL OR branch_id = $3::bigint)
  AND ($4::boolean OR retired_at IS NULL)
  AND ($5::boolean OR remaining > 0)
ORDER BY due_date, invoice_id`, string(filter.Kind), filter.CounterpartyID, filter.BranchID, filter.IncludeRetired, filter.IncludeSettled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertAllocation(ctx context.Context, a subledger.Allocation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO subledger_allocations (record_id, posting_id, amount, created_at) VALUES ($1,$2,$3,$4)`,
		a.RecordID, a.PostingID, a.Amount, a.CreatedAt)
	return err
}

func (r *txRepository) ListAllocationsByPosting(ctx context.Context, postingID int64) ([]subledger.Allocation, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, record_id, posting_id, amount, created_at FROM subledger_allocations WHERE posting_id=$1 ORDER BY id`, postingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subledger.Allocation
	for rows.Next() {
		var a subledger.Allocation
		if err := rows.Scan(&a.ID, &a.RecordID, &a.PostingID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) DeleteAllocationsByPosting(ctx context.Context, postingID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM subledger_allocations WHERE posting_id=$1`, postingID)
	return err
}

func (r *txRepository) SumAllocations(ctx context.Context, recordID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount),0) FROM subledger_allocations WHERE record_id=$1`, recordID).Scan(&sum)
	return sum, err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullIntPtr(val *int64) any {
	if val == nil || *val == 0 {
		return nil
	}
	return *val
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
