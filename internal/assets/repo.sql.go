package assets

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists assets and depreciation runs in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uqRunPeriod = "uq_depreciation_runs_period"

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository, accounting.TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("assets repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx}, accounting.Bind(tx))
	})
}

const assetColumns = `id, code, name, branch_id, acquisition_date, cost, salvage_value, useful_life_months,
accumulated_depreciation, book_value, status, created_at, updated_at`

func scanAsset(row pgx.Row) (Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.BranchID, &a.AcquisitionDate, &a.Cost, &a.SalvageValue,
		&a.UsefulLifeMonths, &a.AccumulatedDepr, &a.BookValue, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, ErrAssetNotFound
	}
	return a, err
}

// CreateAsset inserts a new asset with zero accumulated depreciation.
func (r *Repository) CreateAsset(ctx context.Context, a Asset) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `INSERT INTO assets
(code, name, branch_id, acquisition_date, cost, salvage_value, useful_life_months, accumulated_depreciation, book_value, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+assetColumns,
		a.Code, a.Name, a.BranchID, a.AcquisitionDate, a.Cost, a.SalvageValue, a.UsefulLifeMonths,
		a.AccumulatedDepr, a.BookValue, string(a.Status)))
}

// GetAsset loads an asset by id.
func (r *Repository) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1`, id))
}

// ListRuns returns an asset's runs ordered by period.
func (r *Repository) ListRuns(ctx context.Context, assetID int64) ([]DepreciationRun, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM depreciation_runs WHERE asset_id=$1 ORDER BY period`, assetID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func (r *txRepository) GetAssetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateAsset(ctx context.Context, a Asset) error {
	tag, err := r.tx.Exec(ctx, `UPDATE assets
SET accumulated_depreciation=$2, book_value=$3, status=$4, updated_at=NOW()
WHERE id=$1`, a.ID, a.AccumulatedDepr, a.BookValue, string(a.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

const runColumns = `id, asset_id, period, amount, COALESCE(posting_id, 0), created_at`

func scanRun(row pgx.Row) (DepreciationRun, error) {
	var run DepreciationRun
	err := row.Scan(&run.ID, &run.AssetID, &run.Period, &run.Amount, &run.PostingID, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DepreciationRun{}, ErrRunNotFound
	}
	return run, err
}

func collectRuns(rows pgx.Rows) ([]DepreciationRun, error) {
	defer rows.Close()
	var runs []DepreciationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *txRepository) GetRun(ctx context.Context, assetID int64, period string) (DepreciationRun, error) {
	return scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM depreciation_runs WHERE asset_id=$1 AND period=$2`, assetID, period))
}

func (r *txRepository) InsertRun(ctx context.Context, run DepreciationRun) (DepreciationRun, error) {
	saved, err := scanRun(r.tx.QueryRow(ctx, `INSERT INTO depreciation_runs (asset_id, period, amount)
VALUES ($1,$2,$3) RETURNING `+runColumns, run.AssetID, run.Period, run.Amount))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uqRunPeriod {
		return DepreciationRun{}, ErrDuplicatePeriod
	}
	return saved, err
}

func (r *txRepository) SetRunPosting(ctx context.Context, runID, postingID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE depreciation_runs SET posting_id=$2 WHERE id=$1`, runID, postingID)
	return err
}

func (r *txRepository) DeleteRun(ctx context.Context, runID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM depreciation_runs WHERE id=$1`, runID)
	return err
}

func (r *txRepository) ListRuns(ctx context.Context, assetID int64) ([]DepreciationRun, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+runColumns+` FROM depreciation_runs WHERE asset_id=$1 ORDER BY period`, assetID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}
