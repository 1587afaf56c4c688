package assets

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// RepositoryPort abstracts asset persistence for the service.
type RepositoryPort interface {
	// WithTx runs fn with asset and ledger repositories bound to one transaction.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository, accounting.TxRepository) error) error
	CreateAsset(ctx context.Context, a Asset) (Asset, error)
	GetAsset(ctx context.Context, id int64) (Asset, error)
	ListRuns(ctx context.Context, assetID int64) ([]DepreciationRun, error)
}

// TxRepository exposes asset operations inside a transaction.
type TxRepository interface {
	GetAssetForUpdate(ctx context.Context, id int64) (Asset, error)
	UpdateAsset(ctx context.Context, a Asset) error
	GetRun(ctx context.Context, assetID int64, period string) (DepreciationRun, error)
	InsertRun(ctx context.Context, run DepreciationRun) (DepreciationRun, error)
	SetRunPosting(ctx context.Context, runID, postingID int64) error
	DeleteRun(ctx context.Context, runID int64) error
	ListRuns(ctx context.Context, assetID int64) ([]DepreciationRun, error)
}
