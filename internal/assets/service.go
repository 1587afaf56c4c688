package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Ledger is the part of the posting service a depreciation run needs.
type Ledger interface {
	PostInTx(ctx context.Context, tx accounting.TxRepository, ev accounting.Event) (accounting.Result, error)
	ReverseInTx(ctx context.Context, tx accounting.TxRepository, key accounting.PostingKey, mode accounting.ReverseMode, memo string) (accounting.ReverseResult, error)
	ReversalMode() accounting.ReverseMode
	Committed(ctx context.Context, actorID int64, action string, posting accounting.Posting, meta map[string]any)
}

// Service runs straight-line depreciation against the ledger.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, logger: logger}
}

// Register validates and stores a new asset.
func (s *Service) Register(ctx context.Context, a Asset) (Asset, error) {
	if err := a.Validate(); err != nil {
		return Asset{}, err
	}
	a.Apply(decimal.Zero)
	return s.repo.CreateAsset(ctx, a)
}

// Get returns an asset.
func (s *Service) Get(ctx context.Context, id int64) (Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

// Runs lists the depreciation runs recorded for an asset.
func (s *Service) Runs(ctx context.Context, assetID int64) ([]DepreciationRun, error) {
	return s.repo.ListRuns(ctx, assetID)
}

func depreciationKey(runID int64) accounting.PostingKey {
	return accounting.PostingKey{
		Source: accounting.SourceRef{Kind: accounting.SourceAssetDepreciation, ID: runID},
		Event:  accounting.EventDepreciationRecorded,
	}
}

// RunDepreciation posts one period of depreciation for an asset. The run row, the
// posting and the asset's accumulated depreciation commit together.
func (s *Service) RunDepreciation(ctx context.Context, in RunInput) (RunResult, error) {
	periodEnd, err := ParsePeriod(in.Period)
	if err != nil {
		return RunResult{}, err
	}
	var (
		result RunResult
		posted accounting.Result
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository, ledgerTx accounting.TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if periodEnd.Before(asset.AcquisitionDate) {
			return fmt.Errorf("%w: %s precedes acquisition", ErrInvalidPeriod, in.Period)
		}
		if _, err := tx.GetRun(ctx, asset.ID, in.Period); err == nil {
			return ErrDuplicatePeriod
		} else if !errors.Is(err, ErrRunNotFound) {
			return err
		}
		charge := asset.MonthlyCharge()
		if !charge.IsPositive() {
			return ErrNothingToDepreciate
		}
		run, err := tx.InsertRun(ctx, DepreciationRun{AssetID: asset.ID, Period: in.Period, Amount: charge})
		if err != nil {
			return err
		}
		posted, err = s.ledger.PostInTx(ctx, ledgerTx, accounting.Event{
			Type:        accounting.EventDepreciationRecorded,
			Source:      accounting.SourceRef{Kind: accounting.SourceAssetDepreciation, ID: run.ID},
			Date:        periodEnd,
			Description: fmt.Sprintf("Depreciation %s %s", asset.Code, in.Period),
			BranchID:    asset.BranchID,
			ActorID:     in.ActorID,
			Lines: []accounting.EventLine{{
				Role:   accounting.RoleDepreciationExpense,
				Amount: charge,
				Scope:  accounting.MappingScope{Kind: accounting.ScopeAsset, ID: asset.ID},
			}},
		})
		if errors.Is(err, accounting.ErrPostingConflict) {
			return ErrDuplicatePeriod
		}
		if err != nil {
			return err
		}
		if posted.Status == accounting.StatusSkipped {
			return ErrDuplicatePeriod
		}
		if err := tx.SetRunPosting(ctx, run.ID, posted.Posting.ID); err != nil {
			return err
		}
		run.PostingID = posted.Posting.ID
		asset.Apply(asset.AccumulatedDepr.Add(charge))
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		result = RunResult{Asset: asset, Run: run, EntryCount: len(posted.Entries)}
		return nil
	})
	if err != nil {
		s.logger.Warn("depreciation run failed",
			slog.Int64("asset", in.AssetID),
			slog.String("period", in.Period),
			slog.Any("error", err))
		return RunResult{}, err
	}
	s.ledger.Committed(ctx, in.ActorID, "assets.depreciate", posted.Posting, map[string]any{
		"asset":  in.AssetID,
		"period": in.Period,
		"amount": result.Run.Amount.StringFixed(2),
	})
	s.logger.Info("depreciation posted",
		slog.Int64("asset", in.AssetID),
		slog.String("period", in.Period),
		slog.String("amount", result.Run.Amount.StringFixed(2)))
	return result, nil
}

// ReverseDepreciation undoes a period's run and recomputes accumulated depreciation
// from the ledger entries of the runs that remain.
func (s *Service) ReverseDepreciation(ctx context.Context, assetID int64, period string, actorID int64) (Asset, error) {
	if _, err := ParsePeriod(period); err != nil {
		return Asset{}, err
	}
	var (
		asset    Asset
		reversed accounting.Posting
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository, ledgerTx accounting.TxRepository) error {
		var err error
		asset, err = tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		run, err := tx.GetRun(ctx, assetID, period)
		if err != nil {
			return err
		}
		res, err := s.ledger.ReverseInTx(ctx, ledgerTx, depreciationKey(run.ID), s.ledger.ReversalMode(),
			fmt.Sprintf("Reverse depreciation %s %s", asset.Code, period))
		if err != nil && !errors.Is(err, accounting.ErrPostingNotFound) {
			return err
		}
		reversed = res.Posting
		if err := tx.DeleteRun(ctx, run.ID); err != nil {
			return err
		}
		accumulated, err := s.accumulatedFromLedger(ctx, tx, ledgerTx, assetID)
		if err != nil {
			return err
		}
		asset.Apply(accumulated)
		return tx.UpdateAsset(ctx, asset)
	})
	if err != nil {
		return Asset{}, err
	}
	if reversed.ID != 0 {
		s.ledger.Committed(ctx, actorID, "assets.depreciation_reversed", reversed, map[string]any{
			"asset":  assetID,
			"period": period,
		})
	}
	return asset, nil
}

// accumulatedFromLedger sums the debit side of each remaining run's posting.
func (s *Service) accumulatedFromLedger(ctx context.Context, tx TxRepository, ledgerTx accounting.TxRepository, assetID int64) (decimal.Decimal, error) {
	runs, err := tx.ListRuns(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, run := range runs {
		if run.PostingID == 0 {
			continue
		}
		entries, err := ledgerTx.ListEntriesByPosting(ctx, run.PostingID)
		if err != nil {
			return decimal.Zero, err
		}
		for _, e := range entries {
			total = total.Add(e.Debit)
		}
	}
	return total, nil
}

// Catchup runs every missing period from the last run up to asOf.
func (s *Service) Catchup(ctx context.Context, assetID int64, asOf time.Time, actorID int64) ([]RunResult, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	runs, err := s.repo.ListRuns(ctx, assetID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(runs))
	for _, run := range runs {
		done[run.Period] = struct{}{}
	}
	var results []RunResult
	cursor := time.Date(asset.AcquisitionDate.Year(), asset.AcquisitionDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.AddDate(0, 1, -1).After(asOf) {
		period := cursor.Format(periodLayout)
		cursor = cursor.AddDate(0, 1, 0)
		if _, ok := done[period]; ok {
			continue
		}
		res, err := s.RunDepreciation(ctx, RunInput{AssetID: assetID, Period: period, ActorID: actorID})
		if errors.Is(err, ErrNothingToDepreciate) {
			break
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
