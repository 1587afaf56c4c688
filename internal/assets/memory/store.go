// Package memory keeps assets in process and shares transactions with the in-memory ledger.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgermem "github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/assets"
)

type state struct {
	seq    int64
	assets map[int64]assets.Asset
	runs   map[int64]assets.DepreciationRun
}

func (s *state) clone() *state {
	c := &state{
		seq:    s.seq,
		assets: make(map[int64]assets.Asset, len(s.assets)),
		runs:   make(map[int64]assets.DepreciationRun, len(s.runs)),
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// Store implements assets.RepositoryPort on top of a ledger memory store.
type Store struct {
	mu     sync.Mutex
	state  *state
	ledger *ledgermem.Store
	now    func() time.Time
}

// NewStore returns an empty asset register bound to ledger.
func NewStore(ledger *ledgermem.Store) *Store {
	return &Store{
		state:  &state{assets: map[int64]assets.Asset{}, runs: map[int64]assets.DepreciationRun{}},
		ledger: ledger,
		now:    time.Now,
	}
}

// WithTx publishes asset changes only when the ledger transaction commits.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, assets.TxRepository, accounting.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	err := s.ledger.WithTx(ctx, func(ctx context.Context, ledgerTx accounting.TxRepository) error {
		return fn(ctx, &tx{st: work, now: s.now}, ledgerTx)
	})
	if err != nil {
		return err
	}
	s.state = work
	return nil
}

// CreateAsset stores a new asset.
func (s *Store) CreateAsset(_ context.Context, a assets.Asset) (assets.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.seq++
	a.ID = s.state.seq
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	s.state.assets[a.ID] = a
	return a, nil
}

// GetAsset loads an asset.
func (s *Store) GetAsset(_ context.Context, id int64) (assets.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.assets[id]
	if !ok {
		return assets.Asset{}, assets.ErrAssetNotFound
	}
	return a, nil
}

// ListRuns returns an asset's runs ordered by period.
func (s *Store) ListRuns(_ context.Context, assetID int64) ([]assets.DepreciationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listRuns(s.state, assetID), nil
}

func listRuns(st *state, assetID int64) []assets.DepreciationRun {
	var out []assets.DepreciationRun
	for _, run := range st.runs {
		if run.AssetID == assetID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetAssetForUpdate(_ context.Context, id int64) (assets.Asset, error) {
	a, ok := t.st.assets[id]
	if !ok {
		return assets.Asset{}, assets.ErrAssetNotFound
	}
	return a, nil
}

func (t *tx) UpdateAsset(_ context.Context, a assets.Asset) error {
	if _, ok := t.st.assets[a.ID]; !ok {
		return assets.ErrAssetNotFound
	}
	a.UpdatedAt = t.now()
	t.st.assets[a.ID] = a
	return nil
}

func (t *tx) GetRun(_ context.Context, assetID int64, period string) (assets.DepreciationRun, error) {
	for _, run := range t.st.runs {
		if run.AssetID == assetID && run.Period == period {
			return run, nil
		}
	}
	return assets.DepreciationRun{}, assets.ErrRunNotFound
}

func (t *tx) InsertRun(ctx context.Context, run assets.DepreciationRun) (assets.DepreciationRun, error) {
	if _, err := t.GetRun(ctx, run.AssetID, run.Period); err == nil {
		return assets.DepreciationRun{}, assets.ErrDuplicatePeriod
	}
	t.st.seq++
	run.ID = t.st.seq
	run.CreatedAt = t.now()
	t.st.runs[run.ID] = run
	return run, nil
}

func (t *tx) SetRunPosting(_ context.Context, runID, postingID int64) error {
	run, ok := t.st.runs[runID]
	if !ok {
		return assets.ErrRunNotFound
	}
	run.PostingID = postingID
	t.st.runs[runID] = run
	return nil
}

func (t *tx) DeleteRun(_ context.Context, runID int64) error {
	delete(t.st.runs, runID)
	return nil
}

func (t *tx) ListRuns(_ context.Context, assetID int64) ([]assets.DepreciationRun, error) {
	return listRuns(t.st, assetID), nil
}
