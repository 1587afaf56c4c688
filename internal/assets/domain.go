package assets

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a fixed asset.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusFullyDepreciated Status = "FULLY_DEPRECIATED"
)

var (
	// ErrAssetNotFound indicates the asset does not exist.
	ErrAssetNotFound = errors.New("assets: asset not found")
	// ErrRunNotFound indicates no depreciation run exists for the period.
	ErrRunNotFound = errors.New("assets: depreciation run not found")
	// ErrDuplicatePeriod indicates the period was already depreciated.
	ErrDuplicatePeriod = errors.New("assets: period already depreciated")
	// ErrInvalidPeriod indicates a malformed or premature period.
	ErrInvalidPeriod = errors.New("assets: invalid period")
	// ErrNothingToDepreciate indicates the asset has no remaining depreciable base.
	ErrNothingToDepreciate = errors.New("assets: nothing left to depreciate")
)

// Asset is a depreciable fixed asset.
type Asset struct {
	ID               int64
	Code             string
	Name             string
	BranchID         *int64
	AcquisitionDate  time.Time
	Cost             decimal.Decimal
	SalvageValue     decimal.Decimal
	UsefulLifeMonths int
	AccumulatedDepr  decimal.Decimal
	BookValue        decimal.Decimal
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DepreciableBase is cost less salvage value.
func (a Asset) DepreciableBase() decimal.Decimal {
	return a.Cost.Sub(a.SalvageValue)
}

// MonthlyCharge returns the straight-line amount for one period, clamped to what is left.
func (a Asset) MonthlyCharge() decimal.Decimal {
	if a.UsefulLifeMonths <= 0 {
		return decimal.Zero
	}
	remaining := a.DepreciableBase().Sub(a.AccumulatedDepr)
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	charge := a.DepreciableBase().Div(decimal.NewFromInt(int64(a.UsefulLifeMonths))).Round(2)
	if charge.GreaterThan(remaining) {
		return remaining
	}
	return charge
}

// Apply sets accumulated depreciation and derives book value and status.
func (a *Asset) Apply(accumulated decimal.Decimal) {
	a.AccumulatedDepr = accumulated
	a.BookValue = a.Cost.Sub(accumulated)
	if accumulated.GreaterThanOrEqual(a.DepreciableBase()) {
		a.Status = StatusFullyDepreciated
	} else {
		a.Status = StatusActive
	}
}

// Validate checks static asset attributes.
func (a Asset) Validate() error {
	switch {
	case !a.Cost.IsPositive():
		return fmt.Errorf("assets: cost must be positive")
	case a.SalvageValue.IsNegative() || a.SalvageValue.GreaterThan(a.Cost):
		return fmt.Errorf("assets: salvage value must be between zero and cost")
	case a.UsefulLifeMonths <= 0:
		return fmt.Errorf("assets: useful life must be positive")
	}
	return nil
}

// DepreciationRun records one period's depreciation charge.
type DepreciationRun struct {
	ID        int64
	AssetID   int64
	Period    string
	Amount    decimal.Decimal
	PostingID int64
	CreatedAt time.Time
}

const periodLayout = "2006-01"

// ParsePeriod parses "YYYY-MM" and returns the last day of that month.
func ParsePeriod(period string) (time.Time, error) {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return start.AddDate(0, 1, -1), nil
}

// RunInput requests a depreciation run.
type RunInput struct {
	AssetID int64
	Period  string
	ActorID int64
}

// RunResult is returned by RunDepreciation.
type RunResult struct {
	Asset      Asset
	Run        DepreciationRun
	EntryCount int
}
