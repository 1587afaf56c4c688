package subledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClassifyOverdueBuckets(t *testing.T) {
	invoiced := date(2025, 9, 1)
	require.Equal(t, Bucket31To60, Classify(invoiced, date(2025, 10, 1), date(2025, 11, 15)))
	require.Equal(t, BucketCurrent, Classify(invoiced, date(2025, 12, 1), date(2025, 11, 15)))
}

func TestClassifyBoundaries(t *testing.T) {
	due := date(2025, 1, 1)
	cases := []struct {
		days int
		want Bucket
	}{
		{-10, BucketCurrent},
		{0, BucketCurrent},
		{1, Bucket1To30},
		{30, Bucket1To30},
		{31, Bucket31To60},
		{60, Bucket31To60},
		{61, Bucket61To90},
		{90, Bucket61To90},
		{91, BucketOver90},
		{400, BucketOver90},
	}
	for _, tc := range cases {
		got := Classify(due.AddDate(0, 0, -30), due, due.AddDate(0, 0, tc.days))
		require.Equalf(t, tc.want, got, "days overdue %d", tc.days)
	}
}

func TestClassifyIgnoresInvoiceAgeAndTimeOfDay(t *testing.T) {
	old := date(2020, 1, 1)
	due := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	asOf := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	require.Equal(t, BucketCurrent, Classify(old, due, asOf))
}

func TestBuildAgeingReportTotals(t *testing.T) {
	asOf := date(2025, 11, 15)
	records := []Record{
		{ID: 1, Kind: KindReceivable, InvoiceID: 10, DueDate: date(2025, 12, 1), Remaining: decimal.NewFromInt(100)},
		{ID: 2, Kind: KindReceivable, InvoiceID: 11, DueDate: date(2025, 10, 1), Remaining: decimal.NewFromInt(250)},
		{ID: 3, Kind: KindReceivable, InvoiceID: 12, DueDate: date(2025, 6, 1), Remaining: decimal.NewFromInt(50)},
	}
	report := BuildAgeingReport(records, asOf)

	require.Len(t, report.Rows, 3)
	require.Equal(t, int64(12), report.Rows[0].InvoiceID)
	require.True(t, report.Total.Equal(decimal.NewFromInt(400)))
	require.Len(t, report.Totals, len(Buckets))
	byBucket := map[Bucket]BucketTotal{}
	for _, bt := range report.Totals {
		byBucket[bt.Bucket] = bt
	}
	require.True(t, byBucket[BucketCurrent].Amount.Equal(decimal.NewFromInt(100)))
	require.True(t, byBucket[Bucket31To60].Amount.Equal(decimal.NewFromInt(250)))
	require.True(t, byBucket[BucketOver90].Amount.Equal(decimal.NewFromInt(50)))
	require.Equal(t, 0, byBucket[Bucket1To30].Count)
}
