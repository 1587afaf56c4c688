package subledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket labels an overdue range.
type Bucket string

const (
	BucketCurrent Bucket = "Current"
	Bucket1To30   Bucket = "1-30"
	Bucket31To60  Bucket = "31-60"
	Bucket61To90  Bucket = "61-90"
	BucketOver90  Bucket = ">90"
)

// Buckets lists labels in display order.
var Buckets = []Bucket{BucketCurrent, Bucket1To30, Bucket31To60, Bucket61To90, BucketOver90}

const bucketWidthDays = 30

// Classify buckets a record by days past due. Invoice age does not matter;
// anything not yet overdue is Current.
func Classify(invoiceDate, dueDate, asOf time.Time) Bucket {
	days := daysBetween(dueDate, asOf)
	if days <= 0 {
		return BucketCurrent
	}
	idx := (days - 1) / bucketWidthDays
	if idx >= len(Buckets)-1 {
		return BucketOver90
	}
	return Buckets[idx+1]
}

// daysBetween counts calendar days from a to b in UTC.
func daysBetween(a, b time.Time) int {
	ad := civil(a)
	bd := civil(b)
	return int(bd.Sub(ad).Hours() / 24)
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AgeingRow is one outstanding record inside a report.
type AgeingRow struct {
	RecordID       int64           `json:"record_id"`
	Kind           Kind            `json:"kind"`
	InvoiceID      int64           `json:"invoice_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	Bucket         Bucket          `json:"bucket"`
	Remaining      decimal.Decimal `json:"remaining"`
}

// BucketTotal sums remaining balances inside a bucket.
type BucketTotal struct {
	Bucket Bucket          `json:"bucket"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// AgeingReport is the ageing schedule as of a date.
type AgeingReport struct {
	AsOf   time.Time       `json:"as_of"`
	Rows   []AgeingRow     `json:"rows"`
	Totals []BucketTotal   `json:"totals"`
	Total  decimal.Decimal `json:"total"`
}

// BuildAgeingReport classifies records as of the supplied date.
func BuildAgeingReport(records []Record, asOf time.Time) AgeingReport {
	report := AgeingReport{AsOf: civil(asOf), Total: decimal.Zero}
	totals := make(map[Bucket]*BucketTotal, len(Buckets))
	for _, b := range Buckets {
		totals[b] = &BucketTotal{Bucket: b, Amount: decimal.Zero}
	}
	for _, rec := range records {
		bucket := Classify(rec.InvoiceDate, rec.DueDate, asOf)
		report.Rows = append(report.Rows, AgeingRow{
			RecordID:       rec.ID,
			Kind:           rec.Kind,
			InvoiceID:      rec.InvoiceID,
			CounterpartyID: rec.CounterpartyID,
			InvoiceDate:    rec.InvoiceDate,
			DueDate:        rec.DueDate,
			Bucket:         bucket,
			Remaining:      rec.Remaining,
		})
		t := totals[bucket]
		t.Amount = t.Amount.Add(rec.Remaining)
		t.Count++
		report.Total = report.Total.Add(rec.Remaining)
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].DueDate.Equal(report.Rows[j].DueDate) {
			return report.Rows[i].InvoiceID < report.Rows[j].InvoiceID
		}
		return report.Rows[i].DueDate.Before(report.Rows[j].DueDate)
	})
	for _, b := range Buckets {
		report.Totals = append(report.Totals, *totals[b])
	}
	return report
}
