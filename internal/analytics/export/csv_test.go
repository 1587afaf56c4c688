package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

func TestWriteAgeingCSV(t *testing.T) {
	asOf := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	report := subledger.BuildAgeingReport([]subledger.Record{{
		InvoiceID:      42,
		CounterpartyID: 7,
		InvoiceDate:    time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		Remaining:      decimal.NewFromInt(1382000),
	}}, asOf)

	var buf bytes.Buffer
	if err := WriteAgeingCSV(&buf, report); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1+1+len(subledger.Buckets)+1 {
		t.Fatalf("unexpected line count %d", len(lines))
	}
	if lines[1] != "42,7,2025-09-01,2025-10-01,31-60,1382000.00" {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if !strings.HasSuffix(lines[len(lines)-1], "Total,1382000.00") {
		t.Fatalf("unexpected total %q", lines[len(lines)-1])
	}
}

func TestWriteTrialBalanceCSV(t *testing.T) {
	tb := reports.BuildTrialBalance([]reports.AccountBalance{
		{Code: "1100", Name: "Cash", DebitNormal: true, Opening: decimal.Zero, Debit: decimal.NewFromInt(10), Credit: decimal.Zero},
		{Code: "4100", Name: "Sales", Opening: decimal.Zero, Debit: decimal.Zero, Credit: decimal.NewFromInt(10)},
	})
	var buf bytes.Buffer
	if err := WriteTrialBalanceCSV(&buf, tb); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if !strings.Contains(buf.String(), ",Total,,10.00,10.00,") {
		t.Fatalf("missing totals in %q", buf.String())
	}
}
