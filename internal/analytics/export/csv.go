package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// WriteAgeingCSV prints one row per outstanding record followed by bucket totals.
func WriteAgeingCSV(w io.Writer, report subledger.AgeingReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Invoice", "Counterparty", "Invoice Date", "Due Date", "Bucket", "Remaining"}); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := writer.Write([]string{
			strconv.FormatInt(row.InvoiceID, 10),
			strconv.FormatInt(row.CounterpartyID, 10),
			row.InvoiceDate.Format("2006-01-02"),
			row.DueDate.Format("2006-01-02"),
			string(row.Bucket),
			row.Remaining.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	for _, total := range report.Totals {
		if err := writer.Write([]string{"", "", "", "", string(total.Bucket), total.Amount.StringFixed(2)}); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{"", "", "", "", "Total", report.Total.StringFixed(2)}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteTrialBalanceCSV emits the trial balance rows and totals.
func WriteTrialBalanceCSV(w io.Writer, tb reports.TrialBalance) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Code", "Name", "Opening", "Debit", "Credit", "Closing"}); err != nil {
		return err
	}
	for _, grp := range tb.Groups {
		for _, acc := range grp.Accounts {
			if err := writer.Write([]string{
				acc.Code,
				acc.Name,
				acc.Opening.StringFixed(2),
				acc.Debit.StringFixed(2),
				acc.Credit.StringFixed(2),
				acc.Closing.StringFixed(2),
			}); err != nil {
				return err
			}
		}
	}
	if err := writer.Write([]string{"", "Total", "", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2), ""}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
