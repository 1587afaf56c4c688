package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// LedgerReader is the read side of the ledger used by operator commands.
type LedgerReader interface {
	AgeingReport(ctx context.Context, filter accounting.AgeingFilter) (subledger.AgeingReport, error)
	CheckIntegrity(ctx context.Context) (accounting.IntegrityReport, error)
}

// LedgerOpsCLI prints ledger reports for operators.
type LedgerOpsCLI struct {
	ledger  LedgerReader
	printer *message.Printer
}

// NewLedgerOpsCLI constructs the helper. Amounts are grouped the Indonesian way.
func NewLedgerOpsCLI(ledger LedgerReader) (*LedgerOpsCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: ledger not configured")
	}
	return &LedgerOpsCLI{ledger: ledger, printer: message.NewPrinter(language.Indonesian)}, nil
}

// AgeingOptions configures the ageing command.
type AgeingOptions struct {
	Kind       string
	AsOf       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AgeingCommand prints the ageing schedule. It exits 10 when any record is more than 90 days overdue.
func (c *LedgerOpsCLI) AgeingCommand(ctx context.Context, opts AgeingOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	kind := subledger.Kind(strings.ToUpper(opts.Kind))
	if opts.Kind == "" {
		kind = subledger.KindReceivable
	}
	if !kind.Valid() {
		_, _ = fmt.Fprintf(stderr, "ageing: unknown kind %q (expected ar or ap)\n", opts.Kind)
		return 2
	}
	asOf := time.Now().UTC()
	if opts.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", opts.AsOf)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "ageing: invalid as-of %q (expected YYYY-MM-DD)\n", opts.AsOf)
			return 2
		}
		asOf = parsed
	}
	report, err := c.ledger.AgeingReport(ctx, accounting.AgeingFilter{AsOf: asOf, Kind: kind})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ageing: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "ageing: encode json: %v\n", err)
			return 1
		}
	} else {
		c.renderAgeing(stdout, kind, report)
	}
	for _, total := range report.Totals {
		if total.Bucket == subledger.BucketOver90 && total.Count > 0 {
			return 10
		}
	}
	return 0
}

func (c *LedgerOpsCLI) renderAgeing(out io.Writer, kind subledger.Kind, report subledger.AgeingReport) {
	_, _ = fmt.Fprintf(out, "Ageing %s as of %s\n", kind, report.AsOf.Format("2006-01-02"))
	for _, total := range report.Totals {
		_, _ = fmt.Fprintf(out, "  %-8s %5d  %s\n", total.Bucket, total.Count, c.amount(total.Amount))
	}
	_, _ = fmt.Fprintf(out, "  %-8s %5d  %s\n", "total", len(report.Rows), c.amount(report.Total))
}

// IntegrityCommand runs the ledger checks inline. It exits 10 when the ledger is inconsistent.
func (c *LedgerOpsCLI) IntegrityCommand(ctx context.Context, stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	report, err := c.ledger.CheckIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "integrity: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Unbalanced postings: %d\n", len(report.UnbalancedPostings))
	for _, p := range report.UnbalancedPostings {
		_, _ = fmt.Fprintf(stdout, " - %s debit %s credit %s\n", p.Key.Reference(), c.amount(p.Debit), c.amount(p.Credit))
	}
	_, _ = fmt.Fprintf(stdout, "Drifted subsidiary records: %d\n", len(report.DriftedRecords))
	for _, drift := range report.ControlDrift {
		_, _ = fmt.Fprintf(stdout, "%s control drift: subledger %s control %s\n",
			drift.Kind, c.amount(drift.Subledger), c.amount(drift.Control))
	}
	_, _ = fmt.Fprintf(stdout, "Trial balance: debit %s credit %s\n",
		c.amount(report.TrialBalanceDebit), c.amount(report.TrialBalanceCredit))
	if !report.Healthy() {
		return 10
	}
	return 0
}

// amount renders d with locale digit grouping and two decimals.
func (c *LedgerOpsCLI) amount(d decimal.Decimal) string {
	abs := d.Abs()
	fixed := abs.StringFixed(2)
	out := c.printer.Sprintf("%d", abs.IntPart()) + "," + fixed[len(fixed)-2:]
	if d.IsNegative() {
		out = "-" + out
	}
	return out
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
