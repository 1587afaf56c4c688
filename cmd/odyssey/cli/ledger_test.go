package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubLedger struct {
	records   []subledger.Record
	integrity accounting.IntegrityReport
	err       error
	filter    accounting.AgeingFilter
}

func (s *stubLedger) AgeingReport(_ context.Context, f accounting.AgeingFilter) (subledger.AgeingReport, error) {
	s.filter = f
	if s.err != nil {
		return subledger.AgeingReport{}, s.err
	}
	return subledger.BuildAgeingReport(s.records, f.AsOf), nil
}

func (s *stubLedger) CheckIntegrity(context.Context) (accounting.IntegrityReport, error) {
	return s.integrity, s.err
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestAgeingCommandHuman(t *testing.T) {
	ledger := &stubLedger{records: []subledger.Record{{
		ID: 1, Kind: subledger.KindReceivable, InvoiceID: 42,
		InvoiceDate: day(2025, 11, 1), DueDate: day(2025, 12, 1),
		Remaining: decimal.RequireFromString("1382000"),
	}}}
	cli, err := NewLedgerOpsCLI(ledger)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.AgeingCommand(context.Background(), AgeingOptions{Kind: "ar", AsOf: "2025-12-15", Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Equal(t, subledger.KindReceivable, ledger.filter.Kind)
	require.Contains(t, stdout.String(), "Ageing AR as of 2025-12-15")
	require.Contains(t, stdout.String(), "1.382.000,00")
}

func TestAgeingCommandFlagsOverdueAndErrors(t *testing.T) {
	ledger := &stubLedger{records: []subledger.Record{{
		ID: 2, Kind: subledger.KindPayable, InvoiceID: 7,
		InvoiceDate: day(2025, 1, 1), DueDate: day(2025, 1, 31),
		Remaining: decimal.NewFromInt(500),
	}}}
	cli, err := NewLedgerOpsCLI(ledger)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.AgeingCommand(context.Background(), AgeingOptions{Kind: "AP", AsOf: "2025-12-31", JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)
	var report subledger.AgeingReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.Len(t, report.Rows, 1)
	require.Equal(t, subledger.BucketOver90, report.Rows[0].Bucket)

	stderr := new(bytes.Buffer)
	require.Equal(t, 2, cli.AgeingCommand(context.Background(), AgeingOptions{Kind: "gl", Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stderr.String(), "unknown kind")
	require.Equal(t, 2, cli.AgeingCommand(context.Background(), AgeingOptions{AsOf: "31/12/2025", Stdout: stdout, Stderr: stderr}))

	ledger.err = errors.New("db down")
	require.Equal(t, 1, cli.AgeingCommand(context.Background(), AgeingOptions{Stdout: stdout, Stderr: stderr}))
}

func TestIntegrityCommand(t *testing.T) {
	ledger := &stubLedger{integrity: accounting.IntegrityReport{
		TrialBalanceDebit:  decimal.NewFromInt(100),
		TrialBalanceCredit: decimal.NewFromInt(100),
	}}
	cli, err := NewLedgerOpsCLI(ledger)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	require.Equal(t, 0, cli.IntegrityCommand(context.Background(), stdout, new(bytes.Buffer)))
	require.Contains(t, stdout.String(), "Unbalanced postings: 0")

	ledger.integrity.DriftedRecords = []subledger.Record{{ID: 3}}
	require.Equal(t, 10, cli.IntegrityCommand(context.Background(), new(bytes.Buffer), new(bytes.Buffer)))

	ledger.integrity.DriftedRecords = nil
	ledger.integrity.ControlDrift = []accounting.ControlDrift{{
		Kind: subledger.KindReceivable, Subledger: decimal.Zero, Control: decimal.NewFromInt(-400),
	}}
	stdout.Reset()
	require.Equal(t, 10, cli.IntegrityCommand(context.Background(), stdout, new(bytes.Buffer)))
	require.Contains(t, stdout.String(), "AR control drift: subledger 0,00 control -400,00")

	_, err = NewLedgerOpsCLI(nil)
	require.Error(t, err)
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskGLIntegrity, time.Time{})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskGLIntegrity, task.Type())

	task, err = BuildTask(jobs.TaskAgeingRefresh, day(2025, 12, 31))
	require.NoError(t, err)
	require.JSONEq(t, `{"as_of":"2025-12-31"}`, string(task.Payload()))

	_, err = BuildTask("mail:send", time.Time{})
	require.Error(t, err)
}
