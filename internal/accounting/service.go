package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives posting outcomes.
type MetricsPort interface {
	ObservePosting(event string, status string, duration time.Duration)
	ObserveReversal(event string, status string)
}

// CacheInvalidator drops cached ledger-derived reports after a commit.
type CacheInvalidator interface {
	Bump(ctx context.Context, scope string) error
}

// LedgerCacheScope is the cache namespace bumped on every committed posting.
const LedgerCacheScope = "ledger"

// Service coordinates posting, reversing and querying ledger entries.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	logger      *slog.Logger
	metrics     MetricsPort
	cache       CacheInvalidator
	overpayment subledger.OverpaymentPolicy
	reverseMode ReverseMode
	now         func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		logger:      logger,
		overpayment: subledger.OverpaymentAllow,
		reverseMode: ReverseDelete,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetOverpaymentPolicy changes how allocations beyond the remaining balance are treated.
func (s *Service) SetOverpaymentPolicy(p subledger.OverpaymentPolicy) {
	if p != "" {
		s.overpayment = p
	}
}

// SetReversalMode sets the default mode used when ReverseInput.Mode is empty.
func (s *Service) SetReversalMode(m ReverseMode) {
	if m != "" {
		s.reverseMode = m
	}
}

// ReversalMode reports the configured default reversal mode.
func (s *Service) ReversalMode() ReverseMode {
	return s.reverseMode
}

// SetMetrics attaches a metrics sink.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

// SetCacheInvalidator attaches the analytics cache.
func (s *Service) SetCacheInvalidator(c CacheInvalidator) {
	s.cache = c
}

// Post turns a business event into a balanced posting. A second call for the same
// source and event returns StatusSkipped with the stored posting.
func (s *Service) Post(ctx context.Context, ev Event) (Result, error) {
	start := s.now()
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.PostInTx(ctx, tx, ev)
		return err
	})
	if errors.Is(err, ErrPostingConflict) {
		// Lost the race on uq_postings_key; the winner's posting is committed.
		result, err = s.loadExisting(ctx, ev.Key())
	}
	if err != nil {
		s.observePosting(ev.Type, "error", start)
		s.logger.Warn("ledger post failed",
			slog.String("event", string(ev.Type)),
			slog.String("source", ev.Source.String()),
			slog.Any("error", err))
		return Result{}, err
	}
	s.observePosting(ev.Type, string(result.Status), start)
	if result.Status == StatusSkipped {
		s.logger.Debug("ledger post skipped", slog.String("key", ev.Key().String()))
		return result, nil
	}
	s.afterCommit(ctx, ev.ActorID, "ledger.post", result.Posting, map[string]any{
		"event":   string(ev.Type),
		"source":  ev.Source.String(),
		"entries": len(result.Entries),
	})
	return result, nil
}

// PostInTx runs the posting algorithm on a caller-owned transaction. Callers must
// treat ErrPostingConflict as a duplicate.
func (s *Service) PostInTx(ctx context.Context, tx TxRepository, ev Event) (Result, error) {
	r, err := ruleFor(ev.Type)
	if err != nil {
		return Result{}, err
	}
	if err := validateEvent(ev, r); err != nil {
		return Result{}, err
	}
	key := ev.Key()
	existing, found, err := tx.FindPosting(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if found {
		entries, err := tx.ListEntriesByPosting(ctx, existing.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSkipped, Posting: existing, Entries: entries}, nil
	}

	ev.Description = describe(ev)
	if ev.Reference == "" {
		ev.Reference = key.Reference()
	}
	drafts, total, err := buildEntries(ctx, tx, ev, r)
	if err != nil {
		return Result{}, err
	}
	if err := ValidateEntries(drafts); err != nil {
		return Result{}, err
	}
	posting, err := tx.InsertPosting(ctx, Posting{
		Source:      ev.Source,
		Event:       ev.Type,
		Category:    r.category,
		Date:        ev.Date,
		Description: ev.Description,
		Reference:   ev.Reference,
		BranchID:    ev.BranchID,
		PostedBy:    ev.ActorID,
		PostedAt:    s.now(),
	})
	if err != nil {
		return Result{}, err
	}
	entries, err := tx.InsertEntries(ctx, posting.ID, drafts)
	if err != nil {
		return Result{}, err
	}
	switch r.effect {
	case effectOpen:
		err = s.openRecord(ctx, tx, ev, r.kind, total)
	case effectSettle:
		err = s.settleRecords(ctx, tx, ev, r, posting.ID)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusPosted, Posting: posting, Entries: entries}, nil
}

func (s *Service) loadExisting(ctx context.Context, key PostingKey) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posting, found, err := tx.FindPosting(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return ErrPostingConflict
		}
		entries, err := tx.ListEntriesByPosting(ctx, posting.ID)
		if err != nil {
			return err
		}
		result = Result{Status: StatusSkipped, Posting: posting, Entries: entries}
		return nil
	})
	return result, err
}

func (s *Service) openRecord(ctx context.Context, tx TxRepository, ev Event, kind subledger.Kind, total decimal.Decimal) error {
	invoiceDate := ev.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = ev.Date
	}
	dueDate := ev.DueDate
	if dueDate.IsZero() {
		dueDate = invoiceDate
	}
	now := s.now()
	rec, err := tx.GetSubledgerForUpdate(ctx, kind, ev.Source.ID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		rec, err = subledger.NewRecord(kind, ev.Source.ID, ev.CounterpartyID, invoiceDate, dueDate, total, now)
		if err != nil {
			return &InvariantViolation{Reason: "cannot open subsidiary ledger record", Err: err}
		}
		rec.BranchID = ev.BranchID
		rec.Reclassify(now)
		_, err = tx.InsertSubledgerRecord(ctx, rec)
		return err
	case err != nil:
		return err
	}
	if rec.RetiredAt == nil {
		return invariantf("%s invoice %d already has a live subsidiary ledger record", kind, ev.Source.ID)
	}
	if err := rec.Reissue(total, ev.CounterpartyID, invoiceDate, dueDate, now); err != nil {
		return &InvariantViolation{Reason: "cannot reissue subsidiary ledger record", Err: err}
	}
	rec.BranchID = ev.BranchID
	rec.Reclassify(now)
	return tx.UpdateSubledgerRecord(ctx, rec)
}

func (s *Service) settleRecords(ctx context.Context, tx TxRepository, ev Event, r rule, postingID int64) error {
	now := s.now()
	for _, alloc := range allocations(ev, r) {
		rec, err := tx.GetSubledgerForUpdate(ctx, r.kind, alloc.invoiceID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return fmt.Errorf("%w: %s invoice %d", ErrRecordNotFound, r.kind, alloc.invoiceID)
			}
			return err
		}
		if rec.RetiredAt != nil {
			return fmt.Errorf("%w: %s invoice %d is retired", ErrRecordNotFound, r.kind, alloc.invoiceID)
		}
		if err := rec.ApplyPayment(alloc.amount, s.overpayment, now, now); err != nil {
			return &InvariantViolation{Reason: fmt.Sprintf("allocation to invoice %d rejected", alloc.invoiceID), Err: err}
		}
		if err := tx.UpdateSubledgerRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.InsertAllocation(ctx, subledger.Allocation{
			RecordID:  rec.ID,
			PostingID: postingID,
			Amount:    alloc.amount,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Reverse undoes a posting. Delete mode removes its entries; offset mode appends
// mirrored entries and stamps reversed_at. Either way the key can be posted again.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (ReverseResult, error) {
	mode := in.Mode
	if mode == "" {
		mode = s.reverseMode
	}
	if _, err := ParseReverseMode(string(mode)); err != nil {
		return ReverseResult{}, err
	}
	key := PostingKey{Source: in.Source, Event: in.Event}
	var result ReverseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ReverseInTx(ctx, tx, key, mode, in.Reason)
		return err
	})
	if errors.Is(err, ErrPostingNotFound) {
		s.observeReversal(in.Event, string(StatusNotFound))
		return ReverseResult{Status: StatusNotFound}, err
	}
	if err != nil {
		s.observeReversal(in.Event, "error")
		s.logger.Warn("ledger reversal failed", slog.String("key", key.String()), slog.Any("error", err))
		return ReverseResult{}, err
	}
	s.observeReversal(in.Event, string(result.Status))
	s.afterCommit(ctx, in.ActorID, "ledger.reverse", result.Posting, map[string]any{
		"event":  string(in.Event),
		"source": in.Source.String(),
		"mode":   string(mode),
		"reason": in.Reason,
	})
	return result, nil
}

// ReverseInTx runs a reversal on a caller-owned transaction.
func (s *Service) ReverseInTx(ctx context.Context, tx TxRepository, key PostingKey, mode ReverseMode, memo string) (ReverseResult, error) {
	posting, err := tx.GetPostingForUpdate(ctx, key)
	if err != nil {
		return ReverseResult{}, err
	}
	entries, err := tx.ListEntriesByPosting(ctx, posting.ID)
	if err != nil {
		return ReverseResult{}, err
	}
	if r, ok := rules[posting.Event]; ok {
		switch r.effect {
		case effectOpen:
			err = s.retireRecord(ctx, tx, r.kind, posting.Source.ID)
		case effectSettle:
			err = s.unsettle(ctx, tx, posting.ID)
		}
		if err != nil {
			return ReverseResult{}, err
		}
	}
	now := s.now()
	switch mode {
	case ReverseOffset:
		if memo == "" {
			memo = "Reversal of " + posting.Reference
		}
		mirrored := MirrorEntries(entries, memo)
		for i := range mirrored {
			// A mirror never lands before the entry it cancels.
			if now.After(mirrored[i].Date) {
				mirrored[i].Date = now
			}
		}
		offsets, err := tx.InsertEntries(ctx, posting.ID, mirrored)
		if err != nil {
			return ReverseResult{}, err
		}
		if err := tx.MarkPostingReversed(ctx, posting.ID, now); err != nil {
			return ReverseResult{}, err
		}
		posting.ReversedAt = &now
		entries = offsets
	default:
		if err := tx.DeletePosting(ctx, posting.ID); err != nil {
			return ReverseResult{}, err
		}
	}
	return ReverseResult{Status: StatusReversed, Posting: posting, Entries: entries}, nil
}

func (s *Service) retireRecord(ctx context.Context, tx TxRepository, kind subledger.Kind, invoiceID int64) error {
	rec, err := tx.GetSubledgerForUpdate(ctx, kind, invoiceID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Paid.IsZero() {
		return invariantf("%s invoice %d has %s allocated; reverse its payments first", kind, invoiceID, rec.Paid.StringFixed(2))
	}
	rec.Retire(s.now())
	return tx.UpdateSubledgerRecord(ctx, rec)
}

func (s *Service) unsettle(ctx context.Context, tx TxRepository, postingID int64) error {
	allocs, err := tx.ListAllocationsByPosting(ctx, postingID)
	if err != nil {
		return err
	}
	if err := tx.DeleteAllocationsByPosting(ctx, postingID); err != nil {
		return err
	}
	ids := make([]int64, 0, len(allocs))
	seen := make(map[int64]bool, len(allocs))
	for _, a := range allocs {
		if !seen[a.RecordID] {
			seen[a.RecordID] = true
			ids = append(ids, a.RecordID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	now := s.now()
	for _, id := range ids {
		rec, err := tx.GetSubledgerByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		paid, err := tx.SumAllocations(ctx, id)
		if err != nil {
			return err
		}
		rec.SetPaid(paid, now, now)
		if err := tx.UpdateSubledgerRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Committed records the audit trail and bumps report caches for a posting written
// through PostInTx or ReverseInTx once the caller's transaction has committed.
func (s *Service) Committed(ctx context.Context, actorID int64, action string, posting Posting, meta map[string]any) {
	s.afterCommit(ctx, actorID, action, posting, meta)
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, posting Posting, meta map[string]any) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "posting",
			EntityID: fmt.Sprintf("%d", posting.ID),
			Meta:     meta,
			At:       s.now(),
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx, LedgerCacheScope); err != nil {
			s.logger.Warn("ledger cache bump failed", slog.Any("error", err))
		}
	}
}

func (s *Service) observePosting(event EventType, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObservePosting(string(event), status, s.now().Sub(start))
	}
}

func (s *Service) observeReversal(event EventType, status string) {
	if s.metrics != nil {
		s.metrics.ObserveReversal(string(event), status)
	}
}
