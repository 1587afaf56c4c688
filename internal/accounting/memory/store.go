// Package memory provides an in-process ledger store. Transactions are serialized
// and work on a copy of the state that replaces the original only on commit.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

type mappingKey struct {
	role  accounting.AccountRole
	scope accounting.MappingScope
}

type state struct {
	seq         int64
	accounts    map[int64]accounting.Account
	mappings    map[mappingKey]int64
	postings    map[int64]accounting.Posting
	entries     []accounting.JournalEntry
	records     map[int64]subledger.Record
	allocations []subledger.Allocation
}

func newState() *state {
	return &state{
		accounts: make(map[int64]accounting.Account),
		mappings: make(map[mappingKey]int64),
		postings: make(map[int64]accounting.Posting),
		records:  make(map[int64]subledger.Record),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		accounts:    make(map[int64]accounting.Account, len(s.accounts)),
		mappings:    make(map[mappingKey]int64, len(s.mappings)),
		postings:    make(map[int64]accounting.Posting, len(s.postings)),
		entries:     append([]accounting.JournalEntry(nil), s.entries...),
		records:     make(map[int64]subledger.Record, len(s.records)),
		allocations: append([]subledger.Allocation(nil), s.allocations...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	for k, v := range s.postings {
		c.postings[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store implements accounting.RepositoryPort in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// AddAccount seeds a chart of accounts node and returns its id.
func (s *Store) AddAccount(a accounting.Account) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.state.next()
	} else if a.ID > s.state.seq {
		s.state.seq = a.ID
	}
	if a.OpeningBalance.IsZero() {
		a.OpeningBalance = decimal.Zero
	}
	s.state.accounts[a.ID] = a
	return a.ID
}

// SetAccountActive toggles an account's active flag.
func (s *Store) SetAccountActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.state.accounts[id]; ok {
		a.IsActive = active
		s.state.accounts[id] = a
	}
}

// AddMapping maps a role (optionally scoped) to an account.
func (s *Store) AddMapping(role accounting.AccountRole, scope accounting.MappingScope, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope.IsDefault() {
		scope = accounting.MappingScope{}
	}
	s.state.mappings[mappingKey{role: role, scope: scope}] = accountID
}

// Entries returns a snapshot of every stored entry.
func (s *Store) Entries() []accounting.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]accounting.JournalEntry(nil), s.state.entries...)
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) ListAccounts(_ context.Context) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) ResolveAccount(ctx context.Context, role accounting.AccountRole, scope accounting.MappingScope) (accounting.Account, error) {
	id, ok := t.st.mappings[mappingKey{role: role, scope: scope}]
	if !ok || scope.IsDefault() {
		id, ok = t.st.mappings[mappingKey{role: role}]
	}
	if !ok {
		return accounting.Account{}, &accounting.ConfigurationError{Role: role, Scope: scope, Reason: "no account mapping", Err: accounting.ErrMappingNotFound}
	}
	a, err := t.GetAccount(ctx, id)
	if err != nil {
		return accounting.Account{}, &accounting.ConfigurationError{Role: role, Scope: scope, Reason: "mapped account missing", Err: err}
	}
	if !a.IsActive {
		return accounting.Account{}, &accounting.ConfigurationError{Role: role, Scope: scope, Reason: "account " + a.Code + " is inactive"}
	}
	return a, nil
}

func (t *tx) MappedAccountIDs(_ context.Context, role accounting.AccountRole) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for k, id := range t.st.mappings {
		if k.role == role && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *tx) livePosting(key accounting.PostingKey) (accounting.Posting, bool) {
	for _, p := range t.st.postings {
		if p.ReversedAt == nil && p.Key() == key {
			return p, true
		}
	}
	return accounting.Posting{}, false
}

func (t *tx) FindPosting(_ context.Context, key accounting.PostingKey) (accounting.Posting, bool, error) {
	p, ok := t.livePosting(key)
	return p, ok, nil
}

func (t *tx) GetPostingForUpdate(_ context.Context, key accounting.PostingKey) (accounting.Posting, error) {
	p, ok := t.livePosting(key)
	if !ok {
		return accounting.Posting{}, accounting.ErrPostingNotFound
	}
	return p, nil
}

func (t *tx) InsertPosting(_ context.Context, p accounting.Posting) (accounting.Posting, error) {
	if _, ok := t.livePosting(p.Key()); ok {
		return accounting.Posting{}, accounting.ErrPostingConflict
	}
	p.ID = t.st.next()
	t.st.postings[p.ID] = p
	return p, nil
}

func (t *tx) DeletePosting(_ context.Context, postingID int64) error {
	if _, ok := t.st.postings[postingID]; !ok {
		return accounting.ErrPostingNotFound
	}
	delete(t.st.postings, postingID)
	kept := t.st.entries[:0]
	for _, e := range t.st.entries {
		if e.PostingID != postingID {
			kept = append(kept, e)
		}
	}
	t.st.entries = kept
	return nil
}

func (t *tx) MarkPostingReversed(_ context.Context, postingID int64, at time.Time) error {
	p, ok := t.st.postings[postingID]
	if !ok || p.ReversedAt != nil {
		return accounting.ErrPostingNotFound
	}
	p.ReversedAt = &at
	t.st.postings[postingID] = p
	return nil
}

func (t *tx) ListUnbalancedPostings(_ context.Context) ([]accounting.PostingImbalance, error) {
	type sums struct {
		debit, credit decimal.Decimal
		count         int
	}
	totals := make(map[int64]*sums, len(t.st.postings))
	for id := range t.st.postings {
		totals[id] = &sums{debit: decimal.Zero, credit: decimal.Zero}
	}
	for _, e := range t.st.entries {
		if s, ok := totals[e.PostingID]; ok {
			s.debit = s.debit.Add(e.Debit)
			s.credit = s.credit.Add(e.Credit)
			s.count++
		}
	}
	var out []accounting.PostingImbalance
	for id, s := range totals {
		if s.debit.Equal(s.credit) && s.count >= 2 {
			continue
		}
		out = append(out, accounting.PostingImbalance{PostingID: id, Key: t.st.postings[id].Key(), Debit: s.debit, Credit: s.credit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostingID < out[j].PostingID })
	return out, nil
}

func (t *tx) InsertEntries(_ context.Context, postingID int64, entries []accounting.JournalEntry) ([]accounting.JournalEntry, error) {
	p, ok := t.st.postings[postingID]
	if !ok {
		return nil, accounting.ErrPostingNotFound
	}
	out := make([]accounting.JournalEntry, 0, len(entries))
	for _, e := range entries {
		e.ID = t.st.next()
		e.PostingID = postingID
		e.Source = p.Source
		e.Event = p.Event
		e.Category = p.Category
		e.CreatedAt = t.now()
		t.st.entries = append(t.st.entries, e)
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) filterEntries(keep func(accounting.JournalEntry) bool) []accounting.JournalEntry {
	var out []accounting.JournalEntry
	for _, e := range t.st.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (t *tx) ListEntriesByPosting(_ context.Context, postingID int64) ([]accounting.JournalEntry, error) {
	return t.filterEntries(func(e accounting.JournalEntry) bool { return e.PostingID == postingID }), nil
}

func (t *tx) ListEntriesBySource(_ context.Context, source accounting.SourceRef) ([]accounting.JournalEntry, error) {
	return t.filterEntries(func(e accounting.JournalEntry) bool { return e.Source == source }), nil
}

func (t *tx) ListAccountEntries(_ context.Context, accountIDs []int64, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	ids := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		ids[id] = true
	}
	return t.filterEntries(func(e accounting.JournalEntry) bool { return ids[e.AccountID] && filter.Includes(e) }), nil
}

func (t *tx) ListEntries(_ context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	return t.filterEntries(filter.Includes), nil
}

func (t *tx) findRecord(kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	for _, rec := range t.st.records {
		if rec.Kind == kind && rec.InvoiceID == invoiceID {
			return rec, nil
		}
	}
	return subledger.Record{}, accounting.ErrRecordNotFound
}

func (t *tx) GetSubledgerRecord(_ context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	return t.findRecord(kind, invoiceID)
}

func (t *tx) GetSubledgerForUpdate(_ context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error) {
	return t.findRecord(kind, invoiceID)
}

func (t *tx) GetSubledgerByIDForUpdate(_ context.Context, id int64) (subledger.Record, error) {
	rec, ok := t.st.records[id]
	if !ok {
		return subledger.Record{}, accounting.ErrRecordNotFound
	}
	return rec, nil
}

func (t *tx) InsertSubledgerRecord(_ context.Context, rec subledger.Record) (subledger.Record, error) {
	if _, err := t.findRecord(rec.Kind, rec.InvoiceID); err == nil {
		return subledger.Record{}, errors.New("memory: duplicate subledger record")
	}
	rec.ID = t.st.next()
	t.st.records[rec.ID] = rec
	return rec, nil
}

func (t *tx) UpdateSubledgerRecord(_ context.Context, rec subledger.Record) error {
	if _, ok := t.st.records[rec.ID]; !ok {
		return accounting.ErrRecordNotFound
	}
	t.st.records[rec.ID] = rec
	return nil
}

func (t *tx) ListSubledgerRecords(_ context.Context, filter subledger.Filter) ([]subledger.Record, error) {
	var out []subledger.Record
	for _, rec := range t.st.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (t *tx) InsertAllocation(_ context.Context, a subledger.Allocation) error {
	a.ID = t.st.next()
	t.st.allocations = append(t.st.allocations, a)
	return nil
}

func (t *tx) ListAllocationsByPosting(_ context.Context, postingID int64) ([]subledger.Allocation, error) {
	var out []subledger.Allocation
	for _, a := range t.st.allocations {
		if a.PostingID == postingID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) DeleteAllocationsByPosting(_ context.Context, postingID int64) error {
	kept := t.st.allocations[:0]
	for _, a := range t.st.allocations {
		if a.PostingID != postingID {
			kept = append(kept, a)
		}
	}
	t.st.allocations = kept
	return nil
}

func (t *tx) SumAllocations(_ context.Context, recordID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range t.st.allocations {
		if a.RecordID == recordID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum, nil
}
