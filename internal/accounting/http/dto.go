package ledgerhttp

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

const dateLayout = "2006-01-02"

type postingLine struct {
	Role      string          `json:"role" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	ScopeKind string          `json:"scope_kind" validate:"omitempty,oneof=product payment_method asset counterparty"`
	ScopeID   int64           `json:"scope_id" validate:"gte=0"`
	InvoiceID int64           `json:"invoice_id" validate:"gte=0"`
	Memo      string          `json:"memo" validate:"max=255"`
}

type postingRequest struct {
	EventType      string        `json:"event_type" validate:"required"`
	SourceKind     string        `json:"source_kind" validate:"required"`
	SourceID       int64         `json:"source_id" validate:"required,gt=0"`
	Date           string        `json:"date" validate:"required"`
	Description    string        `json:"description" validate:"max=255"`
	Reference      string        `json:"reference" validate:"max=64"`
	BranchID       *int64        `json:"branch_id" validate:"omitempty,gt=0"`
	CounterpartyID int64         `json:"counterparty_id" validate:"gte=0"`
	InvoiceDate    string        `json:"invoice_date"`
	DueDate        string        `json:"due_date"`
	ActorID        int64         `json:"actor_id" validate:"gte=0"`
	Lines          []postingLine `json:"lines" validate:"required,min=1,dive"`
}

func (r postingRequest) toEvent() (accounting.Event, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return accounting.Event{}, fmt.Errorf("date must be YYYY-MM-DD")
	}
	ev := accounting.Event{
		Type:           accounting.EventType(r.EventType),
		Source:         accounting.SourceRef{Kind: accounting.SourceKind(r.SourceKind), ID: r.SourceID},
		Date:           date,
		Description:    r.Description,
		Reference:      r.Reference,
		BranchID:       r.BranchID,
		CounterpartyID: r.CounterpartyID,
		ActorID:        r.ActorID,
	}
	if ev.InvoiceDate, err = optionalDate(r.InvoiceDate); err != nil {
		return accounting.Event{}, fmt.Errorf("invoice_date must be YYYY-MM-DD")
	}
	if ev.DueDate, err = optionalDate(r.DueDate); err != nil {
		return accounting.Event{}, fmt.Errorf("due_date must be YYYY-MM-DD")
	}
	for _, l := range r.Lines {
		ev.Lines = append(ev.Lines, accounting.EventLine{
			Role:      accounting.AccountRole(l.Role),
			Amount:    l.Amount,
			Quantity:  l.Quantity,
			UnitCost:  l.UnitCost,
			Scope:     accounting.MappingScope{Kind: accounting.ScopeKind(l.ScopeKind), ID: l.ScopeID},
			InvoiceID: l.InvoiceID,
			Memo:      l.Memo,
		})
	}
	return ev, nil
}

type reversalRequest struct {
	EventType  string `json:"event_type" validate:"required"`
	SourceKind string `json:"source_kind" validate:"required"`
	SourceID   int64  `json:"source_id" validate:"required,gt=0"`
	Mode       string `json:"mode" validate:"omitempty,oneof=delete offset"`
	ActorID    int64  `json:"actor_id" validate:"gte=0"`
	Reason     string `json:"reason" validate:"max=255"`
}

type entryResponse struct {
	ID          int64           `json:"id"`
	PostingID   int64           `json:"posting_id"`
	AccountID   int64           `json:"account_id"`
	Date        string          `json:"date"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Source      string          `json:"source"`
	Event       string          `json:"event"`
	Category    string          `json:"category"`
	BranchID    *int64          `json:"branch_id,omitempty"`
}

type postingResponse struct {
	Status    string          `json:"status"`
	PostingID int64           `json:"posting_id,omitempty"`
	Key       string          `json:"key,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Entries   []entryResponse `json:"entries"`
}

type accountResponse struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	ParentID       *int64          `json:"parent_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	IsActive       bool            `json:"is_active"`
}

type balanceResponse struct {
	AccountID       int64           `json:"account_id"`
	AsOf            string          `json:"as_of"`
	From            string          `json:"from,omitempty"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	IncludeChildren bool            `json:"include_children"`
	Balance         decimal.Decimal `json:"balance"`
}

type recordResponse struct {
	ID             int64           `json:"id"`
	Kind           string          `json:"kind"`
	InvoiceID      int64           `json:"invoice_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	BranchID       *int64          `json:"branch_id,omitempty"`
	InvoiceDate    string          `json:"invoice_date"`
	DueDate        string          `json:"due_date"`
	Total          decimal.Decimal `json:"total"`
	Paid           decimal.Decimal `json:"paid"`
	Remaining      decimal.Decimal `json:"remaining"`
	Status         string          `json:"status"`
	Bucket         string          `json:"bucket"`
}

func toEntryResponse(e accounting.JournalEntry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		PostingID:   e.PostingID,
		AccountID:   e.AccountID,
		Date:        e.Date.Format(dateLayout),
		Debit:       e.Debit,
		Credit:      e.Credit,
		Description: e.Description,
		Reference:   e.Reference,
		Source:      e.Source.String(),
		Event:       string(e.Event),
		Category:    string(e.Category),
		BranchID:    e.BranchID,
	}
}

func toPostingResponse(status string, p accounting.Posting, entries []accounting.JournalEntry) postingResponse {
	resp := postingResponse{Status: status, Entries: make([]entryResponse, 0, len(entries))}
	if p.ID != 0 {
		resp.PostingID = p.ID
		resp.Key = p.Key().String()
		resp.Reference = p.Reference
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	return resp
}

func toAccountResponse(a accounting.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Code:           a.Code,
		Name:           a.Name,
		Type:           string(a.Type),
		ParentID:       a.ParentID,
		OpeningBalance: a.OpeningBalance,
		IsActive:       a.IsActive,
	}
}

func toRecordResponse(r subledger.Record) recordResponse {
	return recordResponse{
		ID:             r.ID,
		Kind:           string(r.Kind),
		InvoiceID:      r.InvoiceID,
		CounterpartyID: r.CounterpartyID,
		BranchID:       r.BranchID,
		InvoiceDate:    r.InvoiceDate.Format(dateLayout),
		DueDate:        r.DueDate.Format(dateLayout),
		Total:          r.Total,
		Paid:           r.Paid,
		Remaining:      r.Remaining,
		Status:         string(r.Status),
		Bucket:         string(r.Bucket),
	}
}

func optionalDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
