// Package billing implements the invoice application service. The service
// never handles tenant ids directly; every repository call runs under the
// scope carried by ctx.
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/backend/internal/domain/billing"
	"github.com/ledgerline/backend/internal/infrastructure/telemetry"
)

// CreateInvoiceRequest represents a request to create a new invoice. Number
// may be left empty when an organization is in scope; the next number in the
// organization's sequence is assigned.
type CreateInvoiceRequest struct {
	Number       string          `json:"number" binding:"omitempty,max=64"`
	CustomerName string          `json:"customer_name" binding:"required,min=1,max=255"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	Currency     string          `json:"currency" binding:"required,len=3"`
	OrgID        *int64          `json:"org_id"`
}

// IssueInvoiceRequest represents a request to issue a draft invoice
type IssueInvoiceRequest struct {
	DueAt time.Time `json:"due_at" binding:"required"`
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	OrgID        *int64          `json:"org_id,omitempty"`
	IssuedAt     *time.Time      `json:"issued_at,omitempty"`
	DueAt        *time.Time      `json:"due_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ToInvoiceResponse converts a domain Invoice to InvoiceResponse. The tenant
// id is deliberately not exposed; clients only ever see their own rows.
func ToInvoiceResponse(inv *billing.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:           inv.ID,
		Number:       inv.Number,
		CustomerName: inv.CustomerName,
		Amount:       inv.Amount,
		Currency:     inv.Currency,
		Status:       inv.Status.String(),
		OrgID:        inv.OrgID,
		IssuedAt:     inv.IssuedAt,
		DueAt:        inv.DueAt,
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
	}
}

// ListInvoicesQuery narrows invoice listings
type ListInvoicesQuery struct {
	Status    string
	OrgID     *int64
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// InvoiceService handles invoice business operations
type InvoiceService struct {
	repo     billing.InvoiceRepository
	sequence billing.NumberSequence
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(repo billing.InvoiceRepository, sequence billing.NumberSequence) *InvoiceService {
	return &InvoiceService{repo: repo, sequence: sequence}
}

// Create creates a draft invoice. When the request carries no number, one is
// allocated from the sequence of the organization in scope.
func (s *InvoiceService) Create(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "create")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrInvoiceNumber, req.Number,
		telemetry.SpanAttrCurrency, req.Currency,
	)

	number := req.Number
	if number == "" {
		allocated, err := s.sequence.NextInvoiceNumber(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		number = allocated
		telemetry.SetAttribute(span, telemetry.SpanAttrInvoiceNumber, number)
	}

	inv, err := billing.NewInvoice(number, req.CustomerName, req.Amount, req.Currency)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if req.OrgID != nil {
		inv.ForOrganization(*req.OrgID)
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// Get returns an invoice by id
func (s *InvoiceService) Get(ctx context.Context, id string) (*InvoiceResponse, error) {
	inv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// List returns invoices matching the query with the total count
func (s *InvoiceService) List(ctx context.Context, q ListInvoicesQuery) ([]InvoiceResponse, int64, error) {
	invoices, total, err := s.repo.List(ctx, billing.InvoiceFilter{
		Status:    billing.InvoiceStatus(q.Status),
		OrgID:     q.OrgID,
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, ToInvoiceResponse(inv))
	}
	return out, total, nil
}

// Issue transitions a draft invoice to issued
func (s *InvoiceService) Issue(ctx context.Context, id string, req IssueInvoiceRequest) (*InvoiceResponse, error) {
	return s.transition(ctx, "issue", id, func(inv *billing.Invoice) error {
		return inv.Issue(req.DueAt)
	})
}

// Pay settles an issued invoice
func (s *InvoiceService) Pay(ctx context.Context, id string) (*InvoiceResponse, error) {
	return s.transition(ctx, "pay", id, (*billing.Invoice).MarkPaid)
}

// Void cancels an invoice
func (s *InvoiceService) Void(ctx context.Context, id string) (*InvoiceResponse, error) {
	return s.transition(ctx, "void", id, (*billing.Invoice).Void)
}

// Delete removes a draft invoice
func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	inv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != billing.InvoiceStatusDraft {
		return billing.ErrInvoiceNotDraft
	}
	return s.repo.Delete(ctx, id)
}

func (s *InvoiceService) transition(ctx context.Context, op, id string, fn func(*billing.Invoice) error) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", op)
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrInvoiceID, id)

	inv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := fn(inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrInvoiceStatus, inv.Status.String())
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}
