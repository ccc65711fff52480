// Package billing holds the invoicing aggregate. Every invoice belongs to
// exactly one tenant and, optionally, one organization within that tenant;
// ownership is immutable after creation.
package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "DRAFT"  // Editable, not yet sent
	InvoiceStatusIssued InvoiceStatus = "ISSUED" // Sent to the customer, awaiting payment
	InvoiceStatusPaid   InvoiceStatus = "PAID"   // Settled in full
	InvoiceStatusVoid   InvoiceStatus = "VOID"   // Cancelled, kept for the audit trail
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the invoice is in a terminal state
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid
}

// Invoice domain errors
var (
	ErrInvoiceNumberRequired  = shared.NewDomainError("INVOICE_NUMBER_REQUIRED", "Invoice number is required")
	ErrInvoiceAmountInvalid   = shared.NewDomainError("INVOICE_AMOUNT_INVALID", "Invoice amount must be positive")
	ErrInvoiceCurrencyInvalid = shared.NewDomainError("INVOICE_CURRENCY_INVALID", "Invoice currency must be a 3-letter code")
	ErrInvoiceNotDraft        = shared.NewDomainError("INVOICE_NOT_DRAFT", "Operation requires a draft invoice")
	ErrInvoiceNotIssued       = shared.NewDomainError("INVOICE_NOT_ISSUED", "Operation requires an issued invoice")
	ErrInvoiceTerminal        = shared.NewDomainError("INVOICE_TERMINAL", "Invoice is in a terminal state")
)

// Invoice is the billing aggregate root. TenantID is stamped by the
// persistence layer from the request scope and never taken from input.
type Invoice struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     string          `gorm:"type:uuid;not null;index:idx_invoices_tenant;uniqueIndex:uniq_invoices_tenant_number" json:"tenant_id"`
	OrgID        *int64          `gorm:"index:idx_invoices_org" json:"org_id,omitempty"`
	Number       string          `gorm:"size:64;not null;uniqueIndex:uniq_invoices_tenant_number" json:"number"`
	CustomerName string          `gorm:"size:255;not null" json:"customer_name"`
	Amount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	Status       InvoiceStatus   `gorm:"size:16;not null" json:"status"`
	IssuedAt     *time.Time      `json:"issued_at,omitempty"`
	DueAt        *time.Time      `json:"due_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// NewInvoice creates a draft invoice. The tenant is attached later by the
// persistence layer; passing one here would only be overwritten.
func NewInvoice(number, customerName string, amount decimal.Decimal, currency string) (*Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrInvoiceNumberRequired
	}
	if !amount.IsPositive() {
		return nil, ErrInvoiceAmountInvalid
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, ErrInvoiceCurrencyInvalid
	}

	now := time.Now()
	return &Invoice{
		ID:           uuid.NewString(),
		Number:       number,
		CustomerName: strings.TrimSpace(customerName),
		Amount:       amount,
		Currency:     currency,
		Status:       InvoiceStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ForOrganization scopes the invoice to an organization within the tenant.
func (i *Invoice) ForOrganization(orgID int64) *Invoice {
	i.OrgID = &orgID
	return i
}

// Issue transitions a draft invoice to issued with the given due date.
func (i *Invoice) Issue(dueAt time.Time) error {
	if i.Status != InvoiceStatusDraft {
		return ErrInvoiceNotDraft
	}
	now := time.Now()
	i.Status = InvoiceStatusIssued
	i.IssuedAt = &now
	i.DueAt = &dueAt
	i.UpdatedAt = now
	return nil
}

// MarkPaid settles an issued invoice.
func (i *Invoice) MarkPaid() error {
	if i.Status != InvoiceStatusIssued {
		return ErrInvoiceNotIssued
	}
	i.Status = InvoiceStatusPaid
	i.UpdatedAt = time.Now()
	return nil
}

// Void cancels the invoice. Paid invoices cannot be voided.
func (i *Invoice) Void() error {
	if i.Status.IsTerminal() {
		return ErrInvoiceTerminal
	}
	i.Status = InvoiceStatusVoid
	i.UpdatedAt = time.Now()
	return nil
}

// IsOverdue returns true if the invoice is issued and past its due date.
func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.Status == InvoiceStatusIssued && i.DueAt != nil && now.After(*i.DueAt)
}
