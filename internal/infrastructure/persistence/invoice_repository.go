package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/domain/billing"
	"github.com/ledgerline/backend/internal/domain/shared"
)

// GormInvoiceRepository implements billing.InvoiceRepository using GORM. It
// never filters by tenant itself: every statement runs inside a scoped
// transaction whose session settings feed the row security predicates, and
// the guard callbacks inject the same filter above the database as a second
// layer.
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// Create inserts a new invoice; the tenant column is stamped from the scope
func (r *GormInvoiceRepository) Create(ctx context.Context, invoice *billing.Invoice) error {
	return runScoped(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Create(invoice).Error
	})
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id string) (*billing.Invoice, error) {
	var invoice billing.Invoice
	err := runScoped(ctx, r.db, func(tx *gorm.DB) error {
		return tx.First(&invoice, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// FindByNumber finds an invoice by its number
func (r *GormInvoiceRepository) FindByNumber(ctx context.Context, number string) (*billing.Invoice, error) {
	var invoice billing.Invoice
	err := runScoped(ctx, r.db, func(tx *gorm.DB) error {
		return tx.First(&invoice, "number = ?", number).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// List returns invoices matching the filter along with the total count
func (r *GormInvoiceRepository) List(ctx context.Context, filter billing.InvoiceFilter) ([]*billing.Invoice, int64, error) {
	var (
		invoices []*billing.Invoice
		total    int64
	)
	err := runScoped(ctx, r.db, func(tx *gorm.DB) error {
		query := tx.Model(&billing.Invoice{})

		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.OrgID != nil {
			query = query.Where("org_id = ?", *filter.OrgID)
		}

		if err := query.Count(&total).Error; err != nil {
			return err
		}

		page := filter.Page
		if page < 1 {
			page = 1
		}
		pageSize := filter.PageSize
		if pageSize < 1 {
			pageSize = 20
		}

		sortBy := ValidateSortField(filter.SortBy, InvoiceSortFields, "created_at")
		sortOrder := ValidateSortOrder(filter.SortOrder)

		return query.
			Order(sortBy + " " + sortOrder).
			Offset((page - 1) * pageSize).
			Limit(pageSize).
			Find(&invoices).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Update persists changes to an existing invoice
func (r *GormInvoiceRepository) Update(ctx context.Context, invoice *billing.Invoice) error {
	return runScoped(ctx, r.db, func(tx *gorm.DB) error {
		result := tx.Model(&billing.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"customer_name": invoice.CustomerName,
				"amount":        invoice.Amount,
				"currency":      invoice.Currency,
				"status":        invoice.Status,
				"issued_at":     invoice.IssuedAt,
				"due_at":        invoice.DueAt,
				"updated_at":    invoice.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// Delete removes an invoice by ID
func (r *GormInvoiceRepository) Delete(ctx context.Context, id string) error {
	return runScoped(ctx, r.db, func(tx *gorm.DB) error {
		result := tx.Delete(&billing.Invoice{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}
