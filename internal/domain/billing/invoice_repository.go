package billing

import "context"

// InvoiceFilter narrows invoice listings. The tenant is never part of the
// filter; it always comes from the request scope.
type InvoiceFilter struct {
	Status    InvoiceStatus
	OrgID     *int64
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// InvoiceRepository defines the persistence operations for invoices. All
// methods operate within the tenant scope carried by ctx.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	FindByID(ctx context.Context, id string) (*Invoice, error)
	FindByNumber(ctx context.Context, number string) (*Invoice, error)
	List(ctx context.Context, filter InvoiceFilter) ([]*Invoice, int64, error)
	Update(ctx context.Context, invoice *Invoice) error
	Delete(ctx context.Context, id string) error
}
