// Package identity holds the tenancy entities: the tenant itself and the
// organizations nested inside it.
package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
)

// Tenant domain errors
var (
	ErrTenantNameRequired = shared.NewDomainError("TENANT_NAME_REQUIRED", "Tenant name is required")
	ErrTenantSuspended    = shared.NewDomainError("TENANT_SUSPENDED", "Tenant is suspended")
)

// Tenant is the root of the isolation model. The tenants table itself is not
// row-level-secured; every table nested under it is.
type Tenant struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string       `gorm:"size:255;not null" json:"name"`
	Slug      string       `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	Status    TenantStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates an active tenant.
func NewTenant(name, slug string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTenantNameRequired
	}
	now := time.Now()
	return &Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      strings.ToLower(strings.TrimSpace(slug)),
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsActive returns true when the tenant may serve requests.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Suspend blocks the tenant from serving requests.
func (t *Tenant) Suspend() {
	t.Status = TenantStatusSuspended
	t.UpdatedAt = time.Now()
}
