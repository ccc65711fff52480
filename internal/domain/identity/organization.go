package identity

import (
	"strings"
	"time"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// ErrOrganizationNameRequired is returned when an organization is created
// without a name.
var ErrOrganizationNameRequired = shared.NewDomainError("ORGANIZATION_NAME_REQUIRED", "Organization name is required")

// Organization is a sub-division of a tenant. Rows are scoped by both the
// tenant and, when an organization scope is active, by OrgID.
type Organization struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"type:uuid;not null;index:idx_organizations_tenant" json:"tenant_id"`
	OrgID     int64     `gorm:"not null;index:idx_organizations_org" json:"org_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates an organization record scoped to orgID. The tenant
// is stamped by the persistence layer.
func NewOrganization(orgID int64, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrOrganizationNameRequired
	}
	now := time.Now()
	return &Organization{
		OrgID:     orgID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
