package governance

import (
	"sort"
	"sync"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// Registry is the authoritative, read-only set of governed RBAC roles.
// It is built once from the lock artifacts during startup validation and
// never refreshed without a process restart.
type Registry struct {
	contractVersion string
	roles           map[string][]string // role name -> entitlements
}

// NewRegistry builds a Registry from a parsed lock file.
func NewRegistry(lock *LockFile) *Registry {
	roles := make(map[string][]string, len(lock.Roles))
	for _, r := range lock.Roles {
		ents := make([]string, len(r.Entitlements))
		copy(ents, r.Entitlements)
		roles[r.Name] = ents
	}
	return &Registry{
		contractVersion: lock.ContractVersion,
		roles:           roles,
	}
}

// ContractVersion returns the governance contract version the registry was built from.
func (r *Registry) ContractVersion() string {
	return r.contractVersion
}

// KnownRoles returns the sorted list of governed role names.
func (r *Registry) KnownRoles() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entitlements returns the entitlements granted to a role and whether the
// role is governed.
func (r *Registry) Entitlements(role string) ([]string, bool) {
	ents, ok := r.roles[role]
	if !ok {
		return nil, false
	}
	out := make([]string, len(ents))
	copy(out, ents)
	return out, true
}

// AssertRoleGoverned fails with RBAC_ROLE_UNKNOWN when role is not a member
// of the registry. This blocks silent introduction of roles that were never
// granted entitlements in the governance contract.
func (r *Registry) AssertRoleGoverned(role string) error {
	if _, ok := r.roles[role]; ok {
		return nil
	}
	return shared.NewInvariantViolation(shared.RBACRoleUnknown,
		"role is not present in the governance contract",
		map[string]any{
			"role":        role,
			"known_roles": r.KnownRoles(),
		})
}

// AssertRolesGoverned checks every role in the slice, failing on the first
// ungoverned one.
func (r *Registry) AssertRolesGoverned(roles []string) error {
	for _, role := range roles {
		if err := r.AssertRoleGoverned(role); err != nil {
			return err
		}
	}
	return nil
}

var (
	processRegistry   *Registry
	processRegistryMu sync.RWMutex
)

// SetProcessRegistry installs the process-wide registry. It is called by the
// startup validator (and by tests); request-handling code must never call it.
func SetProcessRegistry(r *Registry) {
	processRegistryMu.Lock()
	defer processRegistryMu.Unlock()
	processRegistry = r
}

// ProcessRegistry returns the process-wide registry, or nil before startup
// validation has completed.
func ProcessRegistry() *Registry {
	processRegistryMu.RLock()
	defer processRegistryMu.RUnlock()
	return processRegistry
}
