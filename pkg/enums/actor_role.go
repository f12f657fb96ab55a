package enums

import "fmt"

// ActorRole identifies who is driving an order operation.
type ActorRole string

const (
	ActorRoleCustomer   ActorRole = "customer"
	ActorRoleVendor     ActorRole = "vendor"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSuperAdmin ActorRole = "super_admin"
	// ActorRoleSystem is used by workers and cron sweeps.
	ActorRoleSystem ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleCustomer,
	ActorRoleVendor,
	ActorRoleAdmin,
	ActorRoleSuperAdmin,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsAdmin reports admin and super-admin roles.
func (r ActorRole) IsAdmin() bool {
	return r == ActorRoleAdmin || r == ActorRoleSuperAdmin
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
