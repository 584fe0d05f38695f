package enums

import "fmt"

// PartnerRole is the caller's role within their company.
type PartnerRole string

const (
	PartnerRoleOwner  PartnerRole = "owner"
	PartnerRoleAdmin  PartnerRole = "admin"
	PartnerRoleMember PartnerRole = "member"
)

var validPartnerRoles = []PartnerRole{
	PartnerRoleOwner,
	PartnerRoleAdmin,
	PartnerRoleMember,
}

func (r PartnerRole) String() string {
	return string(r)
}

func (r PartnerRole) IsValid() bool {
	for _, candidate := range validPartnerRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanManageBilling reports whether the role may change the subscription.
func (r PartnerRole) CanManageBilling() bool {
	return r == PartnerRoleOwner || r == PartnerRoleAdmin
}

func ParsePartnerRole(value string) (PartnerRole, error) {
	for _, candidate := range validPartnerRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid partner role %q", value)
}
