package domain

// RoleAdmin may administer commission tiers, currencies and exchange rates
const RoleAdmin = "admin"

// Principal the authenticated caller
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin shorthand for HasRole(RoleAdmin)
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// Owns reports whether the account belongs to the principal
func (p Principal) Owns(a CurrencyAccount) bool {
	return p.UserID != "" && a.OwnerID == p.UserID
}

// CanRead reports whether the principal may see the account
func (p Principal) CanRead(a CurrencyAccount) bool {
	return p.Owns(a) || p.IsAdmin()
}

// RequireUser fails with an authorization error for an anonymous principal
func (p Principal) RequireUser() error {
	if p.UserID == "" {
		return Errorf(KindAuthorization, "authentication required")
	}
	return nil
}
