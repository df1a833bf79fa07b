package domain

import "time"

// GrantType classifies who a grant authorizes.
type GrantType string

const (
	GrantTypeResident GrantType = "RESIDENT"
	GrantTypeFamily   GrantType = "FAMILY"
	GrantTypeVisitor  GrantType = "VISITOR"
	GrantTypeDelivery GrantType = "DELIVERY"
)

// GrantStatus represents whether a grant is currently honored.
type GrantStatus string

const (
	GrantStatusActive   GrantStatus = "ACTIVE"
	GrantStatusInactive GrantStatus = "INACTIVE"
)

// Grant is a resident, family member or visitor authorization with an optional expiry.
type Grant struct {
	ID             string
	TenantID       string
	Name           string
	Unit           string
	Type           GrantType
	Status         GrantStatus
	LicensePlate   *string
	ExpirationDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExpired reports whether the grant should be purged at now.
// Grants without an expiration date never expire.
func (g *Grant) IsExpired(now time.Time) bool {
	if g.ExpirationDate == nil {
		return false
	}
	return !g.ExpirationDate.After(now)
}

// Subject returns the token subject this grant represents.
func (g *Grant) Subject() Subject {
	return Subject{ID: g.ID, TenantID: g.TenantID, Name: g.Name, Unit: g.Unit}
}
