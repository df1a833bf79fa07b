package domain

import "time"

// AccessTokenStatus enumerates token lifecycle states.
type AccessTokenStatus string

const (
	AccessTokenStatusActive   AccessTokenStatus = "ACTIVE"
	AccessTokenStatusDepleted AccessTokenStatus = "DEPLETED"
	// AccessTokenStatusExpired is never stored; StatusAt derives it from ExpiresAt.
	AccessTokenStatusExpired AccessTokenStatus = "EXPIRED"
)

// DefaultVisitorName labels tokens issued without a named visitor.
const DefaultVisitorName = "Guest"

// Subject is the resident or unit a token grants access to.
type Subject struct {
	ID       string
	TenantID string
	Name     string
	Unit     string
}

// AccessToken is the authoritative record behind a scannable access code.
type AccessToken struct {
	ID           string
	TenantID     string
	SubjectID    string
	SubjectName  string
	SubjectUnit  string
	VisitorName  string
	IssuedByID   string
	IssuedByName string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	MaxUses      int
	CurrentUses  int
	Status       AccessTokenStatus
}

// IsExpired reports whether the token is unusable at now.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsDepleted reports whether every use has been consumed.
func (t *AccessToken) IsDepleted() bool {
	return t.CurrentUses >= t.MaxUses
}

// RemainingUses returns the unconsumed quota.
func (t *AccessToken) RemainingUses() int {
	if t.CurrentUses >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.CurrentUses
}

// StatusAt returns the status as seen at now. Depletion wins over expiry.
func (t *AccessToken) StatusAt(now time.Time) AccessTokenStatus {
	if t.IsDepleted() {
		return AccessTokenStatusDepleted
	}
	if t.IsExpired(now) {
		return AccessTokenStatusExpired
	}
	return AccessTokenStatusActive
}

// RecordUse applies one consumption and flips the stored status on depletion.
// Callers must hold whatever lock serializes writes to this record.
func (t *AccessToken) RecordUse() {
	t.CurrentUses++
	if t.CurrentUses >= t.MaxUses {
		t.CurrentUses = t.MaxUses
		t.Status = AccessTokenStatusDepleted
	}
}

// Clone returns a copy safe to hand outside the store.
func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
