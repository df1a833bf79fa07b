package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/condo-access/internal/domain"
)

var (
	ErrTokenNotFound  = errors.New("access token not found")
	ErrTokenExists    = errors.New("access token already exists")
	ErrTokenExpired   = errors.New("access token expired")
	ErrQuotaExhausted = errors.New("access token quota exhausted")
	ErrTenantMismatch = errors.New("access token belongs to another tenant")
)

// TokenStore partitions access tokens by tenant. Every read and write goes through
// the view returned by Tenant, so a caller can never reach another tenant's records.
type TokenStore interface {
	Tenant(tenantID string) TenantTokenStore
}

// TenantTokenStore is a single tenant's partition.
type TenantTokenStore interface {
	TenantID() string
	// Create stores a new record and fails with ErrTokenExists if the id is taken.
	Create(ctx context.Context, token *domain.AccessToken) error
	Get(ctx context.Context, id string) (*domain.AccessToken, error)
	// Upsert replaces a record wholesale; records of other tenants are rejected.
	Upsert(ctx context.Context, token *domain.AccessToken) error
	// Consume atomically increments CurrentUses when the token is neither expired at
	// now nor depleted, and returns the updated record.
	Consume(ctx context.Context, id string, now time.Time) (*domain.AccessToken, error)
	// List returns the partition newest first.
	List(ctx context.Context, limit, offset int) ([]domain.AccessToken, error)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func checkConsumable(token *domain.AccessToken, now time.Time) error {
	if token.IsExpired(now) {
		return ErrTokenExpired
	}
	if token.IsDepleted() {
		return ErrQuotaExhausted
	}
	return nil
}
