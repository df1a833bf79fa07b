package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/condo-access/internal/domain"
)

// MemoryGrantRepository holds grants in a copy-on-write slice. Readers share the
// current slice; writers publish a new one and bump the revision.
type MemoryGrantRepository struct {
	mu       sync.RWMutex
	grants   []domain.Grant
	revision uint64
	now      func() time.Time
}

// NewMemoryGrantRepository creates an empty repository.
func NewMemoryGrantRepository() *MemoryGrantRepository {
	return &MemoryGrantRepository{now: time.Now}
}

// Revision increases on every write; unchanged revision means no write happened.
func (r *MemoryGrantRepository) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

func (r *MemoryGrantRepository) Upsert(_ context.Context, grant *domain.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	next := make([]domain.Grant, 0, len(r.grants)+1)
	replaced := false
	for _, g := range r.grants {
		if g.TenantID == grant.TenantID && g.ID == grant.ID {
			grant.CreatedAt = g.CreatedAt
			grant.UpdatedAt = now
			next = append(next, cloneGrant(*grant))
			replaced = true
			continue
		}
		next = append(next, g)
	}
	if !replaced {
		grant.CreatedAt = now
		grant.UpdatedAt = now
		next = append(next, cloneGrant(*grant))
	}
	r.publish(next)
	return nil
}

func (r *MemoryGrantRepository) GetByID(_ context.Context, tenantID, id string) (*domain.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.grants {
		if g.TenantID == tenantID && g.ID == id {
			c := cloneGrant(g)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("repository.memory.GetByID: %w", ErrGrantNotFound)
}

func (r *MemoryGrantRepository) ListByTenant(_ context.Context, tenantID string) ([]domain.Grant, error) {
	r.mu.RLock()
	result := []domain.Grant{}
	for _, g := range r.grants {
		if g.TenantID == tenantID {
			result = append(result, cloneGrant(g))
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Unit == result[j].Unit {
			return result[i].Name < result[j].Name
		}
		return result[i].Unit < result[j].Unit
	})
	return result, nil
}

func (r *MemoryGrantRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]domain.Grant, 0, len(r.grants))
	for _, g := range r.grants {
		if g.TenantID == tenantID && g.ID == id {
			continue
		}
		next = append(next, g)
	}
	if len(next) == len(r.grants) {
		return fmt.Errorf("repository.memory.Delete: %w", ErrGrantNotFound)
	}
	r.publish(next)
	return nil
}

func (r *MemoryGrantRepository) DeleteExpired(_ context.Context, now time.Time) ([]domain.Grant, error) {
	if !r.anyExpired(now) {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Grant
	next := make([]domain.Grant, 0, len(r.grants))
	for _, g := range r.grants {
		if g.IsExpired(now) {
			removed = append(removed, g)
			continue
		}
		next = append(next, g)
	}
	// An upsert may have extended the expiry between the scan and the lock.
	if len(removed) == 0 {
		return nil, nil
	}
	r.publish(next)
	return removed, nil
}

func (r *MemoryGrantRepository) anyExpired(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.grants {
		if r.grants[i].IsExpired(now) {
			return true
		}
	}
	return false
}

func (r *MemoryGrantRepository) publish(next []domain.Grant) {
	r.grants = next
	r.revision++
}

func cloneGrant(g domain.Grant) domain.Grant {
	if g.LicensePlate != nil {
		plate := *g.LicensePlate
		g.LicensePlate = &plate
	}
	if g.ExpirationDate != nil {
		exp := *g.ExpirationDate
		g.ExpirationDate = &exp
	}
	return g
}
