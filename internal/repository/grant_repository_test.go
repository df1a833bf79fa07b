package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/condo-access/internal/domain"
)

func newTestGrant(tenantID, id string, expiresAt *time.Time) *domain.Grant {
	return &domain.Grant{
		ID:             id,
		TenantID:       tenantID,
		Name:           "Grant " + id,
		Unit:           "101",
		Type:           domain.GrantTypeFamily,
		Status:         domain.GrantStatusActive,
		ExpirationDate: expiresAt,
	}
}

func runGrantRepositoryContract(t *testing.T, repo GrantRepository) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", "expired", &past)))
	require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", "later", &future)))
	require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", "forever", nil)))
	require.NoError(t, repo.Upsert(ctx, newTestGrant("t2", "other-expired", &past)))

	got, err := repo.GetByID(ctx, "t1", "later")
	require.NoError(t, err)
	assert.Equal(t, "Grant later", got.Name)

	_, err = repo.GetByID(ctx, "t2", "later")
	assert.ErrorIs(t, err, ErrGrantNotFound)

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	ids := []string{}
	for _, g := range removed {
		ids = append(ids, g.ID)
	}
	assert.ElementsMatch(t, []string{"expired", "other-expired"}, ids)

	remaining, err := repo.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	removed, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, removed)

	require.NoError(t, repo.Delete(ctx, "t1", "forever"))
	assert.ErrorIs(t, repo.Delete(ctx, "t1", "forever"), ErrGrantNotFound)
}

func TestMemoryGrantRepository(t *testing.T) {
	runGrantRepositoryContract(t, NewMemoryGrantRepository())
}

func TestMemoryGrantRepositoryNoWriteWhenNothingExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryGrantRepository()
	future := time.Now().Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", "a", &future)))
	require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", "b", nil)))

	before := repo.Revision()
	removed, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, before, repo.Revision())
}

func TestMemoryGrantRepositoryUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryGrantRepository()
	grant := newTestGrant("t1", "a", nil)
	require.NoError(t, repo.Upsert(ctx, grant))
	created := grant.CreatedAt

	update := newTestGrant("t1", "a", nil)
	update.Name = "Renamed"
	require.NoError(t, repo.Upsert(ctx, update))

	got, err := repo.GetByID(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, created, got.CreatedAt)
}

func TestMemoryGrantRepositoryConcurrentSweepAndEdit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryGrantRepository()
	past := time.Now().Add(-time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Upsert(ctx, newTestGrant("t1", id, &past)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = repo.DeleteExpired(ctx, time.Now())
	}()
	go func() {
		defer wg.Done()
		_ = repo.Upsert(ctx, newTestGrant("t1", "d", nil))
	}()
	wg.Wait()

	grants, err := repo.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "d", grants[0].ID)
}
