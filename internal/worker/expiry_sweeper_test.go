package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/repository"
)

func grantExpiringAt(id string, at *time.Time) *domain.Grant {
	return &domain.Grant{
		ID:             id,
		TenantID:       "t1",
		Name:           "Visitor " + id,
		Unit:           "101",
		Type:           domain.GrantTypeVisitor,
		Status:         domain.GrantStatusActive,
		ExpirationDate: at,
	}
}

func TestSweepOnceRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	grants := repository.NewMemoryGrantRepository()
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("expired", &past)))
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("edge", &now)))
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("later", &future)))
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("forever", nil)))

	sweeper := NewExpirySweeper(ExpirySweeperDependencies{
		Grants:  grants,
		Metrics: observability.NewMetrics(),
		Clock:   func() time.Time { return now },
	})

	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := grants.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	ids := make([]string, 0, len(left))
	for _, g := range left {
		ids = append(ids, g.ID)
	}
	assert.ElementsMatch(t, []string{"later", "forever"}, ids)
}

func TestSweepOnceWithoutExpiredDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)

	grants := repository.NewMemoryGrantRepository()
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("later", &future)))
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("forever", nil)))
	before := grants.Revision()

	sweeper := NewExpirySweeper(ExpirySweeperDependencies{
		Grants: grants,
		Clock:  func() time.Time { return now },
	})
	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, before, grants.Revision())
}

type brokenGrants struct {
	repository.GrantRepository
}

func (brokenGrants) DeleteExpired(context.Context, time.Time) ([]domain.Grant, error) {
	return nil, errors.New("db down")
}

func TestSweepOnceSurfacesErrors(t *testing.T) {
	sweeper := NewExpirySweeper(ExpirySweeperDependencies{Grants: brokenGrants{}})
	_, err := sweeper.SweepOnce(context.Background())
	require.Error(t, err)
}

func TestStartSweepsImmediately(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	grants := repository.NewMemoryGrantRepository()
	require.NoError(t, grants.Upsert(ctx, grantExpiringAt("expired", &past)))

	sweeper := NewExpirySweeper(ExpirySweeperDependencies{Grants: grants, Interval: time.Hour})
	require.NoError(t, sweeper.Start(ctx))
	defer sweeper.Stop()

	left, err := grants.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, left)

	sweeper.Stop()
	sweeper.Stop()
}
