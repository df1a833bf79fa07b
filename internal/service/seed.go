package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/repository"
)

// DemoGrants returns the sample residents of the demo condominium "t1".
func DemoGrants() []domain.Grant {
	plate := func(s string) *string { return &s }
	return []domain.Grant{
		{ID: "1", TenantID: "t1", Name: "Juan Perez", Unit: "101", Type: domain.GrantTypeResident, Status: domain.GrantStatusActive, LicensePlate: plate("GH-45-22")},
		{ID: "2", TenantID: "t1", Name: "Maria Lopez", Unit: "202", Type: domain.GrantTypeResident, Status: domain.GrantStatusActive},
		{ID: "3", TenantID: "t1", Name: "Hijo de Beto", Unit: "101", Type: domain.GrantTypeFamily, Status: domain.GrantStatusActive},
		{ID: "4", TenantID: "t1", Name: "Pedro Repartidor", Unit: "101", Type: domain.GrantTypeDelivery, Status: domain.GrantStatusActive, LicensePlate: plate("DL-99-00")},
	}
}

// SeedDemoGrants upserts the demo grants.
func SeedDemoGrants(ctx context.Context, grants repository.GrantRepository, logger *zap.Logger) error {
	seed := DemoGrants()
	for i := range seed {
		if err := grants.Upsert(ctx, &seed[i]); err != nil {
			return fmt.Errorf("seed grant %s: %w", seed[i].ID, err)
		}
	}
	logger.Info("demo grants seeded", zap.Int("count", len(seed)), zap.String("tenant_id", "t1"))
	return nil
}
