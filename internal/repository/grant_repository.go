package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/condo-access/internal/domain"
)

// ErrGrantNotFound is returned when a grant lookup misses.
var ErrGrantNotFound = errors.New("grant not found")

// GrantRepository is the persistence boundary for the externally-owned grant collection.
type GrantRepository interface {
	Upsert(ctx context.Context, grant *domain.Grant) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Grant, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Grant, error)
	Delete(ctx context.Context, tenantID, id string) error
	// DeleteExpired removes every grant whose expiration date is at or before now
	// and returns what it removed. It writes nothing when no grant has expired.
	DeleteExpired(ctx context.Context, now time.Time) ([]domain.Grant, error)
}

type grantRepository struct {
	pool *pgxpool.Pool
}

// NewGrantRepository returns a Postgres-backed implementation.
func NewGrantRepository(pool *pgxpool.Pool) GrantRepository {
	return &grantRepository{pool: pool}
}

const grantColumns = `tenant_id, id, name, unit, grant_type, status, license_plate, expiration_date, created_at, updated_at`

func (r *grantRepository) Upsert(ctx context.Context, grant *domain.Grant) error {
	const query = `
        INSERT INTO grants (tenant_id, id, name, unit, grant_type, status, license_plate, expiration_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, id) DO UPDATE SET
            name=EXCLUDED.name, unit=EXCLUDED.unit, grant_type=EXCLUDED.grant_type,
            status=EXCLUDED.status, license_plate=EXCLUDED.license_plate,
            expiration_date=EXCLUDED.expiration_date, updated_at=NOW()
        RETURNING created_at, updated_at`
	if err := r.pool.QueryRow(ctx, query,
		grant.TenantID,
		grant.ID,
		grant.Name,
		grant.Unit,
		grant.Type,
		grant.Status,
		grant.LicensePlate,
		grant.ExpirationDate,
	).Scan(&grant.CreatedAt, &grant.UpdatedAt); err != nil {
		return fmt.Errorf("repository.grants.Upsert: %w", err)
	}
	return nil
}

func (r *grantRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE tenant_id=$1 AND id=$2`
	grant, err := scanGrant(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("repository.grants.GetByID: %w", ErrGrantNotFound)
		}
		return nil, fmt.Errorf("repository.grants.GetByID: %w", err)
	}
	return grant, nil
}

func (r *grantRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE tenant_id=$1 ORDER BY unit, name`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("repository.grants.ListByTenant: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (r *grantRepository) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM grants WHERE tenant_id=$1 AND id=$2`
	cmd, err := r.pool.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("repository.grants.Delete: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("repository.grants.Delete: %w", ErrGrantNotFound)
	}
	return nil
}

func (r *grantRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.Grant, error) {
	query := `DELETE FROM grants
        WHERE expiration_date IS NOT NULL AND expiration_date <= $1
        RETURNING ` + grantColumns
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("repository.grants.DeleteExpired: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrant(row pgx.Row) (*domain.Grant, error) {
	var grant domain.Grant
	if err := row.Scan(
		&grant.TenantID,
		&grant.ID,
		&grant.Name,
		&grant.Unit,
		&grant.Type,
		&grant.Status,
		&grant.LicensePlate,
		&grant.ExpirationDate,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &grant, nil
}

func scanGrants(rows pgx.Rows) ([]domain.Grant, error) {
	result := []domain.Grant{}
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *grant)
	}
	return result, rows.Err()
}
