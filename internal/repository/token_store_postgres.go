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

const tokenColumns = `tenant_id, id, subject_id, subject_name, subject_unit, visitor_name,
               issued_by_id, issued_by_name, created_at, expires_at, max_uses, current_uses, status`

// PostgresTokenStore persists tokens in the access_tokens table keyed by (tenant_id, id).
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

type postgresTokenPartition struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPostgresTokenStore instantiates the store.
func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool}
}

// Tenant scopes every statement to tenantID.
func (s *PostgresTokenStore) Tenant(tenantID string) TenantTokenStore {
	return &postgresTokenPartition{pool: s.pool, tenantID: tenantID}
}

func (r *postgresTokenPartition) TenantID() string {
	return r.tenantID
}

func (r *postgresTokenPartition) Create(ctx context.Context, token *domain.AccessToken) error {
	const op = "repository.postgres.Create"
	if token.TenantID != r.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	const query = `
        INSERT INTO access_tokens (tenant_id, id, subject_id, subject_name, subject_unit, visitor_name,
            issued_by_id, issued_by_name, created_at, expires_at, max_uses, current_uses, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (tenant_id, id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query, tokenArgs(token)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrTokenExists)
	}
	return nil
}

func (r *postgresTokenPartition) Get(ctx context.Context, id string) (*domain.AccessToken, error) {
	const op = "repository.postgres.Get"
	query := `SELECT ` + tokenColumns + ` FROM access_tokens WHERE tenant_id=$1 AND id=$2`

	token, err := scanToken(r.pool.QueryRow(ctx, query, r.tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (r *postgresTokenPartition) Upsert(ctx context.Context, token *domain.AccessToken) error {
	const op = "repository.postgres.Upsert"
	if token.TenantID != r.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	const query = `
        INSERT INTO access_tokens (tenant_id, id, subject_id, subject_name, subject_unit, visitor_name,
            issued_by_id, issued_by_name, created_at, expires_at, max_uses, current_uses, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (tenant_id, id) DO UPDATE SET
            subject_id=EXCLUDED.subject_id, subject_name=EXCLUDED.subject_name,
            subject_unit=EXCLUDED.subject_unit, visitor_name=EXCLUDED.visitor_name,
            issued_by_id=EXCLUDED.issued_by_id, issued_by_name=EXCLUDED.issued_by_name,
            expires_at=EXCLUDED.expires_at, max_uses=EXCLUDED.max_uses,
            current_uses=EXCLUDED.current_uses, status=EXCLUDED.status, updated_at=NOW()`
	if _, err := r.pool.Exec(ctx, query, tokenArgs(token)...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consume relies on a single conditional UPDATE so concurrent validators of the same
// row are serialized by the row lock and the WHERE clause is re-evaluated for each.
func (r *postgresTokenPartition) Consume(ctx context.Context, id string, now time.Time) (*domain.AccessToken, error) {
	const op = "repository.postgres.Consume"
	query := `
        UPDATE access_tokens SET
            current_uses = current_uses + 1,
            status = CASE WHEN current_uses + 1 >= max_uses THEN 'DEPLETED' ELSE status END,
            updated_at = NOW()
        WHERE tenant_id=$1 AND id=$2 AND current_uses < max_uses AND expires_at > $3
        RETURNING ` + tokenColumns

	token, err := scanToken(r.pool.QueryRow(ctx, query, r.tenantID, id, now))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Nothing updated: classify why.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, fmt.Errorf("%s: %w", op, getErr)
	}
	if reason := checkConsumable(current, now); reason != nil {
		return nil, fmt.Errorf("%s: %w", op, reason)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrQuotaExhausted)
}

func (r *postgresTokenPartition) List(ctx context.Context, limit, offset int) ([]domain.AccessToken, error) {
	const op = "repository.postgres.List"
	limit, offset = normalizePage(limit, offset)
	query := `SELECT ` + tokenColumns + `
        FROM access_tokens WHERE tenant_id=$1
        ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, r.tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := []domain.AccessToken{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func tokenArgs(token *domain.AccessToken) []any {
	return []any{
		token.TenantID,
		token.ID,
		token.SubjectID,
		token.SubjectName,
		token.SubjectUnit,
		token.VisitorName,
		token.IssuedByID,
		token.IssuedByName,
		token.CreatedAt,
		token.ExpiresAt,
		token.MaxUses,
		token.CurrentUses,
		token.Status,
	}
}

func scanToken(row pgx.Row) (*domain.AccessToken, error) {
	var token domain.AccessToken
	if err := row.Scan(
		&token.TenantID,
		&token.ID,
		&token.SubjectID,
		&token.SubjectName,
		&token.SubjectUnit,
		&token.VisitorName,
		&token.IssuedByID,
		&token.IssuedByName,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.MaxUses,
		&token.CurrentUses,
		&token.Status,
	); err != nil {
		return nil, err
	}
	return &token, nil
}
