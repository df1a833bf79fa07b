package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/condo-access/internal/domain"
)

// Lua status codes shared by the scripts below.
const (
	redisCodeNotFound  = -1
	redisCodeExpired   = -2
	redisCodeExhausted = -3
	redisCodeExists    = -4
)

// KEYS[1] record hash, KEYS[2] tenant index; ARGV[1] created_at ms, ARGV[2..] field/value pairs.
var redisCreateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -4
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('ZADD', KEYS[2], ARGV[1], redis.call('HGET', KEYS[1], 'id'))
return 1
`)

// KEYS[1] record hash; ARGV[1] now in unix ms. Returns the updated record or a negative code.
var redisConsumeScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'current_uses', 'max_uses', 'expires_at')
if not vals[1] then
  return -1
end
local cur = tonumber(vals[1])
local max = tonumber(vals[2])
if tonumber(ARGV[1]) >= tonumber(vals[3]) then
  return -2
end
if cur >= max then
  return -3
end
cur = redis.call('HINCRBY', KEYS[1], 'current_uses', 1)
if cur >= max then
  redis.call('HSET', KEYS[1], 'status', 'DEPLETED')
end
return redis.call('HGETALL', KEYS[1])
`)

// RedisTokenStore keeps one hash per token and a created_at ZSET per tenant.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

type redisTokenPartition struct {
	client   redis.UniversalClient
	prefix   string
	tenantID string
}

// NewRedisTokenStore instantiates the store. prefix namespaces every key.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "condo"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

// Tenant scopes every key to tenantID.
func (s *RedisTokenStore) Tenant(tenantID string) TenantTokenStore {
	return &redisTokenPartition{client: s.client, prefix: s.prefix, tenantID: tenantID}
}

func (r *redisTokenPartition) TenantID() string {
	return r.tenantID
}

func (r *redisTokenPartition) recordKey(id string) string {
	return fmt.Sprintf("%s:tenant:{%s}:token:%s", r.prefix, r.tenantID, id)
}

func (r *redisTokenPartition) indexKey() string {
	return fmt.Sprintf("%s:tenant:{%s}:tokens", r.prefix, r.tenantID)
}

func (r *redisTokenPartition) Create(ctx context.Context, token *domain.AccessToken) error {
	const op = "repository.redis.Create"
	if token.TenantID != r.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	args := append([]any{token.CreatedAt.UnixMilli()}, tokenFields(token)...)
	code, err := redisCreateScript.Run(ctx, r.client, []string{r.recordKey(token.ID), r.indexKey()}, args...).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if code == redisCodeExists {
		return fmt.Errorf("%s: %w", op, ErrTokenExists)
	}
	return nil
}

func (r *redisTokenPartition) Get(ctx context.Context, id string) (*domain.AccessToken, error) {
	const op = "repository.redis.Get"
	vals, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}
	token, err := parseTokenFields(vals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (r *redisTokenPartition) Upsert(ctx context.Context, token *domain.AccessToken) error {
	const op = "repository.redis.Upsert"
	if token.TenantID != r.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.recordKey(token.ID), tokenFields(token)...)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(token.CreatedAt.UnixMilli()), Member: token.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consume runs the check-and-increment as one Lua script, which Redis executes
// atomically. The script replies with the updated record so no follow-up read is needed.
func (r *redisTokenPartition) Consume(ctx context.Context, id string, now time.Time) (*domain.AccessToken, error) {
	const op = "repository.redis.Consume"
	reply, err := redisConsumeScript.Run(ctx, r.client, []string{r.recordKey(id)}, now.UnixMilli()).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch v := reply.(type) {
	case int64:
		switch v {
		case redisCodeNotFound:
			return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		case redisCodeExpired:
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		case redisCodeExhausted:
			return nil, fmt.Errorf("%s: %w", op, ErrQuotaExhausted)
		}
		return nil, fmt.Errorf("%s: unexpected script code %d", op, v)
	case []any:
		vals, err := hashReply(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		token, err := parseTokenFields(vals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return token, nil
	default:
		return nil, fmt.Errorf("%s: unexpected script reply %T", op, reply)
	}
}

// hashReply turns a flat HGETALL field/value array into a map.
func hashReply(flat []any) (map[string]string, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd hash reply length %d", len(flat))
	}
	vals := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		field, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("hash field %T is not a string", flat[i])
		}
		value, ok := flat[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("hash value %T for %q is not a string", flat[i+1], field)
		}
		vals[field] = value
	}
	return vals, nil
}

func (r *redisTokenPartition) List(ctx context.Context, limit, offset int) ([]domain.AccessToken, error) {
	const op = "repository.redis.List"
	limit, offset = normalizePage(limit, offset)

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]domain.AccessToken, 0, len(ids))
	for _, id := range ids {
		token, err := r.Get(ctx, id)
		if errors.Is(err, ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *token)
	}
	return result, nil
}

func tokenFields(token *domain.AccessToken) []any {
	return []any{
		"id", token.ID,
		"tenant_id", token.TenantID,
		"subject_id", token.SubjectID,
		"subject_name", token.SubjectName,
		"subject_unit", token.SubjectUnit,
		"visitor_name", token.VisitorName,
		"issued_by_id", token.IssuedByID,
		"issued_by_name", token.IssuedByName,
		"created_at", token.CreatedAt.UnixMilli(),
		"expires_at", token.ExpiresAt.UnixMilli(),
		"max_uses", token.MaxUses,
		"current_uses", token.CurrentUses,
		"status", string(token.Status),
	}
}

func parseTokenFields(vals map[string]string) (*domain.AccessToken, error) {
	createdAt, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	maxUses, err := strconv.Atoi(vals["max_uses"])
	if err != nil {
		return nil, fmt.Errorf("parse max_uses: %w", err)
	}
	currentUses, err := strconv.Atoi(vals["current_uses"])
	if err != nil {
		return nil, fmt.Errorf("parse current_uses: %w", err)
	}

	return &domain.AccessToken{
		ID:           vals["id"],
		TenantID:     vals["tenant_id"],
		SubjectID:    vals["subject_id"],
		SubjectName:  vals["subject_name"],
		SubjectUnit:  vals["subject_unit"],
		VisitorName:  vals["visitor_name"],
		IssuedByID:   vals["issued_by_id"],
		IssuedByName: vals["issued_by_name"],
		CreatedAt:    time.UnixMilli(createdAt).UTC(),
		ExpiresAt:    time.UnixMilli(expiresAt).UTC(),
		MaxUses:      maxUses,
		CurrentUses:  currentUses,
		Status:       domain.AccessTokenStatus(vals["status"]),
	}, nil
}
