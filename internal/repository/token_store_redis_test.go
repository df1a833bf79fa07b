package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/condo-access/internal/domain"
)

func newMiniRedisStore(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTokenStore(client, "test"), mr
}

func TestRedisTokenStore(t *testing.T) {
	store, _ := newMiniRedisStore(t)
	runTokenStoreContract(t, store)
}

func TestRedisTokenStoreKeysAreTenantScoped(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	token := newTestToken("t1", 1, time.Now().Add(time.Hour))
	require.NoError(t, store.Tenant("t1").Create(context.Background(), token))

	assert.True(t, mr.Exists("test:tenant:{t1}:token:"+token.ID))
	assert.True(t, mr.Exists("test:tenant:{t1}:tokens"))
	assert.Equal(t, "1", mr.HGet("test:tenant:{t1}:token:"+token.ID, "max_uses"))
}

func TestRedisTokenStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisTokenStore(client, "test")

	_, err := store.Tenant("t1").Get(context.Background(), "missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)
}

// failCommandHook fails every command with the given name before it reaches Redis.
type failCommandHook struct {
	name string
}

func (failCommandHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h failCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.name {
			err := errors.New("i/o timeout")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisConsumeReturnsRecordFromScript(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(failCommandHook{name: "hgetall"})

	part := NewRedisTokenStore(client, "test").Tenant("t1")
	token := newTestToken("t1", 1, time.Now().Add(time.Hour))
	require.NoError(t, part.Create(ctx, token))

	consumed, err := part.Consume(ctx, token.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, token.ID, consumed.ID)
	assert.Equal(t, 1, consumed.CurrentUses)
	assert.Equal(t, domain.AccessTokenStatusDepleted, consumed.Status)
	assert.Equal(t, "1", mr.HGet("test:tenant:{t1}:token:"+token.ID, "current_uses"))

	_, err = part.Consume(ctx, token.ID, time.Now())
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}
