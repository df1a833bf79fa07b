package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/events"
	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/repository"
	apperrors "github.com/spec-kit/condo-access/pkg/util/errorutil"
)

var (
	admin     = domain.Principal{UserID: "u1", Name: "Carlos Admin", TenantID: "t1", Role: domain.RoleAdmin}
	reception = domain.Principal{UserID: "u2", Name: "Ana Recepcion", TenantID: "t1", Role: domain.RoleReception}
	resident  = domain.Principal{UserID: "u3", Name: "Beto Residente", TenantID: "t1", Role: domain.RoleResident, Unit: "101"}
	otherDesk = domain.Principal{UserID: "u9", Name: "Torres Desk", TenantID: "t2", Role: domain.RoleReception}
)

type fixture struct {
	store      *repository.MemoryTokenStore
	grants     *repository.MemoryGrantRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	issuer     *TokenIssuer
	validator  *TokenValidator
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      repository.NewMemoryTokenStore(),
		grants:     repository.NewMemoryGrantRepository(),
		dispatcher: events.NewInMemoryDispatcher(),
		metrics:    observability.NewMetrics(),
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.issuer = NewTokenIssuer(TokenIssuerDependencies{
		Store:      f.store,
		Grants:     f.grants,
		Dispatcher: f.dispatcher,
		Metrics:    f.metrics,
		Clock:      clock,
	})
	f.validator = NewTokenValidator(TokenValidatorDependencies{
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Metrics:    f.metrics,
		Clock:      clock,
	})
	require.NoError(t, SeedDemoGrants(context.Background(), f.grants, zap.NewNop()))
	return f
}

func (f *fixture) issue(t *testing.T, maxUses int, expiresAt time.Time) *IssueResult {
	t.Helper()
	res, err := f.issuer.Issue(context.Background(), admin, IssueInput{
		Subject:   domain.Subject{ID: "1", TenantID: "t1", Name: "Juan Perez", Unit: "101"},
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return res
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestIssueCreatesActiveToken(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 3, f.now.Add(time.Hour))

	assert.Equal(t, "t1", res.Payload.TenantID)
	assert.Equal(t, res.Token.ID, res.Payload.ID)
	assert.Equal(t, domain.PayloadVersion, res.Payload.Version)
	assert.Equal(t, 0, res.Token.CurrentUses)
	assert.Equal(t, domain.AccessTokenStatusActive, res.Token.Status)
	assert.Equal(t, domain.DefaultVisitorName, res.Token.VisitorName)
	assert.Equal(t, "u1", res.Token.IssuedByID)
	assert.NotContains(t, res.Encoded, "maxUses")

	decoded, err := domain.DecodeTokenPayload(res.Encoded)
	require.NoError(t, err)
	assert.Equal(t, res.Payload, decoded)

	stored, err := f.store.Tenant("t1").Get(context.Background(), res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MaxUses)
}

func TestIssueDefaultsExpiry(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 1, time.Time{})
	assert.Equal(t, f.now.Add(24*time.Hour), res.Token.ExpiresAt)
}

func TestIssueRejectsInvalidQuota(t *testing.T) {
	f := newFixture(t)
	for _, maxUses := range []int{0, -1} {
		_, err := f.issuer.Issue(context.Background(), admin, IssueInput{
			Subject: domain.Subject{ID: "1", TenantID: "t1"},
			MaxUses: maxUses,
		})
		requireCode(t, err, apperrors.CodeInvalidQuota)
	}
}

func TestIssueRejectsForeignSubject(t *testing.T) {
	f := newFixture(t)
	_, err := f.issuer.Issue(context.Background(), admin, IssueInput{
		Subject: domain.Subject{ID: "1", TenantID: "t2"},
		MaxUses: 1,
	})
	requireCode(t, err, apperrors.CodeInvalidSubject)
}

func TestIssueIDsUniquePerTenant(t *testing.T) {
	f := newFixture(t)
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		res := f.issue(t, 1, f.now.Add(time.Hour))
		_, dup := seen[res.Token.ID]
		require.False(t, dup)
		seen[res.Token.ID] = struct{}{}
	}
}

func TestIssueRetriesOnIDCollision(t *testing.T) {
	f := newFixture(t)
	ids := []string{"dup", "dup", "fresh"}
	f.issuer.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	first := f.issue(t, 1, f.now.Add(time.Hour))
	second := f.issue(t, 1, f.now.Add(time.Hour))
	assert.Equal(t, "dup", first.Token.ID)
	assert.Equal(t, "fresh", second.Token.ID)
}

func TestIssueForGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.issuer.IssueForGrant(ctx, resident, GrantIssueInput{GrantID: "3", MaxUses: 2, VisitorName: "Tia Rosa"})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Token.SubjectID)
	assert.Equal(t, "101", res.Token.SubjectUnit)
	assert.Equal(t, "Tia Rosa", res.Token.VisitorName)

	_, err = f.issuer.IssueForGrant(ctx, resident, GrantIssueInput{GrantID: "2", MaxUses: 1})
	requireCode(t, err, apperrors.CodeInvalidSubject)

	_, err = f.issuer.IssueForGrant(ctx, admin, GrantIssueInput{GrantID: "missing", MaxUses: 1})
	requireCode(t, err, apperrors.CodeInvalidSubject)

	_, err = f.issuer.IssueForGrant(ctx, admin, GrantIssueInput{GrantID: "2", MaxUses: 0})
	requireCode(t, err, apperrors.CodeInvalidQuota)
}

func TestValidateThreeUseScenario(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 3, f.now.Add(time.Hour))
	ctx := context.Background()

	for _, want := range []int{2, 1, 0} {
		out, err := f.validator.Validate(ctx, res.Encoded, reception)
		require.NoError(t, err)
		assert.Equal(t, want, out.RemainingUses)
	}
	_, err := f.validator.Validate(ctx, res.Encoded, reception)
	requireCode(t, err, apperrors.CodeQuotaExhausted)

	stored, err := f.store.Tenant("t1").Get(ctx, res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentUses)
	assert.Equal(t, domain.AccessTokenStatusDepleted, stored.Status)
}

func TestValidateMalformedPayload(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "hello", "{}", `{"id":"x","tenantId":"t1","v":2}`} {
		_, err := f.validator.Validate(context.Background(), raw, reception)
		requireCode(t, err, apperrors.CodeMalformedPayload)
	}
}

func TestValidateCrossTenantLeavesCounters(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 2, f.now.Add(time.Hour))

	_, err := f.validator.Validate(context.Background(), res.Encoded, otherDesk)
	requireCode(t, err, apperrors.CodeCrossTenant)
	assert.Contains(t, err.Error(), "t1")

	stored, err := f.store.Tenant("t1").Get(context.Background(), res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentUses)
}

func TestValidateUnknownToken(t *testing.T) {
	f := newFixture(t)
	raw, err := domain.TokenPayload{ID: "nope", TenantID: "t1", Version: domain.PayloadVersion}.Encode()
	require.NoError(t, err)
	_, err = f.validator.Validate(context.Background(), raw, reception)
	requireCode(t, err, apperrors.CodeUnknownToken)
}

func TestValidateExpired(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 3, f.now.Add(-time.Minute))

	_, err := f.validator.Validate(context.Background(), res.Encoded, reception)
	requireCode(t, err, apperrors.CodeTokenExpired)

	f.now = f.now.Add(time.Hour)
	fresh := f.issue(t, 1, f.now)
	_, err = f.validator.Validate(context.Background(), fresh.Encoded, reception)
	requireCode(t, err, apperrors.CodeTokenExpired)

	stored, err := f.store.Tenant("t1").Get(context.Background(), res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentUses)
}

func TestValidateConcurrentSingleUse(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 1, f.now.Add(time.Hour))

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exhausted int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.validator.Validate(context.Background(), res.Encoded, reception)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperrors.HasCode(err, apperrors.CodeQuotaExhausted) {
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, exhausted)
}

type failingStore struct{}

func (failingStore) Tenant(tenantID string) repository.TenantTokenStore {
	return failingPartition{tenantID: tenantID}
}

type failingPartition struct{ tenantID string }

var errBackend = errors.New("connection refused")

func (p failingPartition) TenantID() string { return p.tenantID }
func (failingPartition) Create(context.Context, *domain.AccessToken) error {
	return errBackend
}
func (failingPartition) Get(context.Context, string) (*domain.AccessToken, error) {
	return nil, errBackend
}
func (failingPartition) Upsert(context.Context, *domain.AccessToken) error { return errBackend }
func (failingPartition) Consume(context.Context, string, time.Time) (*domain.AccessToken, error) {
	return nil, errBackend
}
func (failingPartition) List(context.Context, int, int) ([]domain.AccessToken, error) {
	return nil, errBackend
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerDependencies{Store: failingStore{}})
	_, err := issuer.Issue(context.Background(), admin, IssueInput{
		Subject: domain.Subject{ID: "1", TenantID: "t1"},
		MaxUses: 1,
	})
	requireCode(t, err, apperrors.CodeStoreUnavailable)
	assert.ErrorIs(t, err, errBackend)

	validator := NewTokenValidator(TokenValidatorDependencies{Store: failingStore{}})
	raw, err := domain.TokenPayload{ID: "x", TenantID: "t1", Version: domain.PayloadVersion}.Encode()
	require.NoError(t, err)
	_, err = validator.Validate(context.Background(), raw, reception)
	requireCode(t, err, apperrors.CodeStoreUnavailable)
}

func TestValidatorEventsAndMetrics(t *testing.T) {
	f := newFixture(t)
	var (
		mu   sync.Mutex
		seen []events.EventType
	)
	record := func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	}
	for _, et := range []events.EventType{
		events.EventAccessTokenIssued,
		events.EventAccessTokenConsumed,
		events.EventAccessTokenDepleted,
		events.EventAccessTokenRejected,
	} {
		f.dispatcher.Subscribe(et, record)
	}

	res := f.issue(t, 1, f.now.Add(time.Hour))
	_, err := f.validator.Validate(context.Background(), res.Encoded, reception)
	require.NoError(t, err)
	_, err = f.validator.Validate(context.Background(), res.Encoded, reception)
	require.Error(t, err)

	assert.Equal(t, []events.EventType{
		events.EventAccessTokenIssued,
		events.EventAccessTokenConsumed,
		events.EventAccessTokenDepleted,
		events.EventAccessTokenRejected,
	}, seen)

	expected := `
# HELP condo_access_token_validations_total Access token validations by outcome.
# TYPE condo_access_token_validations_total counter
condo_access_token_validations_total{outcome="QUOTA_EXHAUSTED"} 1
condo_access_token_validations_total{outcome="granted"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"condo_access_token_validations_total"))

	issued := `
# HELP condo_access_tokens_issued_total Access tokens issued.
# TYPE condo_access_tokens_issued_total counter
condo_access_tokens_issued_total{tenant_id="t1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(issued),
		"condo_access_tokens_issued_total"))
}

func TestGetComputesStatus(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, 2, f.now.Add(time.Minute))
	ctx := context.Background()

	token, err := f.validator.Get(ctx, reception, res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccessTokenStatusActive, token.Status)

	f.now = f.now.Add(2 * time.Minute)
	token, err = f.validator.Get(ctx, reception, res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccessTokenStatusExpired, token.Status)

	_, err = f.validator.Get(ctx, otherDesk, res.Token.ID)
	requireCode(t, err, apperrors.CodeUnknownToken)

	token, err = f.validator.Get(ctx, resident, res.Token.ID)
	require.NoError(t, err)
	assert.Equal(t, "101", token.SubjectUnit)

	list, err := f.validator.List(ctx, admin, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.AccessTokenStatusExpired, list[0].Status)
}
