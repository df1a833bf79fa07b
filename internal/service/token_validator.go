package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/events"
	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/repository"
	apperrors "github.com/spec-kit/condo-access/pkg/util/errorutil"
)

// TokenValidator checks scanned payloads and consumes one use on success.
type TokenValidator struct {
	store      repository.TokenStore
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

// TokenValidatorDependencies bundles collaborators for the validator.
type TokenValidatorDependencies struct {
	Store      repository.TokenStore
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// ValidationResult is returned for a granted access.
type ValidationResult struct {
	Token         *domain.AccessToken
	RemainingUses int
}

// NewTokenValidator constructs the validator.
func NewTokenValidator(deps TokenValidatorDependencies) *TokenValidator {
	v := &TokenValidator{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      deps.Clock,
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.clock == nil {
		v.clock = time.Now
	}
	return v
}

// Validate decodes the scanned string, authorizes it for the principal's tenant and
// atomically consumes one use. Every failure leaves the stored counters untouched.
func (v *TokenValidator) Validate(ctx context.Context, raw string, principal domain.Principal) (*ValidationResult, error) {
	payload, err := domain.DecodeTokenPayload(raw)
	if err != nil {
		return nil, v.reject(ctx, principal, "", apperrors.NewMalformedPayload())
	}

	if payload.TenantID != principal.TenantID {
		return nil, v.reject(ctx, principal, payload.ID, apperrors.NewCrossTenant(payload.TenantID))
	}

	partition := v.store.Tenant(principal.TenantID)
	token, err := partition.Get(ctx, payload.ID)
	if err != nil {
		return nil, v.reject(ctx, principal, payload.ID, mapStoreError(err))
	}

	now := v.clock()
	if token.IsExpired(now) {
		return nil, v.reject(ctx, principal, token.ID, apperrors.NewTokenExpired())
	}
	if token.IsDepleted() {
		return nil, v.reject(ctx, principal, token.ID, apperrors.NewQuotaExhausted())
	}

	updated, err := partition.Consume(ctx, token.ID, now)
	if err != nil {
		return nil, v.reject(ctx, principal, token.ID, mapStoreError(err))
	}

	remaining := updated.RemainingUses()
	v.metrics.RecordValidation(observability.OutcomeGranted)
	v.logger.Info("access granted",
		zap.String("tenant_id", updated.TenantID),
		zap.String("token_id", updated.ID),
		zap.String("validated_by", principal.UserID),
		zap.Int("current_uses", updated.CurrentUses),
		zap.Int("remaining_uses", remaining))

	actor := events.ActorFromPrincipal(principal)
	v.publishEvent(ctx, events.Event{
		Type:     events.EventAccessTokenConsumed,
		TenantID: updated.TenantID,
		TokenID:  updated.ID,
		Actor:    actor,
		Payload: events.AccessTokenConsumedPayload{
			CurrentUses:   updated.CurrentUses,
			RemainingUses: remaining,
		},
	})
	if updated.IsDepleted() {
		v.publishEvent(ctx, events.Event{
			Type:     events.EventAccessTokenDepleted,
			TenantID: updated.TenantID,
			TokenID:  updated.ID,
			Actor:    actor,
		})
	}

	return &ValidationResult{Token: updated, RemainingUses: remaining}, nil
}

// Get reads a token of the principal's tenant with its status computed for now.
// Residents only see tokens issued for their own unit.
func (v *TokenValidator) Get(ctx context.Context, principal domain.Principal, id string) (*domain.AccessToken, error) {
	token, err := v.store.Tenant(principal.TenantID).Get(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if principal.Role == domain.RoleResident && token.SubjectUnit != principal.Unit {
		return nil, apperrors.NewUnknownToken()
	}
	token.Status = token.StatusAt(v.clock())
	return token, nil
}

// List returns a page of the principal's tenant with statuses computed for now.
func (v *TokenValidator) List(ctx context.Context, principal domain.Principal, limit, offset int) ([]domain.AccessToken, error) {
	tokens, err := v.store.Tenant(principal.TenantID).List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	now := v.clock()
	for i := range tokens {
		tokens[i].Status = tokens[i].StatusAt(now)
	}
	return tokens, nil
}

func (v *TokenValidator) reject(ctx context.Context, principal domain.Principal, tokenID string, err error) error {
	domainErr := apperrors.ToDomainError(err)
	v.metrics.RecordValidation(domainErr.Code)
	fields := []zap.Field{
		zap.String("tenant_id", principal.TenantID),
		zap.String("token_id", tokenID),
		zap.String("outcome", domainErr.Code),
	}
	if domainErr.Err != nil {
		v.logger.Error("access validation failed", append(fields, zap.Error(domainErr.Err))...)
	} else {
		v.logger.Info("access denied", fields...)
	}
	v.publishEvent(ctx, events.Event{
		Type:     events.EventAccessTokenRejected,
		TenantID: principal.TenantID,
		TokenID:  tokenID,
		Actor:    events.ActorFromPrincipal(principal),
		Payload: events.AccessTokenRejectedPayload{
			Code:    domainErr.Code,
			Message: domainErr.Message,
		},
	})
	return domainErr
}

func (v *TokenValidator) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, v.dispatcher, v.logger, v.clock, event)
}

// mapStoreError turns store sentinels into taxonomy errors. Anything else is an I/O
// failure and is reported as is, without retrying.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrTokenNotFound):
		return apperrors.NewUnknownToken()
	case errors.Is(err, repository.ErrTokenExpired):
		return apperrors.NewTokenExpired()
	case errors.Is(err, repository.ErrQuotaExhausted):
		return apperrors.NewQuotaExhausted()
	case errors.Is(err, repository.ErrTenantMismatch):
		return apperrors.NewUnknownToken()
	default:
		return apperrors.NewStoreUnavailable(err)
	}
}
