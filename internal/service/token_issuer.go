package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/events"
	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/repository"
	apperrors "github.com/spec-kit/condo-access/pkg/util/errorutil"
)

const maxIDAttempts = 3

// TokenIssuer creates tenant-scoped access tokens.
type TokenIssuer struct {
	store      repository.TokenStore
	grants     repository.GrantRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
	newID      func() string
	defaultTTL time.Duration
}

// TokenIssuerDependencies bundles collaborators for the issuer.
type TokenIssuerDependencies struct {
	Store      repository.TokenStore
	Grants     repository.GrantRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
	// NewID overrides uuid generation in tests.
	NewID      func() string
	DefaultTTL time.Duration
}

// IssueInput describes a token to issue for an already resolved subject.
type IssueInput struct {
	Subject     domain.Subject
	MaxUses     int
	ExpiresAt   time.Time
	VisitorName string
}

// GrantIssueInput describes a token to issue for a stored grant.
type GrantIssueInput struct {
	GrantID     string
	MaxUses     int
	ExpiresAt   time.Time
	VisitorName string
}

// IssueResult carries the payload handed to the code renderer. The stored record
// is returned for the caller's response body only.
type IssueResult struct {
	Payload domain.TokenPayload
	Encoded string
	Token   *domain.AccessToken
}

// NewTokenIssuer constructs the issuer.
func NewTokenIssuer(deps TokenIssuerDependencies) *TokenIssuer {
	issuer := &TokenIssuer{
		store:      deps.Store,
		grants:     deps.Grants,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      deps.Clock,
		newID:      deps.NewID,
		defaultTTL: deps.DefaultTTL,
	}
	if issuer.logger == nil {
		issuer.logger = zap.NewNop()
	}
	if issuer.clock == nil {
		issuer.clock = time.Now
	}
	if issuer.newID == nil {
		issuer.newID = func() string { return uuid.NewString() }
	}
	if issuer.defaultTTL <= 0 {
		issuer.defaultTTL = 24 * time.Hour
	}
	return issuer
}

// Issue persists a new ACTIVE token in the principal's partition.
func (s *TokenIssuer) Issue(ctx context.Context, principal domain.Principal, input IssueInput) (*IssueResult, error) {
	if input.MaxUses < 1 {
		return nil, apperrors.NewInvalidQuota(input.MaxUses)
	}
	if strings.TrimSpace(input.Subject.ID) == "" {
		return nil, apperrors.NewInvalidSubject("subject is required")
	}
	if input.Subject.TenantID != principal.TenantID {
		return nil, apperrors.NewInvalidSubject("subject does not belong to this condominium")
	}

	now := s.clock()
	expiresAt := input.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.defaultTTL)
	}
	visitor := strings.TrimSpace(input.VisitorName)
	if visitor == "" {
		visitor = domain.DefaultVisitorName
	}

	token := &domain.AccessToken{
		TenantID:     principal.TenantID,
		SubjectID:    input.Subject.ID,
		SubjectName:  input.Subject.Name,
		SubjectUnit:  input.Subject.Unit,
		VisitorName:  visitor,
		IssuedByID:   principal.UserID,
		IssuedByName: principal.Name,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		MaxUses:      input.MaxUses,
		CurrentUses:  0,
		Status:       domain.AccessTokenStatusActive,
	}

	partition := s.store.Tenant(principal.TenantID)
	if err := s.create(ctx, partition, token); err != nil {
		return nil, err
	}

	payload := domain.NewTokenPayload(token)
	encoded, err := payload.Encode()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.metrics.RecordIssued(token.TenantID)
	s.logger.Info("access token issued",
		zap.String("tenant_id", token.TenantID),
		zap.String("token_id", token.ID),
		zap.String("subject_id", token.SubjectID),
		zap.Int("max_uses", token.MaxUses),
		zap.Time("expires_at", token.ExpiresAt))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventAccessTokenIssued,
		TenantID: token.TenantID,
		TokenID:  token.ID,
		Actor:    events.ActorFromPrincipal(principal),
		Payload: events.AccessTokenIssuedPayload{
			SubjectID:   token.SubjectID,
			SubjectUnit: token.SubjectUnit,
			MaxUses:     token.MaxUses,
			ExpiresAt:   token.ExpiresAt,
		},
	})

	return &IssueResult{Payload: payload, Encoded: encoded, Token: token.Clone()}, nil
}

// IssueForGrant resolves the subject from the grant collection and issues a token
// for it. Residents may only issue for grants of their own unit.
func (s *TokenIssuer) IssueForGrant(ctx context.Context, principal domain.Principal, input GrantIssueInput) (*IssueResult, error) {
	if input.MaxUses < 1 {
		return nil, apperrors.NewInvalidQuota(input.MaxUses)
	}
	if s.grants == nil {
		return nil, apperrors.NewInvalidSubject("grant lookup unavailable")
	}

	grant, err := s.grants.GetByID(ctx, principal.TenantID, input.GrantID)
	if err != nil {
		if errors.Is(err, repository.ErrGrantNotFound) {
			return nil, apperrors.NewInvalidSubject("subject not found in this condominium")
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if grant.Status != domain.GrantStatusActive {
		return nil, apperrors.NewInvalidSubject("subject is not active")
	}
	if grant.IsExpired(s.clock()) {
		return nil, apperrors.NewInvalidSubject("subject authorization has expired")
	}
	if principal.Role == domain.RoleResident && grant.Unit != principal.Unit {
		return nil, apperrors.NewInvalidSubject("residents may only issue codes for their own unit")
	}

	return s.Issue(ctx, principal, IssueInput{
		Subject:     grant.Subject(),
		MaxUses:     input.MaxUses,
		ExpiresAt:   input.ExpiresAt,
		VisitorName: input.VisitorName,
	})
}

func (s *TokenIssuer) create(ctx context.Context, partition repository.TenantTokenStore, token *domain.AccessToken) error {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		token.ID = s.newID()
		err := partition.Create(ctx, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrTokenExists) {
			return apperrors.NewStoreUnavailable(err)
		}
		s.logger.Warn("access token id collision",
			zap.String("tenant_id", token.TenantID),
			zap.String("token_id", token.ID),
			zap.Int("attempt", attempt))
	}
	return apperrors.NewInternalError(fmt.Errorf("could not allocate a unique token id after %d attempts", maxIDAttempts))
}

func (s *TokenIssuer) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, s.dispatcher, s.logger, s.clock, event)
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, clock func() time.Time, event events.Event) {
	if dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = clock().UTC()
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("token_id", event.TokenID),
			zap.Error(err))
	}
}
