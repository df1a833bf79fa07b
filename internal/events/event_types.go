package events

import (
	"time"

	"github.com/spec-kit/condo-access/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccessTokenIssued   EventType = "access_token_issued"
	EventAccessTokenConsumed EventType = "access_token_consumed"
	EventAccessTokenDepleted EventType = "access_token_depleted"
	EventAccessTokenRejected EventType = "access_token_rejected"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TenantID  string      `json:"tenant_id"`
	TokenID   string      `json:"token_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ActorFromPrincipal builds event actor metadata.
func ActorFromPrincipal(p domain.Principal) Actor {
	return Actor{UserID: p.UserID, Name: p.Name, Role: p.Role}
}

// AccessTokenIssuedPayload payload.
type AccessTokenIssuedPayload struct {
	SubjectID   string    `json:"subject_id"`
	SubjectUnit string    `json:"subject_unit"`
	MaxUses     int       `json:"max_uses"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessTokenConsumedPayload payload.
type AccessTokenConsumedPayload struct {
	CurrentUses   int `json:"current_uses"`
	RemainingUses int `json:"remaining_uses"`
}

// AccessTokenRejectedPayload payload.
type AccessTokenRejectedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
