package dto

import (
	"time"

	"github.com/spec-kit/condo-access/internal/domain"
)

// IssueAccessTokenRequest payload. MaxUses is checked by the issuer so a zero or
// negative quota reports INVALID_QUOTA rather than a generic validation failure.
type IssueAccessTokenRequest struct {
	GrantID     string     `json:"grant_id" validate:"required,max=64"`
	MaxUses     int        `json:"max_uses"`
	ExpiresAt   *time.Time `json:"expires_at"`
	VisitorName string     `json:"visitor_name" validate:"omitempty,max=120"`
}

// ValidateAccessTokenRequest carries the string read from the scanned code.
type ValidateAccessTokenRequest struct {
	Payload string `json:"payload" validate:"max=4096"`
}

// AccessTokenResponse is the public view of a stored token.
type AccessTokenResponse struct {
	ID            string                   `json:"id"`
	TenantID      string                   `json:"tenant_id"`
	SubjectID     string                   `json:"subject_id"`
	SubjectName   string                   `json:"subject_name"`
	SubjectUnit   string                   `json:"subject_unit"`
	VisitorName   string                   `json:"visitor_name"`
	IssuedByID    string                   `json:"issued_by_id"`
	IssuedByName  string                   `json:"issued_by_name"`
	CreatedAt     time.Time                `json:"created_at"`
	ExpiresAt     time.Time                `json:"expires_at"`
	MaxUses       int                      `json:"max_uses"`
	CurrentUses   int                      `json:"current_uses"`
	RemainingUses int                      `json:"remaining_uses"`
	Status        domain.AccessTokenStatus `json:"status"`
}

// IssueAccessTokenResponse returns the payload for the code renderer.
type IssueAccessTokenResponse struct {
	Payload string              `json:"payload"`
	Token   AccessTokenResponse `json:"token"`
}

// ValidateAccessTokenResponse is returned when access is granted.
type ValidateAccessTokenResponse struct {
	Valid         bool                `json:"valid"`
	Message       string              `json:"message"`
	RemainingUses int                 `json:"remaining_uses"`
	Token         AccessTokenResponse `json:"token"`
}

// RiskResponse carries the advisory risk label.
type RiskResponse struct {
	TokenID   string `json:"token_id"`
	RiskLevel string `json:"risk_level"`
	Reason    string `json:"reason"`
}

// NewAccessTokenResponse maps a domain token.
func NewAccessTokenResponse(token *domain.AccessToken) AccessTokenResponse {
	return AccessTokenResponse{
		ID:            token.ID,
		TenantID:      token.TenantID,
		SubjectID:     token.SubjectID,
		SubjectName:   token.SubjectName,
		SubjectUnit:   token.SubjectUnit,
		VisitorName:   token.VisitorName,
		IssuedByID:    token.IssuedByID,
		IssuedByName:  token.IssuedByName,
		CreatedAt:     token.CreatedAt,
		ExpiresAt:     token.ExpiresAt,
		MaxUses:       token.MaxUses,
		CurrentUses:   token.CurrentUses,
		RemainingUses: token.RemainingUses(),
		Status:        token.Status,
	}
}
