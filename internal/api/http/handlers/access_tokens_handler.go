package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/condo-access/internal/api/dto"
	"github.com/spec-kit/condo-access/internal/auth"
	"github.com/spec-kit/condo-access/internal/service"
	apperrors "github.com/spec-kit/condo-access/pkg/util/errorutil"
)

const accessGrantedMessage = "access granted"

// AccessTokensHandler serves issuance and gate validation of access codes.
type AccessTokensHandler struct {
	issuer    *service.TokenIssuer
	validator *service.TokenValidator
	risk      *service.AccessRiskService
	validate  *validator.Validate
}

// NewAccessTokensHandler constructs handler.
func NewAccessTokensHandler(issuer *service.TokenIssuer, tokenValidator *service.TokenValidator, risk *service.AccessRiskService) *AccessTokensHandler {
	return &AccessTokensHandler{
		issuer:    issuer,
		validator: tokenValidator,
		risk:      risk,
		validate:  validator.New(),
	}
}

// Issue POST /access-tokens.
func (h *AccessTokensHandler) Issue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.IssueAccessTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validateStruct(req); err != nil {
		return err
	}

	input := service.GrantIssueInput{
		GrantID:     req.GrantID,
		MaxUses:     req.MaxUses,
		VisitorName: req.VisitorName,
	}
	if req.ExpiresAt != nil {
		input.ExpiresAt = *req.ExpiresAt
	}
	res, err := h.issuer.IssueForGrant(c.UserContext(), *principal, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.IssueAccessTokenResponse{
		Payload: res.Encoded,
		Token:   dto.NewAccessTokenResponse(res.Token),
	}})
}

// Validate POST /access-tokens/validate.
func (h *AccessTokensHandler) Validate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ValidateAccessTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewMalformedPayload()
	}
	if err := h.validate.Struct(req); err != nil {
		return apperrors.NewMalformedPayload()
	}

	res, err := h.validator.Validate(c.UserContext(), req.Payload, *principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ValidateAccessTokenResponse{
		Valid:         true,
		Message:       accessGrantedMessage,
		RemainingUses: res.RemainingUses,
		Token:         dto.NewAccessTokenResponse(res.Token),
	}})
}

// List GET /access-tokens.
func (h *AccessTokensHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	limit, err := parseQueryInt(c.Query("limit"), 20)
	if err != nil {
		return apperrors.NewValidationError("invalid query parameter", map[string]any{"limit": err.Error()})
	}
	offset, err := parseQueryInt(c.Query("offset"), 0)
	if err != nil {
		return apperrors.NewValidationError("invalid query parameter", map[string]any{"offset": err.Error()})
	}
	if limit > 100 {
		limit = 100
	}

	tokens, err := h.validator.List(c.UserContext(), *principal, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.AccessTokenResponse, 0, len(tokens))
	for i := range tokens {
		items = append(items, dto.NewAccessTokenResponse(&tokens[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /access-tokens/:id.
func (h *AccessTokensHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	token, err := h.validator.Get(c.UserContext(), *principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccessTokenResponse(token)})
}

// Risk GET /access-tokens/:id/risk.
func (h *AccessTokensHandler) Risk(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	token, err := h.validator.Get(c.UserContext(), *principal, c.Params("id"))
	if err != nil {
		return err
	}
	assessment := h.risk.Evaluate(c.UserContext(), token, *principal)
	return c.JSON(fiber.Map{"data": dto.RiskResponse{
		TokenID:   token.ID,
		RiskLevel: string(assessment.Level),
		Reason:    assessment.Reason,
	}})
}

func (h *AccessTokensHandler) validateStruct(req any) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return apperrors.NewValidationError("request validation failed", details)
}

func parseQueryInt(val string, def int) (int, error) {
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if parsed < 0 {
		return 0, errors.New("must not be negative")
	}
	return parsed, nil
}
