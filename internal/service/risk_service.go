package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/config"
	"github.com/spec-kit/condo-access/internal/domain"
)

// RiskLevel labels an access attempt.
type RiskLevel string

const (
	RiskLow     RiskLevel = "Low"
	RiskMedium  RiskLevel = "Medium"
	RiskHigh    RiskLevel = "High"
	RiskUnknown RiskLevel = "Unknown"
)

const riskUnavailableReason = "risk analysis unavailable"

// RiskAssessment is the advisory label shown to reception next to a scanned code.
type RiskAssessment struct {
	Level  RiskLevel `json:"riskLevel"`
	Reason string    `json:"reason"`
}

// Completer sends a single prompt to a text-generation model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type openAICompleter struct {
	client *openai.Client
	model  string
}

func (c *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// AccessRiskService asks the assistant model to label an access attempt. A nil
// completer disables the call and every evaluation returns the unknown label.
type AccessRiskService struct {
	completer Completer
	logger    *zap.Logger
	clock     func() time.Time
}

// NewAccessRiskService builds the service from config. An empty API key disables it.
func NewAccessRiskService(cfg config.AssistantConfig, logger *zap.Logger) *AccessRiskService {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return NewAccessRiskServiceWithCompleter(nil, logger, nil)
	}
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	return NewAccessRiskServiceWithCompleter(&openAICompleter{client: &client, model: cfg.Model}, logger, nil)
}

// NewAccessRiskServiceWithCompleter wires a custom completer.
func NewAccessRiskServiceWithCompleter(completer Completer, logger *zap.Logger, clock func() time.Time) *AccessRiskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &AccessRiskService{completer: completer, logger: logger, clock: clock}
}

// Evaluate never fails; model errors degrade to the unknown label.
func (s *AccessRiskService) Evaluate(ctx context.Context, token *domain.AccessToken, scanner domain.Principal) RiskAssessment {
	if s.completer == nil || token == nil {
		return unknownRisk()
	}

	reply, err := s.completer.Complete(ctx, buildRiskPrompt(token, scanner, s.clock()))
	if err != nil {
		s.logger.Warn("risk evaluation failed", zap.String("token_id", token.ID), zap.Error(err))
		return unknownRisk()
	}
	assessment, err := parseRiskAssessment(reply)
	if err != nil {
		s.logger.Warn("risk evaluation unparseable", zap.String("token_id", token.ID), zap.Error(err))
		return unknownRisk()
	}
	return assessment
}

func buildRiskPrompt(token *domain.AccessToken, scanner domain.Principal, now time.Time) string {
	var b strings.Builder
	b.WriteString("Evaluate the security risk of this condominium access. Reply with JSON only.\n\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- Current hour: %02d:00\n", now.Hour())
	fmt.Fprintf(&b, "- Visitor: %s\n", token.VisitorName)
	fmt.Fprintf(&b, "- Destination unit: %s\n", token.SubjectUnit)
	fmt.Fprintf(&b, "- Issued by: %s\n", token.IssuedByName)
	fmt.Fprintf(&b, "- Current uses: %d / %d\n", token.CurrentUses, token.MaxUses)
	fmt.Fprintf(&b, "- Scanned by: %s (role %s)\n\n", scanner.Name, scanner.Role)
	b.WriteString("RULES:\n")
	b.WriteString("- Early morning (00-06) is Medium or High risk for non-residents.\n")
	b.WriteString("- Many uses in quick succession is Medium risk.\n\n")
	b.WriteString(`Expected output: { "riskLevel": "Low" | "Medium" | "High", "reason": "short explanation" }`)
	return b.String()
}

func parseRiskAssessment(reply string) (RiskAssessment, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return RiskAssessment{}, errors.New("empty reply")
	}

	var out RiskAssessment
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return RiskAssessment{}, fmt.Errorf("unmarshal risk assessment: %w", err)
	}
	switch strings.ToLower(string(out.Level)) {
	case "low":
		out.Level = RiskLow
	case "medium":
		out.Level = RiskMedium
	case "high":
		out.Level = RiskHigh
	default:
		return RiskAssessment{}, fmt.Errorf("unexpected risk level %q", out.Level)
	}
	return out, nil
}

func unknownRisk() RiskAssessment {
	return RiskAssessment{Level: RiskUnknown, Reason: riskUnavailableReason}
}
