package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// Collaborator implements port.DecisionCollaborator using OpenAI chat
// completions. It is stateless: every call carries the full case brief and
// the model sees nothing else.
type Collaborator struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewCollaborator creates an OpenAI-backed decision collaborator.
func NewCollaborator(apiKey, model string, temperature float32, logger *zap.Logger) *Collaborator {
	return &Collaborator{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// ProposeNextAction asks the model what to do next for a case.
func (c *Collaborator) ProposeNextAction(ctx context.Context, brief port.CaseBrief) (*port.NextActionDecision, error) {
	c.logger.Debug("Requesting next-action decision",
		zap.Int64("case_id", brief.CaseID),
		zap.String("status", brief.Status))

	prompt, err := buildDecisionPrompt(brief)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: decisionSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	var decision port.NextActionDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		// Fallback: some models still wrap JSON in markdown fences.
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err := json.Unmarshal([]byte(jsonStr), &decision); err == nil {
				c.logger.Info("Extracted JSON from response")
				return c.validated(&decision)
			}
		}
		c.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return c.validated(&decision)
}

// validated clamps the decision to known action types and a sane confidence.
func (c *Collaborator) validated(d *port.NextActionDecision) (*port.NextActionDecision, error) {
	switch d.ActionType {
	case entity.ActionSendFollowUp,
		entity.ActionSendClarification,
		entity.ActionPortalSubmit,
		entity.ActionEscalateToHuman,
		entity.ActionCloseCase:
	default:
		c.logger.Warn("Model returned unknown action, escalating",
			zap.String("action_type", d.ActionType))
		d.RiskFlags = append(d.RiskFlags, "unknown_action:"+d.ActionType)
		d.ActionType = entity.ActionEscalateToHuman
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}

	c.logger.Info("Decision received",
		zap.String("action_type", d.ActionType),
		zap.Float64("confidence", d.Confidence))
	return d, nil
}

// extractJSON pulls the first balanced JSON object out of free-form text.
func extractJSON(content string) string {
	start := -1
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '"':
			if i == 0 || content[i-1] != '\\' {
				inString = !inString
			}
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}

// Verify interface compliance
var _ port.DecisionCollaborator = (*Collaborator)(nil)
