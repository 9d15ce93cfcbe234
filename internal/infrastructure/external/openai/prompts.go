package openai

import (
	"encoding/json"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
)

const decisionSystemPrompt = `You are a case officer assistant for long-running administrative records requests. Given the current state of a case, decide the single best next action. Always respond with valid JSON.

Valid action_type values:
- "send_follow_up": send a reminder to the agency. Requires draft_subject and draft_body.
- "send_clarification": answer a clarification the agency asked for. Requires draft_subject and draft_body.
- "portal_submit": the agency directs requests to an online portal; submit there.
- "escalate_to_human": the situation needs operator judgment (fee decisions, denials, ambiguity).
- "close_case": the request is fully satisfied and nothing remains to do.

Respond with a JSON object:
{
  "action_type": "...",
  "draft_subject": "...",
  "draft_body": "...",
  "reasoning": "one or two sentences",
  "confidence": 0.0-1.0,
  "risk_flags": ["..."]
}

Rules:
- Fee quotes, denials and anything involving spending money must be escalated, never answered automatically.
- Drafts must be polite, reference the case name, and never invent facts not present in the brief.
- When in doubt, escalate.`

// buildDecisionPrompt renders the case brief for the model.
func buildDecisionPrompt(brief port.CaseBrief) (string, error) {
	briefJSON, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode case brief: %w", err)
	}
	return fmt.Sprintf(`Current case state:

%s

Decide the next action for this case.`, string(briefJSON)), nil
}
