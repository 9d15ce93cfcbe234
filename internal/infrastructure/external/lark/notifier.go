package lark

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
)

// Config holds Lark client configuration.
type Config struct {
	AppID     string
	AppSecret string
	// OpsChatID is the chat that receives review and escalation notices.
	OpsChatID string
}

// Notifier implements port.OperatorNotifier by posting to a Lark ops chat.
type Notifier struct {
	client    *lark.Client
	opsChatID string
	logger    *zap.Logger
}

// NewNotifier creates a Lark-backed operator notifier.
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &Notifier{
		client:    client,
		opsChatID: cfg.OpsChatID,
		logger:    logger,
	}
}

// NotifyPendingProposal posts a review notice for a proposal awaiting
// approval.
func (n *Notifier) NotifyPendingProposal(ctx context.Context, caseID, proposalID int64, actionType, summary string) error {
	text := fmt.Sprintf("Proposal #%d awaits review\nCase: %d\nAction: %s\n%s",
		proposalID, caseID, actionType, summary)
	return n.sendText(ctx, text)
}

// NotifyEscalation posts an escalation notice for a case that needs an
// operator.
func (n *Notifier) NotifyEscalation(ctx context.Context, caseID int64, reason string) error {
	text := fmt.Sprintf("Case %d escalated for manual handling\nReason: %s", caseID, reason)
	return n.sendText(ctx, text)
}

func (n *Notifier) sendText(ctx context.Context, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.opsChatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send ops message",
			zap.String("chat_id", n.opsChatID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("Lark API returned failure",
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Ops notification sent", zap.String("chat_id", n.opsChatID))
	return nil
}

// Verify interface compliance
var _ port.OperatorNotifier = (*Notifier)(nil)
