// Package notify delivers user notifications produced by the engine.
// Delivery transport (email, push) lives outside this service; this
// implementation records every notification to the structured log and keeps
// the approver audience configurable.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LogNotifier struct {
	log       *zap.Logger
	approvers []uuid.UUID
}

func NewLogNotifier(log *zap.Logger, approvers []uuid.UUID) *LogNotifier {
	return &LogNotifier{log: log, approvers: approvers}
}

// Notify is best effort: it never returns an error, so a notification
// problem can never fail the trade or order it belongs to.
func (n *LogNotifier) Notify(ctx context.Context, userId uuid.UUID, kind string, payload map[string]any) {
	n.log.Info("notification",
		zap.String("user_id", userId.String()),
		zap.String("kind", kind),
		zap.Any("payload", payload))
}

func (n *LogNotifier) NotifyApprovers(ctx context.Context, kind string, payload map[string]any) {
	for _, approver := range n.approvers {
		n.Notify(ctx, approver, kind, payload)
	}
}
