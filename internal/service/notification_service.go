package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/delivery-auth/internal/events"
)

// NotificationService turns session events into audit records and security notices.
// Delivery itself belongs to the notification platform; notices are only logged here.
type NotificationService struct {
	logger        *zap.Logger
	noticeChannel string
}

// NewNotificationService creates the service. An empty noticeChannel disables security notices.
func NewNotificationService(logger *zap.Logger, noticeChannel string) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{logger: logger, noticeChannel: noticeChannel}
}

// Handle processes one session event.
func (n *NotificationService) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventSessionStarted:
		n.audit(event)
	case events.EventSessionRotated:
		n.audit(event)
	case events.EventSessionSuperseded:
		n.audit(event)
		n.sendSecurityNoticeStub(ctx, event, "signed in on another device")
	case events.EventSessionRevoked:
		n.audit(event)
		if payload, ok := event.Payload.(events.SessionRevokedPayload); ok && payload.Reason == events.ReasonForceLogout {
			n.sendSecurityNoticeStub(ctx, event, "all sessions were signed out")
		}
	default:
		n.logger.Debug("ignoring unknown event", zap.String("event_type", string(event.Type)))
	}
	return nil
}

func (n *NotificationService) audit(event events.Event) {
	n.logger.Info("session audit",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload))
}

func (n *NotificationService) sendSecurityNoticeStub(_ context.Context, event events.Event, message string) {
	if strings.TrimSpace(n.noticeChannel) == "" {
		return
	}
	n.logger.Debug("sendSecurityNoticeStub",
		zap.String("channel", n.noticeChannel),
		zap.Int64("user_id", event.UserID),
		zap.String("event_type", string(event.Type)),
		zap.String("message", message))
}
