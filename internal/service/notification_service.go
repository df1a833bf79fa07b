package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/events"
)

// NotificationService writes an audit trail of token lifecycle events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventAccessTokenIssued, n.handleTokenIssued)
	n.dispatcher.Subscribe(events.EventAccessTokenConsumed, n.handleTokenConsumed)
	n.dispatcher.Subscribe(events.EventAccessTokenDepleted, n.handleTokenDepleted)
	n.dispatcher.Subscribe(events.EventAccessTokenRejected, n.handleTokenRejected)
}

func (n *NotificationService) handleTokenIssued(ctx context.Context, event events.Event) error {
	n.logger.Info("AccessTokenIssued", n.fields(event)...)
	return nil
}

func (n *NotificationService) handleTokenConsumed(ctx context.Context, event events.Event) error {
	n.logger.Info("AccessTokenConsumed", n.fields(event)...)
	return nil
}

func (n *NotificationService) handleTokenDepleted(ctx context.Context, event events.Event) error {
	n.logger.Info("AccessTokenDepleted", n.fields(event)...)
	return nil
}

func (n *NotificationService) handleTokenRejected(ctx context.Context, event events.Event) error {
	n.logger.Warn("AccessTokenRejected", n.fields(event)...)
	return nil
}

func (n *NotificationService) fields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.String("token_id", event.TokenID),
		zap.String("actor_id", event.Actor.UserID),
		zap.String("actor_role", string(event.Actor.Role)),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	}
}
