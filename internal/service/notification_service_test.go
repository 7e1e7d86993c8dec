package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/delivery-auth/internal/events"
)

func TestNotificationServiceAuditsAndNotifies(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := NewNotificationService(zap.New(core), "email")
	ctx := context.Background()

	require.NoError(t, svc.Handle(ctx, events.Event{Type: events.EventSessionStarted, UserID: 42}))
	require.NoError(t, svc.Handle(ctx, events.Event{
		Type:    events.EventSessionSuperseded,
		UserID:  42,
		Payload: events.SessionSupersededPayload{SupersededSessionID: "S1"},
	}))
	require.NoError(t, svc.Handle(ctx, events.Event{
		Type:    events.EventSessionRevoked,
		UserID:  42,
		Payload: events.SessionRevokedPayload{Reason: events.ReasonLogout},
	}))
	require.NoError(t, svc.Handle(ctx, events.Event{
		Type:    events.EventSessionRevoked,
		UserID:  42,
		Payload: events.SessionRevokedPayload{Reason: events.ReasonForceLogout},
	}))

	require.Equal(t, 4, logs.FilterMessage("session audit").Len())
	require.Equal(t, 2, logs.FilterMessage("sendSecurityNoticeStub").Len())
}

func TestNotificationServiceWithoutChannel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := NewNotificationService(zap.New(core), "")

	require.NoError(t, svc.Handle(context.Background(), events.Event{Type: events.EventSessionSuperseded, UserID: 1}))
	require.Equal(t, 0, logs.FilterMessage("sendSecurityNoticeStub").Len())
}
