package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventTokenRefreshed       ActivityEventType = "auth.token.refreshed"
	ActivityEventTokenRejected        ActivityEventType = "auth.token.rejected"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventCodeIssued           ActivityEventType = "auth.code.issued"
	ActivityEventCodeVerified         ActivityEventType = "auth.code.verified"
	ActivityEventCodeRejected         ActivityEventType = "auth.code.rejected"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventCredentialCreated    ActivityEventType = "auth.credential.created"
	ActivityEventCredentialDeleted    ActivityEventType = "auth.credential.deleted"
	ActivityEventAccountsReaped       ActivityEventType = "auth.accounts.reaped"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     int64
	Email      string
	Purpose    Purpose
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
