package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// TokenService issues and validates the access, refresh and email
// tokens. Implementations are stateless: a token is valid when its
// signature, type and expiry check out.
type TokenService interface {
	IssueAccessToken(identity int64) (string, error)
	IssueRefreshToken(identity int64) (string, error)
	IssueEmailToken(email string) (string, error)
	Validate(token string, kind TokenKind) TokenResult
	IsExpired(token string) bool
}

// EmailSender delivers a single rendered message.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// AccountsNotifier tells the profile store which identities the
// reaper removed.
type AccountsNotifier interface {
	NotifyUnverifiedAccountsDeleted(ctx context.Context, evt UnverifiedAccountsDeleted) error
}

// Clock returns the current time. Tests swap it to move time forward.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock is the wall clock in UTC
func SystemClock() Clock {
	return systemClock{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
