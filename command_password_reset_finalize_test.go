package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func TestFinalizePasswordResetHandlerEmitsActivity(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	seedCredential(t, f.repo, 11, "finalize@example.com", "old-password", true)

	sink := &MockActivitySink{}
	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt auth.ActivityEvent) bool {
		return evt.EventType == auth.ActivityEventPasswordResetSuccess &&
			evt.UserID == 11 &&
			evt.Email == "finalize@example.com" &&
			!evt.OccurredAt.IsZero()
	})).Return(nil).Once()

	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens,
		auth.WithActivitySink(sink),
		auth.WithHandlerLogger(nopLogger{}),
		auth.WithHandlerClock(f.clock),
		auth.WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)),
	)

	emailToken, err := f.tokens.IssueEmailToken("finalize@example.com")
	require.NoError(t, err)

	err = handler.Execute(ctx, auth.FinalizePasswordResetMessage{
		EmailToken:  emailToken,
		NewPassword: "password12345",
	})
	require.NoError(t, err)

	sink.AssertExpectations(t)
}

func TestFinalizePasswordResetHandlerIgnoresSinkErrors(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	seedCredential(t, f.repo, 12, "sinkfail@example.com", "old-password", true)

	sink := &MockActivitySink{}
	sink.On("Record", mock.Anything, mock.Anything).Return(errors.New("sink down")).Once()

	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens,
		auth.WithActivitySink(sink),
		auth.WithHandlerLogger(nopLogger{}),
		auth.WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)),
	)

	emailToken, err := f.tokens.IssueEmailToken("sinkfail@example.com")
	require.NoError(t, err)

	require.NoError(t, handler.Execute(ctx, auth.FinalizePasswordResetMessage{
		EmailToken:  emailToken,
		NewPassword: "password12345",
	}))
	sink.AssertExpectations(t)
}

func TestFinalizePasswordResetHandlerUnknownEmail(t *testing.T) {
	f := newWorkflowFixture(t)

	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens, auth.WithHandlerLogger(nopLogger{}))

	emailToken, err := f.tokens.IssueEmailToken("nobody@example.com")
	require.NoError(t, err)

	err = handler.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		EmailToken:  emailToken,
		NewPassword: "password12345",
	})
	require.ErrorIs(t, err, auth.ErrCredentialNotFound)
}
