package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type commandFixture struct {
	*workflowFixture
	opts   []auth.HandlerOption
	events *activityRecorder
}

type activityRecorder struct {
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, evt auth.ActivityEvent) error {
	r.events = append(r.events, evt)
	return nil
}

func (r *activityRecorder) Types() []auth.ActivityEventType {
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType)
	}
	return out
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	wf := newWorkflowFixture(t)
	events := &activityRecorder{}
	return &commandFixture{
		workflowFixture: wf,
		events:          events,
		opts: []auth.HandlerOption{
			auth.WithHandlerClock(wf.clock),
			auth.WithHandlerLogger(nopLogger{}),
			auth.WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)),
			auth.WithActivitySink(events),
		},
	}
}

func (f *commandFixture) login(t *testing.T, loginID, password string) (auth.TokenPair, error) {
	t.Helper()
	var pair auth.TokenPair
	err := auth.NewLoginHandler(f.repo, f.tokens, f.opts...).Execute(context.Background(), auth.LoginMessage{
		LoginID:    loginID,
		Password:   password,
		OnResponse: func(p *auth.TokenPair) { pair = *p },
	})
	return pair, err
}

func TestLogin(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 42, "jane@example.com", "correct horse", true)
	seedCredential(t, f.repo, 43, "pending@example.com", "correct horse", false)

	t.Run("success issues a pair bound to the identity", func(t *testing.T) {
		pair, err := f.login(t, "user42", "correct horse")
		require.NoError(t, err)

		id, ok := f.tokens.Validate(pair.AccessToken, auth.TokenKindAccess).Identity()
		require.True(t, ok)
		assert.Equal(t, int64(42), id)

		id, ok = f.tokens.Validate(pair.RefreshToken, auth.TokenKindRefresh).Identity()
		require.True(t, ok)
		assert.Equal(t, int64(42), id)

		stored, err := f.repo.Credentials().GetByUserID(context.Background(), 42)
		require.NoError(t, err)
		require.NotNil(t, stored.RefreshToken)
		assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)
	})

	cases := []struct {
		name     string
		loginID  string
		password string
	}{
		{"wrong password", "user42", "wrong"},
		{"unknown login id", "ghost", "correct horse"},
		{"unverified account", "user43", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.login(t, tc.loginID, tc.password)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		})
	}

	t.Run("empty payload", func(t *testing.T) {
		_, err := f.login(t, "", "")
		require.Error(t, err)
		assert.True(t, auth.IsRichError(err, auth.TextCodeInvalidPayload))
	})

	assert.Contains(t, f.events.Types(), auth.ActivityEventLoginSuccess)
	assert.Contains(t, f.events.Types(), auth.ActivityEventLoginFailure)
}

func TestRefreshRotation(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 7, "r@example.com", "pw-pw-pw", true)
	ctx := context.Background()

	first, err := f.login(t, "user7", "pw-pw-pw")
	require.NoError(t, err)

	refresh := auth.NewRefreshTokenHandler(f.repo, f.tokens, f.opts...)

	f.clock.Advance(time.Second)
	var second auth.TokenPair
	err = refresh.Execute(ctx, auth.RefreshTokenMessage{
		RefreshToken: first.RefreshToken,
		OnResponse:   func(p *auth.TokenPair) { second = *p },
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	err = refresh.Execute(ctx, auth.RefreshTokenMessage{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, auth.ErrTokenMismatch, "the superseded refresh token is rejected")

	err = refresh.Execute(ctx, auth.RefreshTokenMessage{RefreshToken: ""})
	assert.ErrorIs(t, err, auth.ErrTokenMissing)

	err = refresh.Execute(ctx, auth.RefreshTokenMessage{RefreshToken: second.AccessToken})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid, "an access token is not a refresh token")

	f.clock.Advance(8 * 24 * time.Hour)
	err = refresh.Execute(ctx, auth.RefreshTokenMessage{RefreshToken: second.RefreshToken})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 8, "l@example.com", "pw-pw-pw", true)
	ctx := context.Background()

	pair, err := f.login(t, "user8", "pw-pw-pw")
	require.NoError(t, err)

	logout := auth.NewLogoutHandler(f.repo, f.tokens, f.opts...)
	require.NoError(t, logout.Execute(ctx, auth.LogoutMessage{RefreshToken: pair.RefreshToken}))
	require.NoError(t, logout.Execute(ctx, auth.LogoutMessage{RefreshToken: pair.RefreshToken}))
	require.NoError(t, logout.Execute(ctx, auth.LogoutMessage{RefreshToken: "garbage"}))
	require.NoError(t, logout.Execute(ctx, auth.LogoutMessage{}))

	stored, err := f.repo.Credentials().GetByUserID(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, stored.AccessToken)
	assert.Nil(t, stored.RefreshToken)

	err = auth.NewRefreshTokenHandler(f.repo, f.tokens, f.opts...).
		Execute(ctx, auth.RefreshTokenMessage{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, auth.ErrTokenMismatch)
}

func TestLogoutWithExpiredRefreshToken(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 9, "x@example.com", "pw-pw-pw", true)
	ctx := context.Background()

	pair, err := f.login(t, "user9", "pw-pw-pw")
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, auth.NewLogoutHandler(f.repo, f.tokens, f.opts...).
		Execute(ctx, auth.LogoutMessage{RefreshToken: pair.RefreshToken, All: true}))

	stored, err := f.repo.Credentials().GetByUserID(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)
}

func TestChangePassword(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 10, "c@example.com", "old-password", true)
	ctx := context.Background()

	pair, err := f.login(t, "user10", "old-password")
	require.NoError(t, err)

	change := auth.NewChangePasswordHandler(f.repo, f.opts...)

	err = change.Execute(ctx, auth.ChangePasswordMessage{UserID: 10, CurrentPassword: "nope", NewPassword: "new-password"})
	assert.ErrorIs(t, err, auth.ErrWrongCurrentPassword)

	err = change.Execute(ctx, auth.ChangePasswordMessage{UserID: 99, CurrentPassword: "old-password", NewPassword: "new-password"})
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)

	require.NoError(t, change.Execute(ctx, auth.ChangePasswordMessage{
		UserID: 10, CurrentPassword: "old-password", NewPassword: "new-password",
	}))

	_, err = f.login(t, "user10", "old-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	stored, err := f.repo.Credentials().GetByUserID(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken, "password change keeps the session")
	assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)

	_, err = f.login(t, "user10", "new-password")
	assert.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 11, "reset@example.com", "old-password", true)
	ctx := context.Background()

	_, err := f.login(t, "user11", "old-password")
	require.NoError(t, err)

	initialize := auth.NewInitializePasswordResetHandler(f.workflow)
	require.NoError(t, initialize.Execute(ctx, auth.InitializePasswordResetMessage{Email: "reset@example.com"}))
	assert.ErrorIs(t,
		initialize.Execute(ctx, auth.InitializePasswordResetMessage{Email: "ghost@example.com"}),
		auth.ErrCredentialNotFound,
	)
	assert.ErrorIs(t,
		initialize.Execute(ctx, auth.InitializePasswordResetMessage{Email: "reset@example.com"}),
		auth.ErrResendThrottled,
	)

	sent := f.mailer.Last()
	require.Equal(t, auth.PurposePasswordReset, sent.Purpose)

	var res auth.VerifyResult
	err = auth.NewAccountVerificationHandler(f.workflow).Verify(ctx, auth.VerifyCodeMessage{
		Email:      "reset@example.com",
		Code:       sent.Code,
		OnResponse: func(r *auth.VerifyResult) { res = *r },
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.EmailToken)

	finalize := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens, f.opts...)

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMessage{EmailToken: "bogus", NewPassword: "brand-new"})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	require.NoError(t, finalize.Execute(ctx, auth.FinalizePasswordResetMessage{
		EmailToken:  res.EmailToken,
		NewPassword: "brand-new",
	}))

	stored, err := f.repo.Credentials().GetByUserID(ctx, 11)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken, "reset ends every session")

	_, err = f.login(t, "user11", "brand-new")
	assert.NoError(t, err)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	f := newCommandFixture(t)
	seedCredential(t, f.repo, 12, "late@example.com", "old-password", true)

	token, err := f.tokens.IssueEmailToken("late@example.com")
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	err = auth.NewFinalizePasswordResetHandler(f.repo, f.tokens, f.opts...).Execute(context.Background(),
		auth.FinalizePasswordResetMessage{EmailToken: token, NewPassword: "brand-new"})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRegisterAndDeleteCredential(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()

	register := auth.NewRegisterCredentialHandler(f.repo, f.workflow, f.opts...)

	var created *auth.CredentialRecord
	require.NoError(t, register.Execute(ctx, auth.RegisterCredentialMessage{
		UserID:     21,
		Email:      "someone@example.com",
		Password:   "pw-pw-pw",
		OnResponse: func(r *auth.CredentialRecord) { created = r },
	}))
	require.NotNil(t, created)
	assert.Equal(t, "someone", created.LoginID)
	assert.True(t, created.HasCode())

	sent := f.mailer.Last()
	assert.Equal(t, "someone@example.com", sent.Email)
	assert.Equal(t, auth.PurposeSignUp, sent.Purpose)

	err := register.Execute(ctx, auth.RegisterCredentialMessage{UserID: 21, Email: "someone@example.com", Password: "x"})
	assert.ErrorIs(t, err, auth.ErrCredentialExists)

	err = register.Execute(ctx, auth.RegisterCredentialMessage{UserID: 22, Email: "not-an-email"})
	assert.True(t, auth.IsRichError(err, auth.TextCodeInvalidPayload))

	var explicit *auth.CredentialRecord
	require.NoError(t, register.Execute(ctx, auth.RegisterCredentialMessage{
		UserID:     23,
		LoginID:    "  picked-name ",
		Email:      "other@example.com",
		Password:   "pw-pw-pw",
		OnResponse: func(r *auth.CredentialRecord) { explicit = r },
	}))
	require.NotNil(t, explicit)
	assert.Equal(t, "picked-name", explicit.LoginID)

	_, err = f.login(t, "someone", "pw-pw-pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "sign-up must be verified first")

	_, err = f.workflow.Verify(ctx, "someone@example.com", sent.Code)
	require.NoError(t, err)
	_, err = f.login(t, "someone", "pw-pw-pw")
	require.NoError(t, err)

	remove := auth.NewDeleteCredentialHandler(f.repo, f.opts...)
	require.NoError(t, remove.Execute(ctx, auth.DeleteCredentialMessage{UserID: 21}))
	require.NoError(t, remove.Execute(ctx, auth.DeleteCredentialMessage{UserID: 21}))

	_, err = f.repo.Credentials().GetByUserID(ctx, 21)
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)
}

func TestCommandsRejectCancelledContext(t *testing.T) {
	f := newCommandFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := auth.NewLoginHandler(f.repo, f.tokens, f.opts...).Execute(ctx, auth.LoginMessage{LoginID: "a", Password: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
