package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCode struct {
	Email   string
	Code    string
	Purpose auth.Purpose
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentCode
}

func (d *recordingDispatcher) SendCode(email, code string, purpose auth.Purpose) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCode{Email: email, Code: code, Purpose: purpose})
}

func (d *recordingDispatcher) Last() sentCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return sentCode{}
	}
	return d.sent[len(d.sent)-1]
}

func (d *recordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// sequenceCodes hands out 100001, 100002, ... so tests can tell codes apart
func sequenceCodes() auth.CodeGenerator {
	var mu sync.Mutex
	n := 100000
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n), nil
	}
}

type workflowFixture struct {
	clock    *testClock
	repo     auth.RepositoryManager
	tokens   *auth.TokenServiceImpl
	mailer   *recordingDispatcher
	workflow *auth.VerificationWorkflow
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	clock := newTestClock()
	repo := auth.NewRepositoryManager(newTestDB(t), auth.WithCredentialsClock(clock))
	tokens := newTestTokenService(clock)
	mailer := &recordingDispatcher{}
	workflow := auth.NewVerificationWorkflow(repo, tokens, mailer,
		auth.WithWorkflowClock(clock),
		auth.WithWorkflowLogger(nopLogger{}),
		auth.WithCodeGenerator(sequenceCodes()),
	)

	return &workflowFixture{
		clock:    clock,
		repo:     repo,
		tokens:   tokens,
		mailer:   mailer,
		workflow: workflow,
	}
}

func TestGenerateCode(t *testing.T) {
	for range 200 {
		code, err := auth.GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, auth.CodeLength)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "code %q has a non digit", code)
		}
	}
}

func TestVerify_SignUpCodeWithinWindow(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	seedCredential(t, f.repo, 1, "new@example.com", "pw", false)

	require.NoError(t, f.workflow.IssueCode(ctx, "new@example.com", auth.PurposeSignUp))
	sent := f.mailer.Last()
	assert.Equal(t, auth.PurposeSignUp, sent.Purpose)

	f.clock.Advance(10 * time.Minute)

	res, err := f.workflow.Verify(ctx, "new@example.com", sent.Code)
	require.NoError(t, err)
	assert.Equal(t, auth.PurposeSignUp, res.Purpose)
	assert.Empty(t, res.EmailToken)

	stored, err := f.repo.Credentials().GetByUserID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.False(t, stored.HasCode())

	_, err = f.workflow.Verify(ctx, "new@example.com", sent.Code)
	assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode, "a consumed code cannot be reused")
}

func TestVerify_FailuresLookTheSame(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	seedCredential(t, f.repo, 1, "new@example.com", "pw", false)
	require.NoError(t, f.workflow.IssueCode(ctx, "new@example.com", auth.PurposeSignUp))
	code := f.mailer.Last().Code

	t.Run("wrong code", func(t *testing.T) {
		_, err := f.workflow.Verify(ctx, "new@example.com", "999999")
		assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := f.workflow.Verify(ctx, "nobody@example.com", code)
		assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode)
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := f.workflow.Verify(ctx, "new@example.com", "12ab")
		assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode)
	})

	t.Run("expired code", func(t *testing.T) {
		f.clock.Advance(10*time.Minute + time.Second)
		_, err := f.workflow.Verify(ctx, "new@example.com", code)
		assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode)

		stored, err := f.repo.Credentials().GetByUserID(ctx, 1)
		require.NoError(t, err)
		assert.False(t, stored.IsVerified)
	})
}

func TestVerify_PasswordResetReturnsEmailToken(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	seedCredential(t, f.repo, 3, "reset@example.com", "pw", true)

	require.NoError(t, f.workflow.IssueCode(ctx, "reset@example.com", auth.PurposePasswordReset))
	sent := f.mailer.Last()

	res, err := f.workflow.Verify(ctx, "reset@example.com", sent.Code)
	require.NoError(t, err)
	assert.Equal(t, auth.PurposePasswordReset, res.Purpose)
	require.NotEmpty(t, res.EmailToken)

	subject, ok := f.tokens.SubjectOf(res.EmailToken, auth.TokenKindEmailVerification)
	require.True(t, ok)
	assert.Equal(t, "reset@example.com", subject)

	stored, err := f.repo.Credentials().GetByUserID(ctx, 3)
	require.NoError(t, err)
	assert.False(t, stored.HasCode())
}

func TestResend_ThrottleAndInvalidateOldCode(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	seedCredential(t, f.repo, 1, "new@example.com", "pw", false)

	require.NoError(t, f.workflow.IssueCode(ctx, "new@example.com", auth.PurposeSignUp))
	first := f.mailer.Last()

	f.clock.Advance(30 * time.Second)
	err := f.workflow.Resend(ctx, "new@example.com")
	assert.ErrorIs(t, err, auth.ErrResendThrottled)
	assert.Equal(t, 1, f.mailer.Count())

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.workflow.Resend(ctx, "new@example.com"))
	second := f.mailer.Last()
	assert.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, auth.PurposeSignUp, second.Purpose)

	_, err = f.workflow.Verify(ctx, "new@example.com", first.Code)
	assert.ErrorIs(t, err, auth.ErrInvalidVerificationCode)

	_, err = f.workflow.Verify(ctx, "new@example.com", second.Code)
	assert.NoError(t, err)
}

func TestResend_UnknownEmail(t *testing.T) {
	f := newWorkflowFixture(t)
	err := f.workflow.Resend(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)
}

func TestResend_WithoutStoredPurpose(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	seedCredential(t, f.repo, 1, "pending@example.com", "pw", false)
	seedCredential(t, f.repo, 2, "done@example.com", "pw", true)

	require.NoError(t, f.workflow.Resend(ctx, "pending@example.com"))
	assert.Equal(t, auth.PurposeSignUp, f.mailer.Last().Purpose)

	require.NoError(t, f.workflow.Resend(ctx, "done@example.com"))
	assert.Equal(t, auth.PurposePasswordReset, f.mailer.Last().Purpose)
}

func TestCodeStateOf(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &auth.CredentialRecord{}
	assert.Equal(t, auth.CodeStateNone, auth.CodeStateOf(record, now, auth.DefaultCodeTTL))

	record.SetCode("123456", auth.PurposeSignUp, now)
	assert.Equal(t, auth.CodeStatePending, auth.CodeStateOf(record, now.Add(auth.DefaultCodeTTL), auth.DefaultCodeTTL))
	assert.Equal(t, auth.CodeStateExpired, auth.CodeStateOf(record, now.Add(auth.DefaultCodeTTL+time.Nanosecond), auth.DefaultCodeTTL))

	record.MarkVerified()
	assert.Equal(t, auth.CodeStateNone, auth.CodeStateOf(record, now, auth.DefaultCodeTTL))
}
