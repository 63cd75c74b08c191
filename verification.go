package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CodeDispatcher delivers a code out of band. Implementations must not
// block the caller.
type CodeDispatcher interface {
	SendCode(email, code string, purpose Purpose)
}

// VerifyResult is what a successful code consumption produced. EmailToken
// is set only for PASSWORD_RESET codes.
type VerifyResult struct {
	UserID     int64
	Purpose    Purpose
	EmailToken string
}

// VerificationWorkflow owns the one-time code lifecycle of a
// credential record.
type VerificationWorkflow struct {
	repo           RepositoryManager
	tokens         TokenService
	mailer         CodeDispatcher
	clock          Clock
	logger         Logger
	activity       ActivitySink
	generate       CodeGenerator
	codeTTL        time.Duration
	resendInterval time.Duration
}

type WorkflowOption func(*VerificationWorkflow)

func WithWorkflowClock(clock Clock) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithWorkflowActivity(sink ActivitySink) WorkflowOption {
	return func(w *VerificationWorkflow) {
		w.activity = normalizeActivitySink(sink)
	}
}

func WithCodeGenerator(gen CodeGenerator) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if gen != nil {
			w.generate = gen
		}
	}
}

// WithCodeTimings overrides the code lifetime and the resend interval.
// Zero keeps the default.
func WithCodeTimings(ttl, resend time.Duration) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if ttl > 0 {
			w.codeTTL = ttl
		}
		if resend > 0 {
			w.resendInterval = resend
		}
	}
}

func NewVerificationWorkflow(repo RepositoryManager, tokens TokenService, mailer CodeDispatcher, opts ...WorkflowOption) *VerificationWorkflow {
	w := &VerificationWorkflow{
		repo:           repo,
		tokens:         tokens,
		mailer:         mailer,
		clock:          SystemClock(),
		logger:         defLogger{},
		activity:       noopActivitySink{},
		generate:       GenerateCode,
		codeTTL:        DefaultCodeTTL,
		resendInterval: DefaultResendInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *VerificationWorkflow) CodeTTL() time.Duration {
	return w.codeTTL
}

// IssueCodeTx stamps a fresh code on record inside tx. The caller sends
// it with Dispatch once the transaction committed.
func (w *VerificationWorkflow) IssueCodeTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, purpose Purpose) (string, error) {
	if !purpose.Valid() {
		return "", goerrors.New("unknown verification purpose", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"purpose": string(purpose)})
	}

	code, err := w.generate()
	if err != nil {
		return "", err
	}

	record.SetCode(code, purpose, w.clock.Now())
	if err := w.repo.Credentials().SaveCodeTx(ctx, tx, record); err != nil {
		return "", err
	}
	return code, nil
}

// Dispatch hands the code to the mailer and records the issuance
func (w *VerificationWorkflow) Dispatch(ctx context.Context, record *CredentialRecord, code string, purpose Purpose) {
	if w.mailer != nil {
		w.mailer.SendCode(record.Email, code, purpose)
	}
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventCodeIssued,
		UserID:    record.UserID,
		Email:     record.Email,
		Purpose:   purpose,
	})
}

// IssueCode starts a new code for the account behind email. It follows
// the resend throttle so it cannot be used to flood a mailbox.
func (w *VerificationWorkflow) IssueCode(ctx context.Context, email string, purpose Purpose) error {
	return w.reissue(ctx, email, func(*CredentialRecord) Purpose { return purpose })
}

// Resend replaces the pending code with a fresh one of the same purpose.
func (w *VerificationWorkflow) Resend(ctx context.Context, email string) error {
	return w.reissue(ctx, email, resendPurpose)
}

func resendPurpose(record *CredentialRecord) Purpose {
	if !record.IsVerified {
		return PurposeSignUp
	}
	if record.Purpose != nil && record.Purpose.Valid() {
		return *record.Purpose
	}
	return PurposePasswordReset
}

func (w *VerificationWorkflow) reissue(ctx context.Context, email string, pick func(*CredentialRecord) Purpose) error {
	var (
		record  *CredentialRecord
		code    string
		purpose Purpose
	)

	err := w.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = w.repo.Credentials().GetByEmailTx(ctx, tx, email)
		if err != nil {
			return err
		}

		if record.HasCode() && record.CodeAge(w.clock.Now()) < w.resendInterval {
			return ErrResendThrottled
		}

		purpose = pick(record)
		// an unverified sign-up has no password worth resetting, and a
		// reset code would hide it from the reaper
		if purpose == PurposePasswordReset && !record.IsVerified {
			return ErrCredentialNotFound
		}
		code, err = w.IssueCodeTx(ctx, tx, record, purpose)
		return err
	})
	if err != nil {
		return err
	}

	w.Dispatch(ctx, record, code, purpose)
	return nil
}

// Verify consumes code for email. Unknown email, wrong code and expired
// code all fail with ErrInvalidVerificationCode.
func (w *VerificationWorkflow) Verify(ctx context.Context, email, code string) (VerifyResult, error) {
	code = strings.TrimSpace(code)
	if len(code) != CodeLength {
		return VerifyResult{}, ErrInvalidVerificationCode
	}

	var result VerifyResult

	err := w.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := w.repo.Credentials().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if goerrors.Is(err, ErrCredentialNotFound) {
				return ErrInvalidVerificationCode
			}
			return err
		}

		if CodeStateOf(record, w.clock.Now(), w.codeTTL) != CodeStatePending {
			return ErrInvalidVerificationCode
		}

		stored := *record.VerificationCode
		if !codesEqual(stored, code) {
			return ErrInvalidVerificationCode
		}

		purpose := *record.Purpose
		if purpose == PurposeSignUp {
			record.MarkVerified()
		} else {
			record.ClearCode()
		}

		ok, err := w.repo.Credentials().ConsumeCodeTx(ctx, tx, record, stored)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidVerificationCode
		}

		result = VerifyResult{UserID: record.UserID, Purpose: purpose}
		return nil
	})
	if err != nil {
		if goerrors.Is(err, ErrInvalidVerificationCode) {
			w.record(ctx, ActivityEvent{EventType: ActivityEventCodeRejected, Email: normalizeEmail(email)})
		}
		return VerifyResult{}, err
	}

	if result.Purpose == PurposePasswordReset {
		token, err := w.tokens.IssueEmailToken(normalizeEmail(email))
		if err != nil {
			return VerifyResult{}, err
		}
		result.EmailToken = token
	}

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventCodeVerified,
		UserID:    result.UserID,
		Email:     normalizeEmail(email),
		Purpose:   result.Purpose,
	})

	return result, nil
}

func (w *VerificationWorkflow) record(ctx context.Context, evt ActivityEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = w.clock.Now()
	}
	if err := w.activity.Record(ctx, evt); err != nil {
		w.logger.Warn("activity sink failed for %s: %v", evt.EventType, err)
	}
}
