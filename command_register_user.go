package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterCredentialMessage provisions credentials for an identity the
// profile service just created. Exactly one of Password and
// PasswordHash is expected; a hash is stored as is. An empty LoginID is
// taken from the local part of Email.
type RegisterCredentialMessage struct {
	UserID       int64                          `json:"userId"`
	LoginID      string                         `json:"loginId"`
	Email        string                         `json:"email"`
	Password     string                         `json:"password,omitempty"`
	PasswordHash string                         `json:"passwordHash,omitempty"`
	OnResponse   func(record *CredentialRecord) `json:"-"`
}

func (e RegisterCredentialMessage) Type() string { return "credential.register" }

func (e RegisterCredentialMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.UserID, validation.Required, validation.Min(int64(1))),
		validation.Field(&e.LoginID,
			validation.By(requiredUnless(getLoginID("", e.Email) != "")),
			validation.Length(1, 255),
		),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&e.Password, validation.By(requiredUnless(e.PasswordHash != ""))),
	)
}

func requiredUnless(present bool) validation.RuleFunc {
	return func(value any) error {
		if present {
			return nil
		}
		return validation.Required.Validate(value)
	}
}

// RegisterCredentialHandler creates the credential record and issues the
// SIGN_UP code.
type RegisterCredentialHandler struct {
	handlerBase
	workflow *VerificationWorkflow
}

func NewRegisterCredentialHandler(repo RepositoryManager, workflow *VerificationWorkflow, opts ...HandlerOption) *RegisterCredentialHandler {
	return &RegisterCredentialHandler{
		handlerBase: newHandlerBase(repo, nil, opts...),
		workflow:    workflow,
	}
}

func (h *RegisterCredentialHandler) Execute(ctx context.Context, event RegisterCredentialMessage) error {
	return guard(ctx, "credential registration", func(ctx context.Context) error {
		return h.execute(ctx, event)
	})
}

func (h *RegisterCredentialHandler) execute(ctx context.Context, event RegisterCredentialMessage) error {
	if err := event.Validate(); err != nil {
		return invalidPayload(err)
	}

	hash := event.PasswordHash
	if hash == "" {
		var err error
		if hash, err = h.hasher.HashPassword(event.Password); err != nil {
			return richOrWrap(err, "failed to hash password")
		}
	}

	record := &CredentialRecord{
		UserID:       event.UserID,
		LoginID:      getLoginID(event.LoginID, event.Email),
		Email:        event.Email,
		PasswordHash: hash,
	}

	var code string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Credentials().ProvisionTx(ctx, tx, record)
		if err != nil {
			if IsRichError(err, TextCodeCredentialExists) {
				return err
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create credential")
		}
		record = created

		code, err = h.workflow.IssueCodeTx(ctx, tx, record, PurposeSignUp)
		return err
	})
	if err != nil {
		return richOrWrap(err, "credential registration transaction failed")
	}

	h.workflow.Dispatch(ctx, record, code, PurposeSignUp)
	h.record(ctx, ActivityEvent{
		EventType: ActivityEventCredentialCreated,
		UserID:    record.UserID,
		Email:     record.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(record)
	}
	return nil
}

func getLoginID(loginID, email string) string {
	if loginID = strings.TrimSpace(loginID); loginID != "" {
		return loginID
	}

	if strings.Contains(email, "@") {
		loginID = strings.Split(email, "@")[0]
	}

	return loginID
}
