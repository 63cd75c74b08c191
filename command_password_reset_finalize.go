package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	EmailToken  string `json:"-"`
	NewPassword string `json:"newPassword" example:"some_secret_word" doc:"Password"`
}

func (m FinalizePasswordResetMessage) Type() string { return "credential.password_reset_finalize" }

func (m FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.NewPassword, validation.Required, validation.Length(1, 72)),
	)
}

// FinalizePasswordResetHandler sets a new password for the email named
// by a valid email token and ends every session of that account.
type FinalizePasswordResetHandler struct {
	handlerBase
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens TokenService, opts ...HandlerOption) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{handlerBase: newHandlerBase(repo, tokens, opts...)}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, msg FinalizePasswordResetMessage) error {
	return guard(ctx, "password reset finalization", func(ctx context.Context) error {
		return h.execute(ctx, msg)
	})
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, msg FinalizePasswordResetMessage) error {
	result := h.tokens.Validate(msg.EmailToken, TokenKindEmailVerification)
	if !result.Valid() {
		return ErrTokenInvalid
	}
	email, _ := result.Subject()

	if err := msg.Validate(); err != nil {
		return invalidPayload(err)
	}

	var identity int64

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.repo.Credentials().GetByEmailTx(ctx, tx, email)
		if err != nil {
			return err
		}

		hash, err := h.hasher.HashPassword(msg.NewPassword)
		if err != nil {
			return richOrWrap(err, "failed to hash password")
		}

		record.PasswordHash = hash
		record.ClearTokens()
		identity = record.UserID
		return h.repo.Credentials().UpdatePasswordTx(ctx, tx, record)
	})
	if err != nil {
		return richOrWrap(err, "failed to finalize password reset")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    identity,
		Email:     email,
	})
	return nil
}
