package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	UserID          int64  `json:"-"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (m ChangePasswordMessage) Type() string { return "credential.password_change" }

func (m ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.UserID, validation.Required),
		validation.Field(&m.CurrentPassword, validation.Required),
		validation.Field(&m.NewPassword, validation.Required, validation.Length(1, 72)),
	)
}

// ChangePasswordHandler replaces the hash of an authenticated identity
// after the current password matched again. Issued tokens stay valid.
type ChangePasswordHandler struct {
	handlerBase
}

func NewChangePasswordHandler(repo RepositoryManager, opts ...HandlerOption) *ChangePasswordHandler {
	return &ChangePasswordHandler{handlerBase: newHandlerBase(repo, nil, opts...)}
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, msg ChangePasswordMessage) error {
	return guard(ctx, "password change", func(ctx context.Context) error {
		return h.execute(ctx, msg)
	})
}

func (h *ChangePasswordHandler) execute(ctx context.Context, msg ChangePasswordMessage) error {
	if err := msg.Validate(); err != nil {
		return invalidPayload(err)
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.repo.Credentials().GetByUserIDTx(ctx, tx, msg.UserID)
		if err != nil {
			return err
		}

		if err := h.hasher.ComparePasswordAndHash(msg.CurrentPassword, record.PasswordHash); err != nil {
			return ErrWrongCurrentPassword
		}

		hash, err := h.hasher.HashPassword(msg.NewPassword)
		if err != nil {
			return richOrWrap(err, "failed to hash password")
		}

		record.PasswordHash = hash
		return h.repo.Credentials().UpdatePasswordTx(ctx, tx, record)
	})
	if err != nil {
		return richOrWrap(err, "password change transaction failed")
	}

	h.record(ctx, ActivityEvent{EventType: ActivityEventPasswordChanged, UserID: msg.UserID})
	return nil
}
