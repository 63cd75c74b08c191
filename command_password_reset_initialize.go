package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (m InitializePasswordResetMessage) Type() string { return "credential.password_reset" }

func (m InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetHandler sends a PASSWORD_RESET code to the
// account behind an email.
type InitializePasswordResetHandler struct {
	workflow *VerificationWorkflow
}

func NewInitializePasswordResetHandler(workflow *VerificationWorkflow) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{workflow: workflow}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, msg InitializePasswordResetMessage) error {
	return guard(ctx, "password reset initialization", func(ctx context.Context) error {
		if err := msg.Validate(); err != nil {
			return invalidPayload(err)
		}
		return richOrWrap(
			h.workflow.IssueCode(ctx, msg.Email, PurposePasswordReset),
			"failed to initialize password reset",
		)
	})
}
