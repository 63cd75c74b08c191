package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type VerifyCodeMessage struct {
	Email      string                  `json:"email"`
	Code       string                  `json:"code"`
	OnResponse func(res *VerifyResult) `json:"-"`
}

func (m VerifyCodeMessage) Type() string { return "credential.verify_code" }

func (m VerifyCodeMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
		validation.Field(&m.Code, validation.Required),
	)
}

type ResendCodeMessage struct {
	Email string `json:"email"`
}

func (m ResendCodeMessage) Type() string { return "credential.resend_code" }

func (m ResendCodeMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// AccountVerificationHandler runs code consumption and resend on top of
// the verification workflow.
type AccountVerificationHandler struct {
	workflow *VerificationWorkflow
}

func NewAccountVerificationHandler(workflow *VerificationWorkflow) *AccountVerificationHandler {
	return &AccountVerificationHandler{workflow: workflow}
}

func (h *AccountVerificationHandler) Verify(ctx context.Context, msg VerifyCodeMessage) error {
	return guard(ctx, "code verification", func(ctx context.Context) error {
		if err := msg.Validate(); err != nil {
			return invalidPayload(err)
		}

		res, err := h.workflow.Verify(ctx, msg.Email, msg.Code)
		if err != nil {
			return richOrWrap(err, "failed to verify code")
		}

		if msg.OnResponse != nil {
			msg.OnResponse(&res)
		}
		return nil
	})
}

func (h *AccountVerificationHandler) Resend(ctx context.Context, msg ResendCodeMessage) error {
	return guard(ctx, "code resend", func(ctx context.Context) error {
		if err := msg.Validate(); err != nil {
			return invalidPayload(err)
		}
		return richOrWrap(h.workflow.Resend(ctx, msg.Email), "failed to resend code")
	})
}
