package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/assert"
)

func TestTemplateHelpers(t *testing.T) {
	helpers := auth.TemplateHelpers("123456", auth.PurposeSignUp, 10*time.Minute)

	assert.Equal(t, "123456", helpers["code"])
	assert.Equal(t, string(auth.PurposeSignUp), helpers["purpose"])
	assert.Equal(t, 10, helpers["expires_minutes"])
	assert.Equal(t, "Verify your email address", helpers["subject"])
	assert.NotEmpty(t, helpers["heading"])
	assert.NotEmpty(t, helpers["intro"])
}

func TestEmailSubject(t *testing.T) {
	assert.Equal(t, "Your password reset code", auth.EmailSubject(auth.PurposePasswordReset))
	assert.Equal(t, "Verify your email address", auth.EmailSubject(auth.PurposeSignUp))
}

func TestPlainTextEmail(t *testing.T) {
	body := auth.PlainTextEmail("654321", auth.PurposePasswordReset, 10*time.Minute)

	assert.Contains(t, body, "654321")
	assert.Contains(t, body, "Reset your password")
	assert.Contains(t, body, "expires in 10 minutes")
}
