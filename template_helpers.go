package auth

import (
	"fmt"
	"time"
)

// TemplateHelpers returns the bindings the verification email templates
// render with.
//
// In templates, you can then use:
//
//	{{ code }}
//	{{ expires_minutes }}
//	{% if purpose == "PASSWORD_RESET" %}
func TemplateHelpers(code string, purpose Purpose, ttl time.Duration) map[string]any {
	return map[string]any{
		"code":            code,
		"purpose":         string(purpose),
		"subject":         EmailSubject(purpose),
		"heading":         emailHeading(purpose),
		"intro":           emailIntro(purpose),
		"expires_minutes": int(ttl / time.Minute),
	}
}

// EmailSubject is the subject line for a code of the given purpose
func EmailSubject(purpose Purpose) string {
	if purpose == PurposePasswordReset {
		return "Your password reset code"
	}
	return "Verify your email address"
}

func emailHeading(purpose Purpose) string {
	if purpose == PurposePasswordReset {
		return "Reset your password"
	}
	return "Welcome!"
}

func emailIntro(purpose Purpose) string {
	if purpose == PurposePasswordReset {
		return "Use the code below to reset your password."
	}
	return "Use the code below to confirm your email address."
}

// PlainTextEmail is the fallback body used when the HTML message could
// not be rendered or delivered.
func PlainTextEmail(code string, purpose Purpose, ttl time.Duration) string {
	return fmt.Sprintf("%s\n\n%s\n\n    %s\n\nThis code expires in %d minutes.\n",
		emailHeading(purpose), emailIntro(purpose), code, int(ttl/time.Minute))
}
