package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenMissing       = "TOKEN_MISSING"
	TextCodeTokenMismatch      = "TOKEN_MISMATCH"
	TextCodeInvalidCode        = "INVALID_VERIFICATION_CODE"
	TextCodeResendThrottled    = "RESEND_THROTTLED"
	TextCodeCredentialNotFound = "CREDENTIAL_NOT_FOUND"
	TextCodeCredentialExists   = "CREDENTIAL_EXISTS"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeWrongPassword      = "WRONG_CURRENT_PASSWORD"
	TextCodeSecretMissing      = "SIGNING_SECRET_MISSING"
	TextCodeSecretTooShort     = "SIGNING_SECRET_TOO_SHORT"
	TextCodeInvalidPayload     = "INVALID_PAYLOAD"
)

// ErrInvalidCredentials is the single login failure. It does not say
// which check failed.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid covers bad signature, malformed payload, wrong type
// and expiry.
var ErrTokenInvalid = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMissing = goerrors.New("refresh token is required", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenMismatch is returned when a refresh token is valid but no
// longer the one on file.
var ErrTokenMismatch = goerrors.New("refresh token does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidVerificationCode is shared by wrong, expired and unknown
// codes.
var ErrInvalidVerificationCode = goerrors.New("invalid or expired verification code", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidCode).
	WithCode(goerrors.CodeBadRequest)

var ErrResendThrottled = goerrors.New("try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeResendThrottled).
	WithCode(http.StatusTooManyRequests)

var ErrCredentialNotFound = goerrors.New("credential not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCredentialNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrCredentialExists = goerrors.New("credential already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeCredentialExists).
	WithCode(goerrors.CodeConflict)

var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is what the hasher returns on a
// mismatch.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrWrongCurrentPassword is returned by password change only.
var ErrWrongCurrentPassword = goerrors.New("current password incorrect", goerrors.CategoryBadInput).
	WithTextCode(TextCodeWrongPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrSigningSecretMissing = goerrors.New("signing secret is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeSecretMissing)

var ErrSigningSecretTooShort = goerrors.New("signing secret must be at least 32 bytes", goerrors.CategoryValidation).
	WithTextCode(TextCodeSecretTooShort)

// IsRichError reports whether err carries the given text code
func IsRichError(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

const TextCodeIdentityMissing = "IDENTITY_MISSING"

// ErrIdentityMissing is returned when a request that must come through
// the gateway carries no usable X-User-Id.
var ErrIdentityMissing = goerrors.New("authenticated identity required", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityMissing).
	WithCode(goerrors.CodeUnauthorized)
