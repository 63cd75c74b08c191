package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Purpose tags a verification code with the flow it belongs to
type Purpose string

const (
	PurposeSignUp        Purpose = "SIGN_UP_VERIFICATION"
	PurposePasswordReset Purpose = "PASSWORD_RESET"
)

func (p Purpose) Valid() bool {
	return p == PurposeSignUp || p == PurposePasswordReset
}

// CredentialRecord is the credential state of one user identity.
// UserID is the identity shared with the profile service.
type CredentialRecord struct {
	bun.BaseModel    `bun:"table:credentials,alias:crd"`
	ID               uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	UserID           int64      `bun:"user_id,notnull,unique" json:"user_id"`
	LoginID          string     `bun:"login_id,notnull,unique" json:"login_id"`
	Email            string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash     string     `bun:"password_hash,notnull" json:"-"`
	IsVerified       bool       `bun:"is_verified,notnull" json:"is_verified"`
	AccessToken      *string    `bun:"access_token" json:"-"`
	RefreshToken     *string    `bun:"refresh_token" json:"-"`
	TokenIssuedAt    *time.Time `bun:"token_issued_at" json:"token_issued_at,omitempty"`
	VerificationCode *string    `bun:"verification_code" json:"-"`
	CodeGeneratedAt  *time.Time `bun:"code_generated_at" json:"code_generated_at,omitempty"`
	Purpose          *Purpose   `bun:"purpose" json:"purpose,omitempty"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// SetCode puts the record in the pending state. Code, timestamp and
// purpose always move together.
func (r *CredentialRecord) SetCode(code string, purpose Purpose, at time.Time) {
	r.VerificationCode = &code
	r.CodeGeneratedAt = &at
	r.Purpose = &purpose
}

func (r *CredentialRecord) ClearCode() {
	r.VerificationCode = nil
	r.CodeGeneratedAt = nil
	r.Purpose = nil
}

// HasCode reports whether a code was ever issued and not yet consumed
func (r *CredentialRecord) HasCode() bool {
	return r.VerificationCode != nil && r.CodeGeneratedAt != nil && r.Purpose != nil
}

// CodeAge is how long ago the pending code was generated
func (r *CredentialRecord) CodeAge(now time.Time) time.Duration {
	if r.CodeGeneratedAt == nil {
		return 0
	}
	return now.Sub(*r.CodeGeneratedAt)
}

func (r *CredentialRecord) SetTokens(access, refresh string, at time.Time) {
	r.AccessToken = &access
	r.RefreshToken = &refresh
	r.TokenIssuedAt = &at
}

func (r *CredentialRecord) ClearTokens() {
	r.AccessToken = nil
	r.RefreshToken = nil
	r.TokenIssuedAt = nil
}

// MarkVerified completes sign-up. Any pending sign-up code goes with it.
func (r *CredentialRecord) MarkVerified() {
	r.IsVerified = true
	if r.Purpose != nil && *r.Purpose == PurposeSignUp {
		r.ClearCode()
	}
}

// UnverifiedAccountsDeleted is the batch notification emitted by the
// reaper.
type UnverifiedAccountsDeleted struct {
	UserIDs      []int64   `json:"userIds"`
	DeletedCount int       `json:"deletedCount"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// TokenPair is what login and refresh hand back to the transport
type TokenPair struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
}
