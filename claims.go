package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind is carried in the "type" claim
type TokenKind string

const (
	TokenKindAccess            TokenKind = "access"
	TokenKindRefresh           TokenKind = "refresh"
	TokenKindEmailVerification TokenKind = "email-verification"
)

// TokenClaims is the payload of every token we sign
type TokenClaims struct {
	jwt.RegisteredClaims
	Type TokenKind `json:"type,omitempty"`
}

func (c *TokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Identity parses the subject as a numeric user identity
func (c *TokenClaims) Identity() (int64, bool) {
	id, err := strconv.ParseInt(c.RegisteredClaims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// TokenFailure says why a token was rejected. Callers that only care
// about validity use TokenResult.Valid.
type TokenFailure int

const (
	FailureNone TokenFailure = iota
	FailureMissing
	FailureMalformed
	FailureSignature
	FailureWrongType
	FailureExpired
)

func (f TokenFailure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureMissing:
		return "missing"
	case FailureMalformed:
		return "malformed"
	case FailureSignature:
		return "signature"
	case FailureWrongType:
		return "wrong_type"
	case FailureExpired:
		return "expired"
	}
	return "unknown"
}

// TokenResult is the outcome of parsing a token. Claims are set for a
// valid token and for an expired one whose signature checked out.
type TokenResult struct {
	Claims  *TokenClaims
	Failure TokenFailure
}

func (r TokenResult) Valid() bool {
	return r.Failure == FailureNone && r.Claims != nil
}

// Subject returns the subject of a valid token
func (r TokenResult) Subject() (string, bool) {
	if !r.Valid() {
		return "", false
	}
	return r.Claims.Subject(), true
}

// Identity returns the numeric subject of a valid token
func (r TokenResult) Identity() (int64, bool) {
	if !r.Valid() {
		return 0, false
	}
	return r.Claims.Identity()
}

// SignedIdentity returns the subject of a token we signed even if it
// has expired. Logout uses it to end sessions with stale cookies.
func (r TokenResult) SignedIdentity() (int64, bool) {
	if r.Claims == nil {
		return 0, false
	}
	if r.Failure != FailureNone && r.Failure != FailureExpired {
		return 0, false
	}
	return r.Claims.Identity()
}

// Err maps the result to the rich error handed to HTTP callers
func (r TokenResult) Err() error {
	if r.Valid() {
		return nil
	}
	if r.Failure == FailureMissing {
		return ErrTokenMissing
	}
	return ErrTokenInvalid
}
