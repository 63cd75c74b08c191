package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CodeLength = 6

	DefaultCodeTTL        = 10 * time.Minute
	DefaultResendInterval = time.Minute
)

var codeSpace = big.NewInt(1_000_000)

// CodeGenerator returns a fresh verification code
type CodeGenerator func() (string, error)

// GenerateCode draws a uniform 6 digit code, leading zeros included
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func codesEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// CodeState is where a record sits in the verification lifecycle
type CodeState string

const (
	CodeStateNone    CodeState = "NO_CODE"
	CodeStatePending CodeState = "CODE_PENDING"
	CodeStateExpired CodeState = "EXPIRED"
)

// CodeStateOf classifies the record at now. Consumed codes are cleared,
// so they read as CodeStateNone.
func CodeStateOf(record *CredentialRecord, now time.Time, ttl time.Duration) CodeState {
	if record == nil || !record.HasCode() {
		return CodeStateNone
	}
	if record.CodeAge(now) > ttl {
		return CodeStateExpired
	}
	return CodeStatePending
}
