package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	MinSigningSecretLength = 32

	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultEmailTokenTTL   = 10 * time.Minute
)

// TokenServiceImpl implements the TokenService interface with HS256
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	emailTTL   time.Duration
	clock      Clock
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

type TokenServiceOption func(*TokenServiceImpl)

func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.issuer = issuer
	}
}

func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.clock = clock
		}
	}
}

func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// WithTokenTTLs overrides the default lifetimes. Zero keeps the default.
func WithTokenTTLs(access, refresh, email time.Duration) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if access > 0 {
			ts.accessTTL = access
		}
		if refresh > 0 {
			ts.refreshTTL = refresh
		}
		if email > 0 {
			ts.emailTTL = email
		}
	}
}

// NewTokenService creates a new TokenService instance. The secret is
// checked here so a bad deployment fails at startup.
func NewTokenService(secret []byte, opts ...TokenServiceOption) (*TokenServiceImpl, error) {
	if err := ValidateSigningSecret(secret); err != nil {
		return nil, err
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	ts := &TokenServiceImpl{
		signingKey: key,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		emailTTL:   DefaultEmailTokenTTL,
		clock:      SystemClock(),
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// ValidateSigningSecret enforces the minimum secret length
func ValidateSigningSecret(secret []byte) error {
	if len(secret) == 0 {
		return ErrSigningSecretMissing
	}
	if len(secret) < MinSigningSecretLength {
		return ErrSigningSecretTooShort
	}
	return nil
}

func (ts *TokenServiceImpl) IssueAccessToken(identity int64) (string, error) {
	return ts.issue(strconv.FormatInt(identity, 10), TokenKindAccess, ts.accessTTL)
}

func (ts *TokenServiceImpl) IssueRefreshToken(identity int64) (string, error) {
	return ts.issue(strconv.FormatInt(identity, 10), TokenKindRefresh, ts.refreshTTL)
}

// IssueEmailToken signs a short lived token proving the holder passed
// code verification for email.
func (ts *TokenServiceImpl) IssueEmailToken(email string) (string, error) {
	if email == "" {
		return "", errors.New("email must not be empty", errors.CategoryValidation)
	}
	return ts.issue(email, TokenKindEmailVerification, ts.emailTTL)
}

func (ts *TokenServiceImpl) issue(subject string, kind TokenKind, ttl time.Duration) (string, error) {
	now := ts.clock.Now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: kind,
	}
	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses a token and checks it is of the expected kind. It
// never returns an error, the failure is part of the result.
func (ts *TokenServiceImpl) Validate(tokenString string, kind TokenKind) TokenResult {
	if tokenString == "" {
		return TokenResult{Failure: FailureMissing}
	}

	claims, failure := ts.parse(tokenString)
	if failure == FailureMalformed || failure == FailureSignature {
		return TokenResult{Failure: failure}
	}

	if claims.Type != kind {
		ts.logger.Debug("token type mismatch: want %s got %s", kind, claims.Type)
		return TokenResult{Failure: FailureWrongType}
	}

	return TokenResult{Claims: claims, Failure: failure}
}

// IsExpired is true unless the token is ours and its expiry is still in
// the future. Unparseable tokens count as expired.
func (ts *TokenServiceImpl) IsExpired(tokenString string) bool {
	if tokenString == "" {
		return true
	}
	_, failure := ts.parse(tokenString)
	return failure != FailureNone
}

// SubjectOf returns the subject of a valid token of the given kind
func (ts *TokenServiceImpl) SubjectOf(tokenString string, kind TokenKind) (string, bool) {
	return ts.Validate(tokenString, kind).Subject()
}

// IdentityOf is SubjectOf for the numeric subjects of access and refresh
// tokens
func (ts *TokenServiceImpl) IdentityOf(tokenString string, kind TokenKind) (int64, bool) {
	return ts.Validate(tokenString, kind).Identity()
}

func (ts *TokenServiceImpl) parse(tokenString string) (*TokenClaims, TokenFailure) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	}, parserOptions...)

	switch {
	case err == nil && token != nil && token.Valid:
		return claims, FailureNone
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, FailureExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, FailureSignature
	default:
		return nil, FailureMalformed
	}
}
