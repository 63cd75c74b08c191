package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-authcore/middleware/edgeware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryAuthz).
			WithTextCode("CSRF_TOKEN_MISSING").
			WithCode(router.StatusForbidden)

	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
				WithTextCode("CSRF_TOKEN_MISMATCH").
				WithCode(router.StatusForbidden)

	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
			WithTextCode("CSRF_TOKEN_EXPIRED").
			WithCode(router.StatusForbidden)
)

// DefaultMinLength is the shortest header value accepted
const DefaultMinLength = 32

// DefaultTokenLength is the number of random bytes in an issued token
const DefaultTokenLength = 32

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// Mode selects how a presented token is checked
type Mode int

const (
	// ModePresence only requires a token of at least MinLength chars
	ModePresence Mode = iota
	// ModeSigned requires a token issued by this process family, signed
	// with SecureKey and bound to the client.
	ModeSigned
	// ModeStorage compares against the token kept in Storage
	ModeStorage
)

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// Public paths are never checked
	Public func(path string) bool

	Mode Mode

	// MinLength applies in every mode
	MinLength int

	// TokenLength defines the number of random bytes of issued tokens
	TokenLength int

	ContextKey    string
	FormFieldName string
	HeaderName    string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// Storage is required by ModeStorage
	Storage Storage

	ErrorHandler   router.ErrorHandler
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long issued tokens are valid
	Expiration time.Duration

	// SecureKey signs tokens in ModeSigned
	SecureKey []byte

	Now func() time.Time
}

// Storage keeps one token per client key
type Storage interface {
	Get(key string) (string, error)
	Set(key string, value string, expiration time.Duration) error
	Delete(key string) error
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) string

// New creates a new CSRF middleware
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)
	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Skip != nil && cfg.Skip(c) {
				return next(c)
			}

			success := func(c router.Context) error {
				if cfg.SuccessHandler != nil {
					if err := cfg.SuccessHandler(c); err != nil {
						return err
					}
				}
				return next(c)
			}

			method := strings.ToUpper(c.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				return success(c)
			}

			if cfg.Public != nil && cfg.Public(c.Path()) {
				return success(c)
			}

			received := extractToken(c, extractors)
			if err := validateToken(c, cfg, received); err != nil {
				return cfg.ErrorHandler(c, err)
			}

			c.Locals(cfg.ContextKey, received)
			return success(c)
		}
	}
}

func validateToken(c router.Context, cfg Config, received string) error {
	if len(received) < cfg.MinLength {
		return ErrTokenMissing
	}

	switch cfg.Mode {
	case ModeSigned:
		return validateStatelessToken(c, cfg, received)
	case ModeStorage:
		expected, err := cfg.Storage.Get(getSessionKey(c))
		if err != nil || expected == "" {
			return ErrTokenMismatch
		}
		if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
			return ErrTokenMismatch
		}
	}
	return nil
}

// IssueToken returns a token the client must echo back. In ModeStorage
// it replaces the stored token for the client.
func IssueToken(c router.Context, cfg Config) (string, error) {
	switch cfg.Mode {
	case ModeSigned:
		return generateStatelessToken(c, cfg)
	case ModeStorage:
		token, err := generateToken(cfg.TokenLength)
		if err != nil {
			return "", err
		}
		if err := cfg.Storage.Set(getSessionKey(c), token, cfg.Expiration); err != nil {
			return "", err
		}
		return token, nil
	default:
		return generateToken(cfg.TokenLength)
	}
}

// generateToken generates a cryptographically secure random token
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func generateStatelessToken(c router.Context, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	timestamp := cfg.Now().UTC().Unix()
	payload := fmt.Sprintf("%d:%s:%s", timestamp, hex.EncodeToString(nonce), getSessionKey(c))

	mac := hmac.New(sha256.New, cfg.SecureKey)
	mac.Write([]byte(payload))
	signature := mac.Sum(nil)

	token := fmt.Sprintf("%s:%s", payload, hex.EncodeToString(signature))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateStatelessToken(c router.Context, cfg Config, token string) error {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestampStr, nonceHex, sessionFromToken, signatureHex := parts[0], parts[1], parts[2], parts[3]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if _, err := hex.DecodeString(nonceHex); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch
	}

	payload := strings.Join(parts[:3], ":")
	mac := hmac.New(sha256.New, cfg.SecureKey)
	mac.Write([]byte(payload))

	if !hmac.Equal(signature, mac.Sum(nil)) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(sessionFromToken), []byte(getSessionKey(c))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		expiresAt := time.Unix(timestamp, 0).Add(cfg.Expiration)
		if cfg.Now().UTC().After(expiresAt) {
			return ErrTokenExpired
		}
	}

	return nil
}

func extractToken(c router.Context, extractors []TokenExtractor) string {
	for _, extractor := range extractors {
		if token := extractor(c); token != "" {
			return token
		}
	}
	return ""
}

// getSessionKey binds a token to the authenticated identity when the
// edge filter set one, else to the client address.
func getSessionKey(c router.Context) string {
	if id, ok := c.Locals("user_id").(int64); ok && id > 0 {
		return "csrf_user_" + strconv.FormatInt(id, 10)
	}
	return "csrf_ip_" + c.IP()
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	var extractors []TokenExtractor

	if tokenLookup == "" {
		return append(extractors,
			extractorFromHeader(header),
			extractorFromForm(formField),
		)
	}

	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		if field, ok := strings.CutPrefix(part, "form:"); ok {
			extractors = append(extractors, extractorFromForm(field))
		} else if headerName, ok := strings.CutPrefix(part, "header:"); ok {
			extractors = append(extractors, extractorFromHeader(headerName))
		}
	}

	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(c router.Context) string {
		return c.FormValue(fieldName)
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(c router.Context) string {
		return c.Header(headerName)
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	switch cfg.Mode {
	case ModeSigned:
		cfg.SecureKey = initializeSecureKey(cfg.SecureKey)
	case ModeStorage:
		if cfg.Storage == nil {
			panic("csrf: storage mode requires a Storage")
		}
	}

	return cfg
}

// DefaultErrorHandler answers 403 with an HTML page or a JSON body
// carrying the text code of err.
func DefaultErrorHandler(c router.Context, err error) error {
	code := ErrTokenMissing.TextCode
	message := ErrTokenMissing.Message

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		code = richErr.TextCode
		message = richErr.Message
	}

	if strings.Contains(c.Header("Accept"), "text/html") {
		c.Status(router.StatusForbidden)
		c.SetHeader("Content-Type", "text/html; charset=utf-8")
		return c.SendString(edgeware.CSRFPage())
	}
	return c.JSON(router.StatusForbidden, edgeware.Response{Error: code, Message: message})
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
