package edgeware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrTokenMissing = goerrors.New("missing session token", goerrors.CategoryAuth).
			WithTextCode("TOKEN_MISSING").
			WithCode(fiber.StatusUnauthorized)

	ErrTokenRejected = goerrors.New("invalid or expired session token", goerrors.CategoryAuth).
				WithTextCode("TOKEN_INVALID").
				WithCode(fiber.StatusUnauthorized)

	ErrEmbeddedOnly = goerrors.New("direct access to this service is blocked", goerrors.CategoryAuthz).
			WithTextCode("EMBEDDED_ONLY").
			WithCode(fiber.StatusForbidden)
)

// TokenValidator checks signature, type and expiry of a token. The auth
// TokenService satisfies it.
type TokenValidator interface {
	Validate(token string, kind auth.TokenKind) auth.TokenResult
}

// ValidationListener runs after a token was accepted and before the
// request is forwarded.
type ValidationListener func(c *fiber.Ctx, identity int64, claims *auth.TokenClaims) error

type Config struct {
	// Filter skips the middleware entirely when it returns true
	Filter func(*fiber.Ctx) bool

	Rules          Rules
	TokenValidator TokenValidator

	// TokenLookup lists where the access token is read from, e.g.
	// "cookie:accessToken,header:Authorization"
	TokenLookup string
	// FallbackLookup is consulted only when no access token was found;
	// the token there must be a valid refresh token.
	FallbackLookup string
	AuthScheme     string

	// EmbeddedSkipAuth lets a request with a good referer through to an
	// embedded-only path without a session.
	EmbeddedSkipAuth bool

	IdentityHeader string
	ContextKey     string

	SuccessHandler      fiber.Handler
	ErrorHandler        fiber.ErrorHandler
	ValidationListeners []ValidationListener

	Logger auth.Logger
}

// New returns the edge access filter. It never touches the credential
// store: a request is authenticated by the token alone.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
	fallback := GetExtractors(cfg.FallbackLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		// identities only ever come from us
		c.Request().Header.Del(cfg.IdentityHeader)

		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		p := c.Path()
		class := cfg.Rules.Classify(p)
		c.Locals(classLocalsKey, class)

		switch class {
		case ClassEmbeddedOnly:
			if !cfg.Rules.EmbeddedAllowed(p, c.Get(fiber.HeaderReferer), c.Hostname()) {
				cfg.Logger.Debug("edge: blocked direct access to %s", p)
				return cfg.ErrorHandler(c, ErrEmbeddedOnly)
			}
			if cfg.EmbeddedSkipAuth {
				return cfg.SuccessHandler(c)
			}
		case ClassPublic:
			return cfg.SuccessHandler(c)
		}

		identity, claims, err := authenticate(c, cfg, extractors, fallback)
		if err != nil {
			cfg.Logger.Debug("edge: rejected %s %s: %v", c.Method(), p, err)
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, identity, claims); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Request().Header.Set(cfg.IdentityHeader, strconv.FormatInt(identity, 10))
		c.Locals(cfg.ContextKey, identity)
		c.SetUserContext(auth.WithClaimsContext(auth.WithIdentityContext(c.UserContext(), identity), claims))

		return cfg.SuccessHandler(c)
	}
}

func authenticate(c *fiber.Ctx, cfg Config, extractors, fallback []Extractor) (int64, *auth.TokenClaims, error) {
	kind := auth.TokenKindAccess
	raw := ExtractRawToken(c, extractors)
	if raw == "" {
		kind = auth.TokenKindRefresh
		raw = ExtractRawToken(c, fallback)
	}
	if raw == "" {
		return 0, nil, ErrTokenMissing
	}

	result := cfg.TokenValidator.Validate(raw, kind)
	identity, ok := result.Identity()
	if !ok {
		return 0, nil, ErrTokenRejected
	}
	return identity, result.Claims, nil
}

const classLocalsKey = "edge_class"

// ClassOf returns the class the filter assigned to the current request
func ClassOf(c *fiber.Ctx) (Class, bool) {
	class, ok := c.Locals(classLocalsKey).(Class)
	return class, ok
}

// IdentityFrom returns the identity the filter injected
func IdentityFrom(c *fiber.Ctx, contextKey ...string) (int64, bool) {
	key := "user_id"
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	id, ok := c.Locals(key).(int64)
	return id, ok
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: edge middleware configuration: TokenValidator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = "cookie:" + auth.AccessTokenCookie
	}

	if cfg.FallbackLookup == "" {
		cfg.FallbackLookup = "cookie:" + auth.RefreshTokenCookie
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = auth.HeaderUserID
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user_id"
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger()
	}

	return cfg
}

// Extractor pulls a raw token out of the request, "" when absent
type Extractor func(c *fiber.Ctx) string

func ExtractRawToken(c *fiber.Ctx, extractors []Extractor) string {
	for _, extractor := range extractors {
		if raw := extractor(c); raw != "" {
			return raw
		}
	}
	return ""
}

// GetExtractors parses a lookup such as
// "header:Authorization,cookie:accessToken,query:token"
func GetExtractors(tokenLookup string, authScheme string) []Extractor {
	extractors := make([]Extractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}

	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) string {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:])
		}
		return ""
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) string {
		return c.Query(param)
	}
}

func fromCookie(name string) Extractor {
	return func(c *fiber.Ctx) string {
		return c.Cookies(name)
	}
}
