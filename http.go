package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	HeaderUserID      = "X-User-Id"
	HeaderEmailToken  = "X-Email-Token"
	HeaderLegacyEmail = "X-User-Email"
)

// CookieConfig controls how the token cookies are written
type CookieConfig struct {
	Secure   bool
	Domain   string
	Path     string
	SameSite string
}

// DefaultCookieConfig is HTTP-only, Lax, rooted at /
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		SameSite: router.CookieSameSiteLaxMode,
	}
}

// TokenCookies writes the pair as the accessToken and refreshToken
// cookies with the lifetimes of the tokens themselves.
type TokenCookies struct {
	cfg        CookieConfig
	clock      Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenCookies(cfg CookieConfig, clock Clock) TokenCookies {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == "" {
		cfg.SameSite = router.CookieSameSiteLaxMode
	}
	return TokenCookies{
		cfg:        cfg,
		clock:      clock,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
	}
}

func (t TokenCookies) Set(c router.Context, pair TokenPair) {
	t.write(c, AccessTokenCookie, pair.AccessToken, t.accessTTL)
	t.write(c, RefreshTokenCookie, pair.RefreshToken, t.refreshTTL)
}

// Clear expires both cookies. fasthttp drops Max-Age=0, so the past
// Expires is what tells the browser to discard them.
func (t TokenCookies) Clear(c router.Context) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c.Cookie(&router.Cookie{
			Name:     name,
			Value:    "",
			Path:     t.cfg.Path,
			Domain:   t.cfg.Domain,
			Expires:  t.clock.Now().Add(-time.Hour * (24 * 365)),
			HTTPOnly: true,
			Secure:   t.cfg.Secure,
			SameSite: t.cfg.SameSite,
		})
	}
}

func (t TokenCookies) write(c router.Context, name, value string, ttl time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     t.cfg.Path,
		Domain:   t.cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		Expires:  t.clock.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: t.cfg.SameSite,
	})
}

// ErrorResponse is the JSON body of every failed endpoint call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MessageResponse is the JSON body of the simple success replies
type MessageResponse struct {
	Message   string `json:"message"`
	TokenType string `json:"tokenType,omitempty"`
}

// errorStatus maps a rich error to the status it is reported with. The
// explicit code wins, the category decides otherwise.
func errorStatus(richErr *errors.Error) int {
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler writes err as an ErrorResponse. Internal details never
// reach the client. It is installed on the fiber app behind the router
// so errors returned by route handlers and by fiber itself share it.
func ErrorHandler(logger Logger, debug bool) func(c *fiber.Ctx, err error) error {
	if logger == nil {
		logger = defLogger{}
	}
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error:   strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_")),
				Message: fiberErr.Message,
			})
		}

		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
				WithCode(errors.CodeInternal)
		}

		status := errorStatus(richErr)
		if status >= http.StatusInternalServerError {
			logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
		} else if debug {
			logger.Debug("request %s %s rejected: %s %s", c.Method(), c.Path(), richErr.TextCode, print.MaybePrettyJSON(richErr.Metadata))
		}

		body := ErrorResponse{Error: richErr.TextCode, Message: richErr.Message}
		if body.Error == "" {
			body.Error = strings.ToUpper(string(richErr.Category))
		}
		if status >= http.StatusInternalServerError {
			body.Message = "internal server error"
		}
		return c.Status(status).JSON(body)
	}
}

// requestIdentity returns the identity of the caller. When the edge
// filter runs in the same process it is already in the user context,
// otherwise it is read from the header the gateway injected.
func requestIdentity(c router.Context) (int64, error) {
	if id, ok := IdentityFromContext(c.Context()); ok {
		return id, nil
	}

	raw := strings.TrimSpace(c.Header(HeaderUserID))
	if raw == "" {
		return 0, ErrIdentityMissing
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrIdentityMissing
	}
	return id, nil
}

// emailTokenFromHeader accepts the legacy header name as well
func emailTokenFromHeader(c router.Context) string {
	if token := strings.TrimSpace(c.Header(HeaderEmailToken)); token != "" {
		return token
	}
	return strings.TrimSpace(c.Header(HeaderLegacyEmail))
}
