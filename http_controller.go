package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the credential endpoints on app and returns
// the controller serving them.
func RegisterAuthRoutes[T any](app router.Router[T], svc *Service, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(svc, opts...)
	registerRoutes(app, controller)
	return controller
}

func registerRoutes[T any](app router.Router[T], a *AuthController) {
	app.Get(a.Routes.Health, a.Health).SetName("health.get")
	if a.Metrics != nil {
		app.Get(a.Routes.Metrics, router.HandlerFromHTTP(a.Metrics)).SetName("metrics.get")
	}

	g := app.Group(a.Prefix)
	g.Post(a.Routes.Login, a.LoginPost).SetName("auth.login.post")
	g.Post(a.Routes.Refresh, a.RefreshPost).SetName("auth.refresh.post")
	g.Post(a.Routes.Logout, a.LogoutPost).SetName("auth.logout.post")
	g.Post(a.Routes.LogoutAll, a.LogoutAllPost).SetName("auth.logout-all.post")
	g.Post(a.Routes.VerifyCode, a.VerifyCodePost).SetName("auth.verify-code.post")
	g.Post(a.Routes.ResendCode, a.ResendCodePost).SetName("auth.resend-code.post")
	g.Post(a.Routes.PasswordReset, a.PasswordResetPost).SetName("auth.pwd-reset.post")
	g.Patch(a.Routes.ResetPassword, a.ResetPasswordPatch).SetName("auth.pwd-reset-do.patch")
	g.Patch(a.Routes.PasswordChange, a.PasswordChangePatch).SetName("auth.pwd-change.patch")
	g.Get(a.Routes.Me, a.MeGet).SetName("auth.me.get")
	g.Get(a.Routes.Health, a.Health).SetName("auth.health.get")
}

type AuthControllerRoutes struct {
	Login          string
	Refresh        string
	Logout         string
	LogoutAll      string
	VerifyCode     string
	ResendCode     string
	PasswordReset  string
	ResetPassword  string
	PasswordChange string
	Me             string
	Health         string
	Metrics        string
}

// AuthController exposes the credential endpoints over go-router
type AuthController struct {
	Debug   bool
	Logger  Logger
	Service *Service
	Prefix  string
	Routes  *AuthControllerRoutes
	Cookies CookieConfig
	Metrics http.Handler

	cookies TokenCookies
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerPrefix(prefix string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Prefix = strings.TrimRight(prefix, "/")
		return a
	}
}

func WithControllerCookies(cfg CookieConfig) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Cookies = cfg
		return a
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

// WithMetricsHandler mounts h at the metrics route
func WithMetricsHandler(h http.Handler) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Metrics = h
		return a
	}
}

func NewAuthController(svc *Service, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:  defLogger{},
		Service: svc,
		Prefix:  "/auths",
		Cookies: DefaultCookieConfig(),
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			Refresh:        "/refresh",
			Logout:         "/logout",
			LogoutAll:      "/logout-all",
			VerifyCode:     "/verify-code",
			ResendCode:     "/resend-code",
			PasswordReset:  "/password-reset",
			ResetPassword:  "/reset-password",
			PasswordChange: "/user/password-change",
			Me:             "/me",
			Health:         "/health",
			Metrics:        "/metrics",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing Service in auth controller...")
	}

	c.cookies = NewTokenCookies(c.Cookies, svc.Clock())
	return c
}

// NewServer returns a fiber backed server with the controller mounted
// and the JSON error handler installed.
func (a *AuthController) NewServer() router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          ErrorHandler(a.Logger, a.Debug),
		})
		app.Use(recover.New())
		return app
	})

	registerRoutes(srv.Router(), a)
	return srv
}

// NewApp is NewServer unwrapped, for callers that listen on the fiber
// app directly.
func (a *AuthController) NewApp() *fiber.App {
	return a.NewServer().WrappedRouter()
}

func (a *AuthController) Health(c router.Context) error {
	return c.JSON(http.StatusOK, router.ViewContext{"status": "UP"})
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := LoginMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}

	if a.Debug {
		a.Logger.Debug("login attempt for %s", print.MaybePrettyJSON(map[string]string{"loginId": payload.LoginID}))
	}

	var pair *TokenPair
	payload.OnResponse = func(p *TokenPair) { pair = p }

	if err := a.Service.Login.Execute(c.Context(), payload); err != nil {
		return err
	}

	a.cookies.Set(c, *pair)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Login successful", TokenType: "Bearer"})
}

func (a *AuthController) RefreshPost(c router.Context) error {
	var pair *TokenPair
	err := a.Service.Refresh.Execute(c.Context(), RefreshTokenMessage{
		RefreshToken: c.Cookies(RefreshTokenCookie),
		OnResponse:   func(p *TokenPair) { pair = p },
	})
	if err != nil {
		return err
	}

	a.cookies.Set(c, *pair)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Token refreshed", TokenType: "Bearer"})
}

func (a *AuthController) LogoutPost(c router.Context) error {
	return a.logout(c, c.Cookies(RefreshTokenCookie), false)
}

type logoutAllPayload struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *AuthController) LogoutAllPost(c router.Context) error {
	payload := logoutAllPayload{}
	if len(c.Body()) > 0 {
		// an unreadable body is treated like an absent one
		_ = c.Bind(&payload)
	}
	token := payload.RefreshToken
	if token == "" {
		token = c.Cookies(RefreshTokenCookie)
	}
	return a.logout(c, token, true)
}

// logout always answers 200 and always clears the cookies
func (a *AuthController) logout(c router.Context, token string, all bool) error {
	if err := a.Service.Logout.Execute(c.Context(), LogoutMessage{RefreshToken: token, All: all}); err != nil {
		a.Logger.Warn("logout could not clear stored tokens: %v", err)
	}
	a.cookies.Clear(c)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (a *AuthController) VerifyCodePost(c router.Context) error {
	payload := VerifyCodeMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}

	var res *VerifyResult
	payload.OnResponse = func(r *VerifyResult) { res = r }

	if err := a.Service.Verification.Verify(c.Context(), payload); err != nil {
		return err
	}

	if res.EmailToken != "" {
		c.SetHeader(HeaderEmailToken, res.EmailToken)
	}
	return c.JSON(http.StatusOK, router.ViewContext{
		"message": "Verification successful",
		"purpose": string(res.Purpose),
	})
}

func (a *AuthController) ResendCodePost(c router.Context) error {
	payload := ResendCodeMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}

	if err := a.Service.Verification.Resend(c.Context(), payload); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Verification code sent"})
}

func (a *AuthController) PasswordResetPost(c router.Context) error {
	payload := InitializePasswordResetMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}

	if err := a.Service.ResetInit.Execute(c.Context(), payload); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Password reset code sent"})
}

func (a *AuthController) ResetPasswordPatch(c router.Context) error {
	payload := FinalizePasswordResetMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}
	payload.EmailToken = emailTokenFromHeader(c)

	if err := a.Service.ResetFinalize.Execute(c.Context(), payload); err != nil {
		return err
	}

	a.cookies.Clear(c)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Password reset successful"})
}

func (a *AuthController) PasswordChangePatch(c router.Context) error {
	identity, err := requestIdentity(c)
	if err != nil {
		return err
	}

	payload := ChangePasswordMessage{}
	if err := c.Bind(&payload); err != nil {
		return invalidPayload(err)
	}
	payload.UserID = identity

	if err := a.Service.ChangePassword.Execute(c.Context(), payload); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Password changed"})
}

func (a *AuthController) MeGet(c router.Context) error {
	result := a.Service.Tokens.Validate(c.Cookies(AccessTokenCookie), TokenKindAccess)
	identity, ok := result.Identity()
	if !ok {
		return ErrTokenInvalid
	}
	return c.JSON(http.StatusOK, router.ViewContext{"userId": identity})
}
