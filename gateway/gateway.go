// Package gateway is the front door: it runs the edge access filter and
// the CSRF gate, then forwards the request to the upstream owning the
// path prefix.
package gateway

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/gofiber/fiber/v2/middleware/recover"
	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/middleware/csrf"
	"github.com/goliatone/go-authcore/middleware/edgeware"
	"github.com/goliatone/go-router"
)

const DefaultUpstreamTimeout = 30 * time.Second

// Route forwards every path under Prefix to Target
type Route struct {
	Prefix string
	Target string
}

type Options struct {
	Rules  edgeware.Rules
	Tokens edgeware.TokenValidator
	Routes []Route

	// CSRF is applied after the edge filter. Its Public func defaults to
	// the edge classification.
	CSRF        csrf.Config
	DisableCSRF bool

	Timeout time.Duration
	Logger  auth.Logger
}

// New builds the gateway app
func New(opts Options) *fiber.App {
	if opts.Logger == nil {
		opts.Logger = auth.DefaultLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultUpstreamTimeout
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          auth.ErrorHandler(opts.Logger, false),
	})

	app.Use(recover.New())
	app.Use(edgeware.New(edgeware.Config{
		Rules:          opts.Rules,
		TokenValidator: opts.Tokens,
		Logger:         opts.Logger,
	}))

	if !opts.DisableCSRF {
		cfg := opts.CSRF
		if cfg.Public == nil {
			rules := opts.Rules
			cfg.Public = func(p string) bool {
				return rules.Classify(p) != edgeware.ClassProtected
			}
		}
		app.Use(fromRouter(csrf.New(cfg), opts.Logger))
		app.Get(csrf.DefaultRoutePath, handle(csrf.TokenHandler(cfg), opts.Logger)).Name(csrf.DefaultRouteName)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "UP"})
	})

	app.All("/*", Forwarder(opts.Routes, opts.Timeout, opts.Logger))
	return app
}

// handle runs a go-router handler on the fiber request
func handle(h router.HandlerFunc, logger auth.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return h(router.NewFiberContext(c, logger))
	}
}

// fromRouter runs a go-router middleware in the fiber chain. The
// proxy and the edge filter need the raw fiber request, so the gateway
// itself stays on fiber.
func fromRouter(mw router.MiddlewareFunc, logger auth.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		next := mw(func(router.Context) error { return c.Next() })
		return next(router.NewFiberContext(c, logger))
	}
}

// Forwarder proxies to the route with the longest matching prefix
func Forwarder(routes []Route, timeout time.Duration, logger auth.Logger) fiber.Handler {
	sorted := make([]Route, 0, len(routes))
	for _, r := range routes {
		r.Prefix = "/" + strings.Trim(r.Prefix, "/")
		r.Target = strings.TrimRight(r.Target, "/")
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return func(c *fiber.Ctx) error {
		route, ok := match(sorted, c.Path())
		if !ok {
			return fiber.NewError(http.StatusNotFound, "no upstream for path")
		}

		// older clients send the reset token under its previous name
		if c.Get(auth.HeaderEmailToken) == "" {
			if legacy := c.Get(auth.HeaderLegacyEmail); legacy != "" {
				c.Request().Header.Set(auth.HeaderEmailToken, legacy)
			}
		}

		target := route.Target + c.OriginalURL()
		if err := proxy.DoTimeout(c, target, timeout); err != nil {
			logger.Error("gateway: forward %s %s to %s failed: %v", c.Method(), c.Path(), route.Target, err)
			return fiber.NewError(http.StatusBadGateway, "upstream unavailable")
		}
		c.Response().Header.Del(fiber.HeaderServer)
		return nil
	}
}

func match(routes []Route, p string) (Route, bool) {
	for _, r := range routes {
		if r.Prefix == "/" || p == r.Prefix || strings.HasPrefix(p, r.Prefix+"/") {
			return r, true
		}
	}
	return Route{}, false
}
