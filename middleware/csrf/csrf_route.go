package csrf

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteConfig controls how the CSRF token bootstrap endpoint behaves.
type RouteConfig struct {
	// Path is the route registered for retrieving the CSRF token.
	Path string
	// RouteName is the name assigned to the registered route.
	RouteName string
}

const (
	DefaultRoutePath = "/csrf"
	DefaultRouteName = "auth.csrf.get"
)

// RegisterRoutes registers a GET endpoint that issues a CSRF token
// together with the header and form field names it must be sent in.
func RegisterRoutes[T any](app router.Router[T], cfg Config, route ...RouteConfig) {
	conf := routeConfigDefault(route...)
	app.Get(conf.Path, TokenHandler(cfg)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:      DefaultRoutePath,
		RouteName: DefaultRouteName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}

	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}

	return conf
}

// TokenHandler issues a fresh token per call
func TokenHandler(config Config) router.HandlerFunc {
	cfg := configDefault(config)
	return func(c router.Context) error {
		token, err := IssueToken(c, cfg)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to issue CSRF token").
				WithCode(http.StatusInternalServerError)
		}

		c.SetHeader("Cache-Control", "no-store, max-age=0")
		c.SetHeader("Pragma", "no-cache")
		c.SetHeader("Expires", "0")

		return c.JSON(http.StatusOK, router.ViewContext{
			"token":       token,
			"field_name":  cfg.FormFieldName,
			"header_name": cfg.HeaderName,
		})
	}
}
