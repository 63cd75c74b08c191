package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRouteConfigDefault(t *testing.T) {
	conf := routeConfigDefault()
	assert.Equal(t, DefaultRoutePath, conf.Path)
	assert.Equal(t, DefaultRouteName, conf.RouteName)

	conf = routeConfigDefault(RouteConfig{Path: "/auths/csrf"})
	assert.Equal(t, "/auths/csrf", conf.Path)
	assert.Equal(t, DefaultRouteName, conf.RouteName)
}

func TestRegisterRoutesCustomPath(t *testing.T) {
	srv := newTestServer()
	RegisterRoutes(srv.Router(), Config{}, RouteConfig{Path: "/auths/csrf"})
	app := srv.WrappedRouter()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auths/csrf", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))

	route := app.GetRoute(DefaultRouteName)
	assert.Equal(t, "/auths/csrf", route.Path)
}

func TestTokenHandlerSuccess(t *testing.T) {
	handler := TokenHandler(Config{FormFieldName: "csrf_field"})

	ctx := router.NewMockContext()
	ctx.On("SetHeader", "Cache-Control", "no-store, max-age=0").Return(ctx)
	ctx.On("SetHeader", "Pragma", "no-cache").Return(ctx)
	ctx.On("SetHeader", "Expires", "0").Return(ctx)

	var payload router.ViewContext
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(router.ViewContext)
	}).Return(nil).Once()

	require.NoError(t, handler(ctx))
	require.Len(t, payload["token"], DefaultTokenLength*2)
	require.Equal(t, "csrf_field", payload["field_name"])
	require.Equal(t, DefaultHeaderName, payload["header_name"])
	ctx.AssertExpectations(t)
}
