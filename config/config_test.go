package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-authcore/config"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, "/auths", cfg.HTTP.Prefix)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "console", cfg.Mail.Provider)
	assert.Equal(t, "@every 1m", cfg.Reaper.Schedule)
	assert.Equal(t, 24*time.Hour, cfg.Reaper.Grace)
	assert.Equal(t, "user.events", cfg.Redis.ChannelIn)
	assert.Equal(t, "auth.events", cfg.Redis.ChannelOut)
	assert.Empty(t, cfg.Gateway.Upstreams)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := config.Load(nil)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	assert.Contains(t, err.Error(), "jwt.secret")
}

func TestLoad_ShortSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "too-short")

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret")
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
  prefix: /api/auths
  secure_cookies: true
jwt:
  secret: `+testSecret+`
db:
  driver: postgres
  dsn: postgres://localhost/auth
reaper:
  grace: 2h
gateway:
  upstreams:
    - /users=http://users:8080
    - /board=http://board:8080
  embedded_prefixes: [/webtoon/]
`), 0o600))

	t.Setenv("AUTH_HTTP_PREFIX", "/env/auths")
	t.Setenv("AUTH_LOG_FORMAT", "json")
	t.Setenv("AUTH_GATEWAY_PUBLIC_PREFIXES", "/docs/, /status/")

	fs := newFlags(t, "--config", path, "--addr", ":7000", "--reap-grace", "90m")
	cfg, err := config.Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTP.Addr, "flag beats file")
	assert.Equal(t, "/env/auths", cfg.HTTP.Prefix, "env beats file")
	assert.True(t, cfg.HTTP.SecureCookies)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 90*time.Minute, cfg.Reaper.Grace)
	assert.Equal(t, []string{"/webtoon/"}, cfg.Gateway.EmbeddedPrefixes)
	assert.Equal(t, []string{"/docs/", "/status/"}, cfg.Gateway.PublicPrefixes)

	upstreams, err := cfg.Gateway.ParseUpstreams()
	require.NoError(t, err)
	require.Len(t, upstreams, 2)
	assert.Equal(t, config.Upstream{Prefix: "/users", Target: "http://users:8080"}, upstreams[0])
}

func TestLoad_UnchangedFlagsKeepLowerLayers(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("AUTH_DB_DSN", "file:env.db")

	cfg, err := config.Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "file:env.db", cfg.DB.DSN)
	assert.Equal(t, ":8081", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			JWT:     config.JWT{Secret: testSecret},
			DB:      config.DB{Driver: "sqlite", DSN: "file:x.db"},
			Mail:    config.Mail{Provider: "console"},
			Reaper:  config.Reaper{Grace: time.Hour},
			Gateway: config.Gateway{CSRFMode: "presence"},
			Log:     config.Log{Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "unknown driver", mutate: func(c *config.Config) { c.DB.Driver = "mysql" }, wantErr: "db.driver"},
		{name: "ses needs sender", mutate: func(c *config.Config) { c.Mail.Provider = "ses"; c.Mail.From = "" }, wantErr: "mail.from"},
		{name: "grace too short", mutate: func(c *config.Config) { c.Reaper.Grace = time.Second }, wantErr: "reaper.grace"},
		{name: "signed csrf needs key", mutate: func(c *config.Config) { c.Gateway.CSRFMode = "signed" }, wantErr: "gateway.csrf_key"},
		{name: "unknown log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseUpstreams_Invalid(t *testing.T) {
	_, err := config.Gateway{Upstreams: []string{"users=http://users"}}.ParseUpstreams()
	require.Error(t, err)

	_, err = config.Gateway{Upstreams: []string{"/users"}}.ParseUpstreams()
	require.Error(t, err)
}
