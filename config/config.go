// Package config loads process configuration from defaults, an optional
// YAML file, AUTH_ environment variables and command line flags, in
// that order of precedence (last wins).
package config

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix = "AUTH_"
	delim     = "."
)

type HTTP struct {
	Addr          string `koanf:"addr"`
	Prefix        string `koanf:"prefix"`
	SecureCookies bool   `koanf:"secure_cookies"`
	Debug         bool   `koanf:"debug"`
}

type JWT struct {
	Secret string `koanf:"secret"`
	Issuer string `koanf:"issuer"`
}

type DB struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type Redis struct {
	Addr       string `koanf:"addr"`
	Password   string `koanf:"password"`
	DB         int    `koanf:"db"`
	ChannelIn  string `koanf:"channel_in"`
	ChannelOut string `koanf:"channel_out"`
}

type Mail struct {
	Provider string `koanf:"provider"`
	From     string `koanf:"from"`
	Region   string `koanf:"region"`
}

type Reaper struct {
	Schedule string        `koanf:"schedule"`
	Grace    time.Duration `koanf:"grace"`
}

type Gateway struct {
	Addr             string   `koanf:"addr"`
	Upstreams        []string `koanf:"upstreams"`
	EmbeddedPrefixes []string `koanf:"embedded_prefixes"`
	PublicExact      []string `koanf:"public_exact"`
	PublicPrefixes   []string `koanf:"public_prefixes"`
	CSRFMode         string   `koanf:"csrf_mode"`
	CSRFKey          string   `koanf:"csrf_key"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Config struct {
	HTTP    HTTP    `koanf:"http"`
	JWT     JWT     `koanf:"jwt"`
	DB      DB      `koanf:"db"`
	Redis   Redis   `koanf:"redis"`
	Mail    Mail    `koanf:"mail"`
	Reaper  Reaper  `koanf:"reaper"`
	Gateway Gateway `koanf:"gateway"`
	Log     Log     `koanf:"log"`
}

// Defaults is the base layer every other source overrides
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":           ":8081",
		"http.prefix":         "/auths",
		"http.secure_cookies": false,
		"http.debug":          false,
		"jwt.issuer":          "go-authcore",
		"db.driver":           auth.DriverSQLite,
		"db.dsn":              "file:auth.db?cache=shared",
		"redis.addr":          "",
		"redis.db":            0,
		"redis.channel_in":    "user.events",
		"redis.channel_out":   "auth.events",
		"mail.provider":       "console",
		"mail.from":           "no-reply@localhost",
		"reaper.schedule":     auth.DefaultReaperSchedule,
		"reaper.grace":        auth.DefaultReaperGrace.String(),
		"gateway.addr":        ":8080",
		"gateway.upstreams":   []string{},
		"gateway.csrf_mode":   "presence",
		"log.level":           "info",
		"log.format":          "text",
	}
}

// listKeys are split on commas when they come from the environment
var listKeys = map[string]bool{
	"gateway.upstreams":         true,
	"gateway.embedded_prefixes": true,
	"gateway.public_exact":      true,
	"gateway.public_prefixes":   true,
}

// flagKeys maps command line flag names to config keys
var flagKeys = map[string]string{
	"config":         "",
	"addr":           "http.addr",
	"prefix":         "http.prefix",
	"secure-cookies": "http.secure_cookies",
	"debug":          "http.debug",
	"db-driver":      "db.driver",
	"db-dsn":         "db.dsn",
	"redis-addr":     "redis.addr",
	"mail-provider":  "mail.provider",
	"gateway-addr":   "gateway.addr",
	"upstream":       "gateway.upstreams",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"reap-schedule":  "reaper.schedule",
	"reap-grace":     "reaper.grace",
}

// BindFlags declares the flags Load understands on fs
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("addr", "", "auth service listen address")
	fs.String("prefix", "", "route prefix for the auth endpoints")
	fs.Bool("secure-cookies", false, "mark token cookies Secure")
	fs.Bool("debug", false, "include error details in responses")
	fs.String("db-driver", "", "sqlite or postgres")
	fs.String("db-dsn", "", "database connection string")
	fs.String("redis-addr", "", "redis address for the event bus (empty disables it)")
	fs.String("mail-provider", "", "console or ses")
	fs.String("gateway-addr", "", "gateway listen address")
	fs.StringSlice("upstream", nil, "gateway upstream as prefix=url, repeatable")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.String("reap-schedule", "", "cron schedule for the account reaper")
	fs.Duration("reap-grace", 0, "age after which unverified sign-ups are removed")
}

// Load merges every source into a validated Config. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(confmap.Provider(Defaults(), delim), nil); err != nil {
		return nil, wrapLoad(err, "defaults")
	}

	if path := configPath(fs); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, wrapLoad(err, "file").WithMetadata(map[string]any{"path": path})
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, delim, envKey), nil); err != nil {
		return nil, wrapLoad(err, "env")
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, wrapLoad(err, "flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath(fs *pflag.FlagSet) string {
	if fs != nil {
		if path, err := fs.GetString("config"); err == nil && path != "" {
			return path
		}
	}
	return os.Getenv(EnvPrefix + "CONFIG")
}

// envKey turns AUTH_HTTP_SECURE_COOKIES into http.secure_cookies. The
// first segment is the section, the rest is the leaf.
func envKey(name, value string) (string, any) {
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, leaf, ok := strings.Cut(rest, "_")
	if !ok || section == "config" {
		return "", nil
	}

	key := section + delim + leaf
	if listKeys[key] {
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func wrapLoad(err error, source string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, "failed to load configuration").
		WithMetadata(map[string]any{"source": source})
}

// Validate checks the values the processes cannot start without
func (c *Config) Validate() error {
	err := validation.Errors{
		"jwt.secret": validation.Validate(c.JWT.Secret,
			validation.Required,
			validation.By(func(any) error { return auth.ValidateSigningSecret([]byte(c.JWT.Secret)) }),
		),
		"db.driver":         validation.Validate(c.DB.Driver, validation.In(auth.DriverSQLite, auth.DriverPostgres)),
		"db.dsn":            validation.Validate(c.DB.DSN, validation.Required),
		"mail.provider":     validation.Validate(c.Mail.Provider, validation.In("console", "ses")),
		"mail.from":         validation.Validate(c.Mail.From, requiredIf(c.Mail.Provider == "ses")),
		"reaper.grace":      validation.Validate(c.Reaper.Grace, validation.Min(time.Minute)),
		"gateway.csrf_mode": validation.Validate(c.Gateway.CSRFMode, validation.In("presence", "signed", "storage")),
		"gateway.csrf_key": validation.Validate(c.Gateway.CSRFKey,
			requiredIf(c.Gateway.CSRFMode == "signed"),
			validation.Length(32, 0),
		),
		"log.format": validation.Validate(c.Log.Format, validation.In("text", "json")),
	}.Filter()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
			WithTextCode("INVALID_CONFIG")
	}
	return nil
}

func requiredIf(cond bool) validation.Rule {
	return validation.By(func(value any) error {
		if !cond {
			return nil
		}
		return validation.Validate(value, validation.Required)
	})
}

// Upstream is one gateway forwarding rule
type Upstream struct {
	Prefix string
	Target string
}

// ParseUpstreams reads prefix=url pairs
func (g Gateway) ParseUpstreams() ([]Upstream, error) {
	out := make([]Upstream, 0, len(g.Upstreams))
	for _, raw := range g.Upstreams {
		prefix, target, ok := strings.Cut(raw, "=")
		prefix, target = strings.TrimSpace(prefix), strings.TrimSpace(target)
		if !ok || !strings.HasPrefix(prefix, "/") || target == "" {
			return nil, goerrors.New("upstream must be /prefix=url", goerrors.CategoryValidation).
				WithTextCode("INVALID_UPSTREAM").
				WithMetadata(map[string]any{"upstream": raw})
		}
		out = append(out, Upstream{Prefix: prefix, Target: strings.TrimRight(target, "/")})
	}
	return out, nil
}
