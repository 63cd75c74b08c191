package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-authcore/config"
	"github.com/goliatone/go-authcore/gateway"
	"github.com/goliatone/go-authcore/middleware/csrf"
	"github.com/goliatone/go-authcore/middleware/edgeware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewGatewayCmd creates the gateway subcommand
func NewGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the edge access filter in front of the configured upstreams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cmd)
		},
	}
}

func runGateway(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	tokens, err := newTokenService(cfg, logger.Component("tokens"))
	if err != nil {
		return err
	}

	upstreams, err := cfg.Gateway.ParseUpstreams()
	if err != nil {
		return err
	}
	routes := make([]gateway.Route, 0, len(upstreams))
	for _, u := range upstreams {
		routes = append(routes, gateway.Route{Prefix: u.Prefix, Target: u.Target})
	}

	rdb, err := newRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	csrfCfg, err := csrfConfig(cfg, rdb)
	if err != nil {
		return err
	}

	app := gateway.New(gateway.Options{
		Rules:  gatewayRules(cfg),
		Tokens: tokens,
		Routes: routes,
		CSRF:   csrfCfg,
		Logger: logger.Component("gateway"),
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("gateway listening on %s with %d upstreams", cfg.Gateway.Addr, len(routes))
		errc <- app.Listen(cfg.Gateway.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func gatewayRules(cfg *config.Config) edgeware.Rules {
	rules := edgeware.DefaultRules(cfg.HTTP.Prefix)
	if len(cfg.Gateway.EmbeddedPrefixes) > 0 {
		rules.EmbeddedPrefixes = cfg.Gateway.EmbeddedPrefixes
	}
	rules.PublicExact = append(rules.PublicExact, cfg.Gateway.PublicExact...)
	rules.PublicPrefixes = append(rules.PublicPrefixes, cfg.Gateway.PublicPrefixes...)
	return rules
}

var errCSRFStorage = goerrors.New("csrf storage mode needs redis.addr", goerrors.CategoryValidation).
	WithTextCode("INVALID_CONFIG")

func csrfConfig(cfg *config.Config, rdb *redis.Client) (csrf.Config, error) {
	switch cfg.Gateway.CSRFMode {
	case "signed":
		return csrf.Config{Mode: csrf.ModeSigned, SecureKey: []byte(cfg.Gateway.CSRFKey)}, nil
	case "storage":
		if rdb == nil {
			return csrf.Config{}, errCSRFStorage
		}
		return csrf.Config{Mode: csrf.ModeStorage, Storage: csrf.NewRedisStorage(rdb, "")}, nil
	default:
		return csrf.Config{Mode: csrf.ModePresence}, nil
	}
}
