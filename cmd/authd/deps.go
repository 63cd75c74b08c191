package main

import (
	"context"
	"os"

	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/config"
	"github.com/goliatone/go-authcore/logging"
	"github.com/goliatone/go-authcore/mail"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

func newLogger(cfg *config.Config) *logging.Logrus {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func newTokenService(cfg *config.Config, logger auth.Logger) (*auth.TokenServiceImpl, error) {
	return auth.NewTokenService([]byte(cfg.JWT.Secret),
		auth.WithTokenIssuer(cfg.JWT.Issuer),
		auth.WithTokenLogger(logger),
	)
}

// openDB opens and migrates the credential store
func openDB(ctx context.Context, cfg *config.Config, logger auth.Logger) (*bun.DB, error) {
	db, err := auth.OpenDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to open database").
			WithMetadata(map[string]any{"driver": cfg.DB.Driver})
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "database unreachable").
			WithMetadata(map[string]any{"driver": cfg.DB.Driver})
	}
	if err := auth.Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newSender(ctx context.Context, cfg *config.Config, logger *logging.Logrus) (auth.EmailSender, error) {
	switch cfg.Mail.Provider {
	case "ses":
		client, err := mail.NewSESClient(ctx, cfg.Mail.Region)
		if err != nil {
			return nil, err
		}
		return mail.NewSESSender(client, cfg.Mail.From), nil
	default:
		return mail.NewConsoleSender(logger.Component("mail")), nil
	}
}

// newRedis returns nil when no address is configured
func newRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "redis unreachable").
			WithMetadata(map[string]any{"addr": cfg.Redis.Addr})
	}
	return rdb, nil
}
