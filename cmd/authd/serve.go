package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/activitymap"
	"github.com/goliatone/go-authcore/eventbus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication endpoints, the event consumer and the reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	tokens, err := newTokenService(cfg, logger.Component("tokens"))
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg, logger.Component("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	sender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	dispatcher := auth.NewEmailDispatcher(sender, auth.WithDispatcherLogger(logger.Component("mail")))
	defer dispatcher.Wait()

	metrics, err := activitymap.NewMetricsSink(nil)
	if err != nil {
		return err
	}

	repo := auth.NewRepositoryManager(db)
	svc := auth.NewService(repo, tokens, dispatcher,
		auth.WithServiceLogger(logger.Component("service")),
		auth.WithServiceActivity(metrics),
	)

	cookies := auth.DefaultCookieConfig()
	cookies.Secure = cfg.HTTP.SecureCookies

	controller := auth.NewAuthController(svc,
		auth.WithControllerPrefix(cfg.HTTP.Prefix),
		auth.WithControllerCookies(cookies),
		auth.WithControllerLogger(logger.Component("http")),
		auth.WithControllerDebug(cfg.HTTP.Debug),
		auth.WithMetricsHandler(promhttp.Handler()),
	)
	srv := controller.NewServer()

	rdb, err := newRedis(ctx, cfg)
	if err != nil {
		return err
	}

	var notifier auth.AccountsNotifier
	if rdb != nil {
		defer rdb.Close()

		notifier = eventbus.NewPublisher(rdb,
			eventbus.WithPublisherChannel(cfg.Redis.ChannelOut),
			eventbus.WithPublisherLogger(logger.Component("eventbus")),
		)

		sub := eventbus.NewSubscriber(rdb, eventbus.ServiceRouter(svc),
			eventbus.WithSubscriberChannel(cfg.Redis.ChannelIn),
			eventbus.WithSubscriberLogger(logger.Component("eventbus")),
		)
		go func() {
			if err := sub.Run(ctx); err != nil {
				logger.Error("event subscriber stopped: %v", err)
			}
		}()
	} else {
		logger.Warn("redis.addr not set, profile events are not consumed")
	}

	reaper := auth.NewAccountReaper(repo, notifier,
		auth.WithReaperGrace(cfg.Reaper.Grace),
		auth.WithReaperLogger(logger.Component("reaper")),
		auth.WithReaperActivity(metrics),
	)
	scheduler, err := auth.NewReaperScheduler(reaper, cfg.Reaper.Schedule,
		auth.WithSchedulerLogger(logger.Component("reaper")),
	)
	if err != nil {
		return err
	}
	scheduler.Start()

	errc := make(chan error, 1)
	go func() {
		logger.Info("auth service listening on %s", cfg.HTTP.Addr)
		errc <- srv.Serve(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errc:
		_ = scheduler.Stop(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = errors.Join(
		scheduler.Stop(shutdownCtx),
		srv.Shutdown(shutdownCtx),
	)
	return err
}
