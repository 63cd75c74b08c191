package main

import (
	"context"

	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/eventbus"
	"github.com/spf13/cobra"
)

// NewReapCmd creates the reap subcommand. It runs one reaper pass and
// exits, for hosts that schedule it externally.
func NewReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete stale unverified sign-ups once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReap(cmd.Context(), cmd)
		},
	}
}

func runReap(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, err := openDB(ctx, cfg, logger.Component("db"))
	if err != nil {
		return err
	}
	defer db.Close()

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
	}

	reaper := auth.NewAccountReaper(auth.NewRepositoryManager(db), notifier,
		auth.WithReaperGrace(cfg.Reaper.Grace),
		auth.WithReaperLogger(logger.Component("reaper")),
	)

	evt, err := reaper.Run(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("deleted %d unverified accounts\n", evt.DeletedCount)
	return nil
}
