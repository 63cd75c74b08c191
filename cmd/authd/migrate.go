package main

import (
	"context"

	auth "github.com/goliatone/go-authcore"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand
func NewMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the credential store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmd, down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, down bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, err := auth.OpenDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if down {
		if err := auth.MigrateDown(ctx, db, logger); err != nil {
			return err
		}
		cmd.Println("rolled back one migration")
		return nil
	}

	if err := auth.Migrate(ctx, db, logger); err != nil {
		return err
	}
	cmd.Println("migrations applied")
	return nil
}
