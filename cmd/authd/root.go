package main

import (
	"github.com/goliatone/go-authcore/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command. Every subcommand shares the
// configuration flags.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authd",
		Short:         "Authentication core: credential service, gateway and reaper",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewGatewayCmd())
	cmd.AddCommand(NewReapCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the configuration for cmd. Flags declared on the
// root are visible through cmd.Flags() once cobra merged them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags())
}
