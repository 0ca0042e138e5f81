package commands

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deskhook/deskhook/internal/config"
	"github.com/deskhook/deskhook/internal/hooks"
	"github.com/deskhook/deskhook/internal/ticketing"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Ensure the ticketing platform webhook subscription exists",
	Long: `Run the idempotent webhook-subscription setup once and exit.

Discovers or creates the ticketing platform target (the HTTP callback
pointing at this server) and the trigger that routes public ticket comments
to it. Safe to re-run; existing matching configuration is reused.

Run this at deployment time. Concurrent first-time runs are unsupported.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, err := ticketing.NewClient(ticketing.Config{
		Subdomain: cfg.Ticketing.Subdomain,
		Username:  cfg.Ticketing.Username,
		Token:     cfg.Ticketing.Token,
	})
	if err != nil {
		return err
	}

	manager, err := hooks.NewManager(client, cfg.Name, cfg.Server.URL, cfg.Ticketing.Path, cfg.Server.AltPort)
	if err != nil {
		return err
	}

	target, trigger, err := manager.Setup(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Target %d ready (%s)\n", target.ID, target.TargetURL)
	green.Printf("✓ Trigger %d ready\n", trigger.ID)
	return nil
}
