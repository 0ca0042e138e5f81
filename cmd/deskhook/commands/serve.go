package commands

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/deskhook/deskhook/internal/config"
	"github.com/deskhook/deskhook/internal/dispatch"
	"github.com/deskhook/deskhook/internal/hooks"
	"github.com/deskhook/deskhook/internal/identity"
	"github.com/deskhook/deskhook/internal/messaging"
	"github.com/deskhook/deskhook/internal/pending"
	"github.com/deskhook/deskhook/internal/queue"
	"github.com/deskhook/deskhook/internal/ticketing"
	"github.com/deskhook/deskhook/internal/tickets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization server",
	Long: `Run the full synchronization server:

  • ensures the ticketing platform's webhook target and trigger exist
  • listens for webhooks from both platforms
  • runs the job queue workers that process them

The server acknowledges webhooks immediately; processing (ticket creation,
comments, message delivery) happens asynchronously with retries.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	store, err := pending.NewStore(redisOpts, cfg.Name)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := queue.NewRunner(redisOpts, cfg.Name)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := runner.Ping(ctx); err != nil {
		return fmt.Errorf("cannot reach Redis at %s: %w", cfg.Redis.Addr, err)
	}

	ticketingClient, err := ticketing.NewClient(ticketing.Config{
		Subdomain: cfg.Ticketing.Subdomain,
		Username:  cfg.Ticketing.Username,
		Token:     cfg.Ticketing.Token,
	})
	if err != nil {
		return err
	}

	msgClient, err := messaging.NewAPIClient(cfg.Messaging.BaseURL, cfg.Messaging.Token)
	if err != nil {
		return err
	}

	registrar, err := identity.NewRegistrar(ticketingClient, identity.DefaultLookup(msgClient))
	if err != nil {
		return err
	}

	sync := tickets.NewSynchronizer(ticketingClient, registrar)

	jobOpts := cfg.Queue.JobOptions()
	dispatcher, err := dispatch.NewDispatcher(cfg.Name, runner, store, sync, msgClient, dispatch.Options{
		JobOptions: &jobOpts,
	})
	if err != nil {
		return err
	}

	// Remote subscription setup is idempotent; a failure here leaves the
	// receivers running so an operator can fix credentials and re-run
	// `deskhook setup` without restarting.
	manager, err := hooks.NewManager(ticketingClient, cfg.Name, cfg.Server.URL, cfg.Ticketing.Path, cfg.Server.AltPort)
	if err != nil {
		return err
	}
	if _, _, err := manager.Setup(ctx); err != nil {
		log.Printf("[Serve] Webhook subscription setup failed (fix and run 'deskhook setup'): %v", err)
	}

	server := dispatch.NewServer(dispatcher, store, cfg.Server.ListenAddr, cfg.Messaging.Path, cfg.Ticketing.Path, cfg.Server.AltPort)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Shutdown(context.Background())

	log.Printf("[Serve] Instance '%s' running", cfg.Name)
	return runner.Run(ctx)
}
