package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/deskhook/deskhook/internal/config"
	"github.com/deskhook/deskhook/internal/dispatch"
	"github.com/deskhook/deskhook/internal/queue"
)

var statusFailed int64

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue health for this instance",
	Long: `Show Redis connectivity and the depth of each job queue, including
permanently failed jobs and their last recorded errors.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int64Var(&statusFailed, "failed", 5, "How many failed jobs to show per queue")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	runner, err := queue.NewRunner(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Name)
	if err != nil {
		return err
	}
	defer runner.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if err := runner.Ping(ctx); err != nil {
		red.Printf("✗ Redis unreachable at %s: %v\n", cfg.Redis.Addr, err)
		return fmt.Errorf("redis unreachable")
	}
	green.Printf("✓ Redis connected (%s)\n", cfg.Redis.Addr)

	for _, queueName := range []string{dispatch.MessagingQueue, dispatch.CommentQueue} {
		stats, err := runner.QueueStats(ctx, queueName)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s\n", queueName)
		fmt.Printf("  ready: %d  processing: %d  delayed: %d  failed: %d\n",
			stats.Ready, stats.Processing, stats.Delayed, stats.Failed)

		if stats.Failed == 0 {
			continue
		}

		failed, err := runner.FailedJobs(ctx, queueName, statusFailed)
		if err != nil {
			return err
		}
		for _, job := range failed {
			yellow.Printf("  failed %s (attempts: %d): %s\n", job.ID, job.Attempts, job.LastError)
		}
	}

	return nil
}
