package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultPollInterval is how often workers check for ready and due jobs.
const defaultPollInterval = 100 * time.Millisecond

// Handler processes a single job. Returning nil marks the job complete;
// returning an error schedules a retry (or, once the attempt budget is
// exhausted, moves the job to the failed list).
type Handler func(ctx context.Context, job *Job) error

// Runner is the Redis-backed job runner. Enqueue persists jobs durably and
// returns immediately; Run drives one worker loop per registered queue.
// The runner is thread-safe.
type Runner struct {
	rdb          *redis.Client
	instanceName string
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewRunner creates a job runner for the specified instance.
// Returns an error if instanceName is empty.
func NewRunner(redisOpts *redis.Options, instanceName string) (*Runner, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Runner{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		pollInterval: defaultPollInterval,
		handlers:     make(map[string]Handler),
	}, nil
}

// SetPollInterval overrides the worker poll interval. Must be called before
// Run. Used by tests to keep retry scheduling fast.
func (r *Runner) SetPollInterval(d time.Duration) {
	r.pollInterval = d
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Runner) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *Runner) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Enqueue persists a job and makes it available to workers. The payload is
// JSON-encoded. Enqueue does not block on processing; it returns as soon as
// the job record and its ready-list entry are written.
func (r *Runner) Enqueue(ctx context.Context, queueName string, payload interface{}, opts Options) (*Job, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job options: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Payload:     data,
		Attempts:    0,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, JobKey(r.instanceName, job.ID), jobToHash(job))
	pipe.LPush(ctx, ReadyKey(r.instanceName, queueName), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Process registers the handler for a named queue. Must be called before Run;
// registering a second handler for the same queue replaces the first.
func (r *Runner) Process(queueName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queueName] = h
}

// Run recovers any jobs stranded on processing lists by a previous crash,
// then starts one worker loop per registered queue and blocks until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	queues := make(map[string]Handler, len(r.handlers))
	for name, h := range r.handlers {
		queues[name] = h
	}
	r.mu.Unlock()

	if len(queues) == 0 {
		return fmt.Errorf("no queue handlers registered")
	}

	for name := range queues {
		if err := r.recover(ctx, name); err != nil {
			return fmt.Errorf("failed to recover queue %q: %w", name, err)
		}
	}

	var wg sync.WaitGroup
	for name, h := range queues {
		wg.Add(1)
		go func(queueName string, handler Handler) {
			defer wg.Done()
			r.runQueue(ctx, queueName, handler)
		}(name, h)
	}

	log.Printf("[Queue] Running %d worker loop(s) for instance '%s'", len(queues), r.instanceName)
	wg.Wait()
	return nil
}

// recover moves jobs left on the processing list back to the ready list.
// A job is on the processing list only while a worker holds it, so anything
// found here at startup was interrupted mid-attempt and must run again.
// This is what makes delivery at-least-once rather than at-most-once.
func (r *Runner) recover(ctx context.Context, queueName string) error {
	processingKey := ProcessingKey(r.instanceName, queueName)
	readyKey := ReadyKey(r.instanceName, queueName)

	for {
		jobID, err := r.rdb.RPopLPush(ctx, processingKey, readyKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("failed to move stranded job: %w", err)
		}
		log.Printf("[Queue] Recovered stranded job %s on queue %q", jobID, queueName)
	}
}

// runQueue is the worker loop for one queue: promote due retries, then drain
// the ready list, one job at a time.
func (r *Runner) runQueue(ctx context.Context, queueName string, h Handler) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Queue] Worker for %q shutting down", queueName)
			return

		case <-ticker.C:
			if err := r.promoteDelayed(ctx, queueName); err != nil && ctx.Err() == nil {
				log.Printf("[Queue] Error promoting delayed jobs on %q: %v", queueName, err)
			}

			for {
				jobID, err := r.rdb.RPopLPush(ctx,
					ReadyKey(r.instanceName, queueName),
					ProcessingKey(r.instanceName, queueName)).Result()
				if err != nil {
					if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
						log.Printf("[Queue] Error popping job on %q: %v", queueName, err)
					}
					break
				}

				r.execute(ctx, queueName, jobID, h)
			}
		}
	}
}

// promoteDelayed moves jobs whose retry time has arrived from the delayed
// set to the ready list.
func (r *Runner) promoteDelayed(ctx context.Context, queueName string) error {
	delayedKey := DelayedKey(r.instanceName, queueName)
	now := time.Now().UnixMilli()

	due, err := r.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed set: %w", err)
	}

	for _, jobID := range due {
		pipe := r.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey, jobID)
		pipe.LPush(ctx, ReadyKey(r.instanceName, queueName), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to promote job %s: %w", jobID, err)
		}
	}

	return nil
}

// execute runs a single job attempt and settles the outcome: delete on
// success, schedule a retry with backoff on failure, or move to the failed
// list once the attempt budget is spent.
func (r *Runner) execute(ctx context.Context, queueName string, jobID string, h Handler) {
	processingKey := ProcessingKey(r.instanceName, queueName)
	jobKey := JobKey(r.instanceName, jobID)

	job, err := r.getJob(ctx, jobID)
	if err != nil {
		// Record without a job hash cannot be retried; drop it from processing.
		log.Printf("[Queue] Dropping unreadable job %s on %q: %v", jobID, queueName, err)
		r.rdb.LRem(ctx, processingKey, 1, jobID)
		return
	}

	job.Attempts++
	if err := r.rdb.HSet(ctx, jobKey, "attempts", job.Attempts).Err(); err != nil {
		log.Printf("[Queue] Failed to record attempt for job %s: %v", jobID, err)
	}

	handlerErr := h(ctx, job)
	if handlerErr == nil {
		pipe := r.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey, 1, jobID)
		pipe.Del(ctx, jobKey)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[Queue] Failed to complete job %s: %v", jobID, err)
		}
		r.logEvent("job_complete", map[string]interface{}{
			"job_id":   jobID,
			"queue":    queueName,
			"attempts": job.Attempts,
		})
		return
	}

	job.LastError = handlerErr.Error()
	if err := r.rdb.HSet(ctx, jobKey, "last_error", job.LastError).Err(); err != nil {
		log.Printf("[Queue] Failed to record error for job %s: %v", jobID, err)
	}

	if job.Attempts >= job.MaxAttempts {
		pipe := r.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey, 1, jobID)
		pipe.LPush(ctx, FailedKey(r.instanceName, queueName), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[Queue] Failed to move job %s to failed list: %v", jobID, err)
		}
		log.Printf("[Queue] Job %s on %q permanently failed after %d attempts: %v",
			jobID, queueName, job.Attempts, handlerErr)
		r.logEvent("job_failed", map[string]interface{}{
			"job_id":   jobID,
			"queue":    queueName,
			"attempts": job.Attempts,
			"error":    handlerErr.Error(),
		})
		return
	}

	delay := job.Backoff.Delay(job.Attempts)
	readyAt := time.Now().Add(delay).UnixMilli()

	pipe := r.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, jobID)
	pipe.ZAdd(ctx, DelayedKey(r.instanceName, queueName), redis.Z{
		Score:  float64(readyAt),
		Member: jobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Queue] Failed to schedule retry for job %s: %v", jobID, err)
		return
	}

	r.logEvent("job_retry_scheduled", map[string]interface{}{
		"job_id":   jobID,
		"queue":    queueName,
		"attempts": job.Attempts,
		"delay_ms": delay.Milliseconds(),
		"error":    handlerErr.Error(),
	})
}

// getJob loads a job record by ID.
// Returns (nil, redis.Nil) if the record doesn't exist.
func (r *Runner) getJob(ctx context.Context, jobID string) (*Job, error) {
	hash, err := r.rdb.HGetAll(ctx, JobKey(r.instanceName, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return hashToJob(hash)
}

// Stats reports the depth of each state list for a queue.
type Stats struct {
	Ready      int64
	Processing int64
	Delayed    int64
	Failed     int64
}

// QueueStats returns current list depths for a named queue.
func (r *Runner) QueueStats(ctx context.Context, queueName string) (*Stats, error) {
	ready, err := r.rdb.LLen(ctx, ReadyKey(r.instanceName, queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ready depth: %w", err)
	}
	processing, err := r.rdb.LLen(ctx, ProcessingKey(r.instanceName, queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing depth: %w", err)
	}
	delayed, err := r.rdb.ZCard(ctx, DelayedKey(r.instanceName, queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	failed, err := r.rdb.LLen(ctx, FailedKey(r.instanceName, queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed depth: %w", err)
	}

	return &Stats{Ready: ready, Processing: processing, Delayed: delayed, Failed: failed}, nil
}

// FailedJobs returns up to limit job records from a queue's failed list,
// most recent first. Records with missing hashes are skipped.
func (r *Runner) FailedJobs(ctx context.Context, queueName string, limit int64) ([]*Job, error) {
	ids, err := r.rdb.LRange(ctx, FailedKey(r.instanceName, queueName), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed list: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.getJob(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// logEvent logs a structured event in JSON format.
func (r *Runner) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "queue"
	data["event_type"] = eventType
	data["instance"] = r.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Queue] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
