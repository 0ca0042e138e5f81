// Package queue implements the durable, retrying job queue that decouples
// inbound webhook receipt from processing. Jobs are persisted to Redis at
// enqueue time and delivered at-least-once to registered handlers, with
// per-job retry budgets and backoff. Jobs that exhaust their budget land on
// an operator-visible failed list rather than disappearing.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffType selects how retry delays grow between attempts.
type BackoffType string

const (
	// BackoffExponential doubles the delay after each failed attempt.
	BackoffExponential BackoffType = "exponential"

	// BackoffFixed retries at a constant interval.
	BackoffFixed BackoffType = "fixed"
)

// Validate checks if the BackoffType is a valid enum value.
func (bt BackoffType) Validate() error {
	switch bt {
	case BackoffExponential, BackoffFixed:
		return nil
	default:
		return fmt.Errorf("unknown backoff type: %q", bt)
	}
}

// Backoff describes a job's retry delay policy.
type Backoff struct {
	Type      BackoffType   `json:"type"`
	BaseDelay time.Duration `json:"base_delay"`
}

// Delay returns the delay to wait before the given retry. attempt is the
// number of attempts already made (1 after the first failure).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if b.Type == BackoffFixed {
		return backoff.NewConstantBackOff(b.BaseDelay).NextBackOff()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.BaseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = 24 * time.Hour
	eb.MaxElapsedTime = 0

	delay := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}

// Options configures a job at enqueue time.
type Options struct {
	MaxAttempts int     // Total attempts before the job is marked failed
	Backoff     Backoff // Delay policy between attempts
}

// DefaultOptions returns the standard retry policy for webhook processing
// jobs: 10 attempts with exponential backoff starting at 10 seconds.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 10,
		Backoff: Backoff{
			Type:      BackoffExponential,
			BaseDelay: 10 * time.Second,
		},
	}
}

// Validate checks if the Options have valid field values.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", o.MaxAttempts)
	}
	if err := o.Backoff.Type.Validate(); err != nil {
		return err
	}
	if o.Backoff.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %v", o.Backoff.BaseDelay)
	}
	return nil
}

// Job is a unit of deferred work owned by the queue until it terminally
// succeeds or exhausts its attempt budget.
type Job struct {
	ID          string          `json:"id"`           // UUID assigned at enqueue time
	Queue       string          `json:"queue"`        // Name of the queue this job belongs to
	Payload     json.RawMessage `json:"payload"`      // JSON-encoded job payload
	Attempts    int             `json:"attempts"`     // Attempts made so far
	MaxAttempts int             `json:"max_attempts"` // Attempt budget
	Backoff     Backoff         `json:"backoff"`      // Retry delay policy
	CreatedAtMs int64           `json:"created_at_ms"`
	LastError   string          `json:"last_error,omitempty"` // Error from the most recent failed attempt
}

// Unmarshal decodes the job payload into v.
func (j *Job) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return nil
}

// jobToHash converts a Job to a Redis hash. The backoff policy is flattened
// into scalar fields so the record stays queryable with plain HGET.
func jobToHash(j *Job) map[string]interface{} {
	return map[string]interface{}{
		"id":            j.ID,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"attempts":      j.Attempts,
		"max_attempts":  j.MaxAttempts,
		"backoff_type":  string(j.Backoff.Type),
		"base_delay_ms": j.Backoff.BaseDelay.Milliseconds(),
		"created_at_ms": j.CreatedAtMs,
		"last_error":    j.LastError,
	}
}

// hashToJob converts a Redis hash back to a Job.
func hashToJob(hash map[string]string) (*Job, error) {
	attempts, err := strconv.Atoi(hash["attempts"])
	if err != nil {
		return nil, fmt.Errorf("invalid attempts field: %w", err)
	}

	maxAttempts, err := strconv.Atoi(hash["max_attempts"])
	if err != nil {
		return nil, fmt.Errorf("invalid max_attempts field: %w", err)
	}

	baseDelayMs, err := strconv.ParseInt(hash["base_delay_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid base_delay_ms field: %w", err)
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Job{
		ID:          hash["id"],
		Queue:       hash["queue"],
		Payload:     json.RawMessage(hash["payload"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Backoff: Backoff{
			Type:      BackoffType(hash["backoff_type"]),
			BaseDelay: time.Duration(baseDelayMs) * time.Millisecond,
		},
		CreatedAtMs: createdAtMs,
		LastError:   hash["last_error"],
	}, nil
}
