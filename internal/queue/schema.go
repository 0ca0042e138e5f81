package queue

import "fmt"

// Redis key pattern helpers
//
// All queue keys are namespaced by instance name so multiple integration
// instances can safely share one Redis server.
//
// Each named queue owns four keys:
//   ready      LIST of job IDs awaiting a worker
//   processing LIST of job IDs currently held by a worker
//   delayed    ZSET of job IDs scheduled for retry, scored by ready time (ms)
//   failed     LIST of job IDs that exhausted their attempt budget
//
// Job records themselves are hashes keyed by job ID.

// JobKey returns the Redis key for a job record.
// Pattern: deskhook:{instance_name}:job:{job_id}
func JobKey(instanceName, jobID string) string {
	return fmt.Sprintf("deskhook:%s:job:%s", instanceName, jobID)
}

// ReadyKey returns the Redis key for a queue's ready list.
// Pattern: deskhook:{instance_name}:queue:{queue_name}:ready
func ReadyKey(instanceName, queueName string) string {
	return fmt.Sprintf("deskhook:%s:queue:%s:ready", instanceName, queueName)
}

// ProcessingKey returns the Redis key for a queue's processing list.
// Pattern: deskhook:{instance_name}:queue:{queue_name}:processing
func ProcessingKey(instanceName, queueName string) string {
	return fmt.Sprintf("deskhook:%s:queue:%s:processing", instanceName, queueName)
}

// DelayedKey returns the Redis key for a queue's delayed retry set.
// Pattern: deskhook:{instance_name}:queue:{queue_name}:delayed
func DelayedKey(instanceName, queueName string) string {
	return fmt.Sprintf("deskhook:%s:queue:%s:delayed", instanceName, queueName)
}

// FailedKey returns the Redis key for a queue's failed list.
// Pattern: deskhook:{instance_name}:queue:{queue_name}:failed
func FailedKey(instanceName, queueName string) string {
	return fmt.Sprintf("deskhook:%s:queue:%s:failed", instanceName, queueName)
}
