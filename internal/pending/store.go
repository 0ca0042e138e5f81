// Package pending implements the pending-conversation store: the record of
// conversations that have been created but have not yet received the message
// that turns them into a ticket.
//
// Entries are short-lived by protocol, not by expiry. A conversation is
// written on conversation.created, and deleted as soon as a ticket exists for
// it. All keys are namespaced by instance name so multiple integration
// instances can safely share one Redis server.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/deskhook/deskhook/pkg/events"
)

// Key returns the Redis key for a pending conversation entry.
// Pattern: deskhook:{instance_name}:conversation:{conversation_id}
func Key(instanceName, conversationID string) string {
	return fmt.Sprintf("deskhook:%s:conversation:%s", instanceName, conversationID)
}

// Store provides instance-scoped access to pending conversation entries.
// The store is thread-safe and can be used concurrently from multiple
// goroutines; individual operations are atomic but read-then-write sequences
// are not (see the dispatcher's duplicate-ticket guard).
type Store struct {
	rdb          *redis.Client
	instanceName string
}

// NewStore creates a pending-conversation store for the specified instance.
// Returns an error if instanceName is empty.
func NewStore(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Put writes a conversation to the store, marking it as awaiting its first
// message. Overwrites any existing entry for the same conversation ID.
func (s *Store) Put(ctx context.Context, conv *events.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to serialize conversation: %w", err)
	}

	key := Key(s.instanceName, conv.ID)
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write conversation to Redis: %w", err)
	}

	return nil
}

// Get retrieves a pending conversation by ID.
// Returns (nil, redis.Nil) if no entry exists; use IsNotFound to check.
func (s *Store) Get(ctx context.Context, conversationID string) (*events.Conversation, error) {
	key := Key(s.instanceName, conversationID)

	data, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read conversation from Redis: %w", err)
	}

	var conv events.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("failed to deserialize conversation: %w", err)
	}

	return &conv, nil
}

// Delete removes a pending conversation entry. Deleting an entry that does
// not exist is not an error; the transition to ticketed is idempotent.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	key := Key(s.instanceName, conversationID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation from Redis: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if Get returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
