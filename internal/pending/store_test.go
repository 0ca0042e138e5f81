package pending

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhook/deskhook/pkg/events"
)

// setupTestStore creates a test store connected to a miniredis instance
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestNewStore(t *testing.T) {
	t.Run("creates store successfully", func(t *testing.T) {
		store, _ := setupTestStore(t)
		assert.NotNil(t, store)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewStore(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPutAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	conv := &events.Conversation{
		ID:           "conv-1",
		Participants: []string{"user-1", "user-2"},
		Metadata:     map[string]string{"topic": "billing"},
	}

	require.NoError(t, store.Put(ctx, conv))

	retrieved, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, retrieved.ID)
	assert.Equal(t, conv.Participants, retrieved.Participants)
	assert.Equal(t, conv.Metadata, retrieved.Metadata)
}

func TestPutRejectsEmptyID(t *testing.T) {
	store, _ := setupTestStore(t)

	err := store.Put(context.Background(), &events.Conversation{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "conversation id cannot be empty")
}

func TestGetNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	conv, err := store.Get(context.Background(), "missing")
	assert.Nil(t, conv)
	assert.True(t, IsNotFound(err))
}

func TestDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &events.Conversation{ID: "conv-1"}))
	require.NoError(t, store.Delete(ctx, "conv-1"))

	_, err := store.Get(ctx, "conv-1")
	assert.True(t, IsNotFound(err))

	// Deleting a missing entry is not an error.
	assert.NoError(t, store.Delete(ctx, "conv-1"))
}

func TestKeysAreInstanceNamespaced(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &events.Conversation{ID: "conv-1"}))

	assert.True(t, mr.Exists("deskhook:test-instance:conversation:conv-1"))

	other, err := NewStore(&redis.Options{Addr: mr.Addr()}, "other-instance")
	require.NoError(t, err)
	defer other.Close()

	_, err = other.Get(ctx, "conv-1")
	assert.True(t, IsNotFound(err))
}
