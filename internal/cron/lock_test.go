package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) LockKey(scope, id string) string {
	return "lock:" + scope + ":" + id
}

func TestRedisLockExcludesSecondOwner(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "test", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "test", 0)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(context.Background()))
	assert.Contains(t, store.values, "lock:cron-worker:test")

	require.NoError(t, first.Release(context.Background()))
	assert.Empty(t, store.values)
}
