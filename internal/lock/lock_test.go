package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	release, ok, err := l.TryLock(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(context.Background(), "job", time.Minute)
	assert.False(t, ok)

	_, ok, _ = l.TryLock(context.Background(), "other", time.Minute)
	assert.True(t, ok)

	release()
	_, ok, _ = l.TryLock(context.Background(), "job", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.Now = func() time.Time { return now }

	release, ok, _ := l.TryLock(context.Background(), "job", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(context.Background(), "job", time.Minute)
	require.True(t, ok)

	// A stale release must not drop the newer holder's lock.
	release()
	_, ok, _ = l.TryLock(context.Background(), "job", time.Minute)
	assert.False(t, ok)
}

func TestNewRedisLockerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLocker("not-a-redis-url")
	assert.Error(t, err)
}
