package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := &memoryCache{m: map[string]entry{}, now: func() time.Time { return now }}

	require.NoError(t, c.Set(ctx, "lessons", []byte(`[1]`), time.Minute))
	got, err := c.Get(ctx, "lessons")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "lessons")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NotContains(t, c.m, "lessons")
}

func TestMemoryCache_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := &memoryCache{m: map[string]entry{}, now: func() time.Time { return now }}

	require.NoError(t, c.Set(ctx, "exam:1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "exam:2", []byte("b"), time.Hour))
	require.NoError(t, c.Set(ctx, "pinned", []byte("c"), 0))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Len(t, c.m, 2)
	assert.NotContains(t, c.m, "exam:1")
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, "a", []byte("x"), 0))
	require.NoError(t, c.Delete(ctx, "a", "missing"))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "a", []byte("x"), time.Minute))
	_, err := c.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrMiss)
}
