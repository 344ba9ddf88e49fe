package statusstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStoreKeepsNewestSnapshot(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := store.Get(ctx, 1)
			require.NoError(t, err)
			assert.False(t, found)

			run := domain.NewPipelineRun(1, "run-a", now)
			integrating, _ := run.Advance(domain.PhaseIntegrating, 10, "integrating", now)
			tagging, _ := integrating.Advance(domain.PhaseTagging, 25, "tagging", now)

			require.NoError(t, store.Save(ctx, tagging))
			require.NoError(t, store.Save(ctx, integrating), "stale snapshot is ignored")

			got, found, err := store.Get(ctx, 1)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, domain.PhaseTagging, got.Phase)
			assert.Equal(t, 25, got.Progress)

			retry := domain.NewPipelineRun(1, "run-b", now.Add(time.Minute))
			require.NoError(t, store.Save(ctx, retry))
			got, _, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "run-b", got.RunID, "a later run replaces the record")
		})
	}
}

func TestMemoryStoreConcurrentWritersKeepHighestVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	base := domain.NewPipelineRun(5, "run", now)

	var wg sync.WaitGroup
	for v := int64(1); v <= 50; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			snap := base
			snap.Version = v
			_ = store.Save(ctx, snap)
		}(v)
	}
	wg.Wait()

	got, found, err := store.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(50), got.Version)
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.NewPipelineRun(9, "run", time.Now())))
	assert.Equal(t, time.Hour, mr.TTL(key(9)))

	mr.FastForward(2 * time.Hour)
	_, found, err := store.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found)
}
