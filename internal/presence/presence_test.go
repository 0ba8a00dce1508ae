package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func registries(t *testing.T) map[string]Registry {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, id := range []string{"u1", "u2"} {
		require.NoError(t, store.UpsertRider(ctx, models.Rider{Actor: models.Actor{ID: id}}))
	}
	for _, id := range []string{"c1", "u1"} {
		require.NoError(t, store.UpsertDriver(ctx, models.Driver{Actor: models.Actor{ID: id}}))
	}

	return map[string]Registry{
		"memory": NewMemory(),
		"redis":  NewRedis(client, "presence"),
		"store":  NewStore(store),
	}
}

func TestRegisterLookup(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := reg.Lookup(ctx, "u1", models.ActorRider)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, reg.Register(ctx, "u1", models.ActorRider, "conn-a"))
			conn, ok, err := reg.Lookup(ctx, "u1", models.ActorRider)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "conn-a", conn)

			// Same id, other actor type, is a different binding.
			_, ok, err = reg.Lookup(ctx, "u1", models.ActorDriver)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestReconnectLastWriteWins(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "c1", models.ActorDriver, "old"))
			require.NoError(t, reg.Register(ctx, "c1", models.ActorDriver, "new"))

			// The old socket closing after the reconnect must not unbind the driver.
			require.NoError(t, reg.Clear(ctx, "old"))
			conn, ok, err := reg.Lookup(ctx, "c1", models.ActorDriver)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "new", conn)
		})
	}
}

func TestClearRemovesEveryBinding(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "u1", models.ActorRider, "shared"))
			require.NoError(t, reg.Register(ctx, "u1", models.ActorDriver, "shared"))
			require.NoError(t, reg.Register(ctx, "u2", models.ActorRider, "other"))

			require.NoError(t, reg.Clear(ctx, "shared"))

			_, ok, err := reg.Lookup(ctx, "u1", models.ActorRider)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = reg.Lookup(ctx, "u1", models.ActorDriver)
			require.NoError(t, err)
			assert.False(t, ok)

			conn, ok, err := reg.Lookup(ctx, "u2", models.ActorRider)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "other", conn)

			require.NoError(t, reg.Clear(ctx, "never-seen"))
		})
	}
}

func TestMemoryReverseIndexShrinks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Register(ctx, "c1", models.ActorDriver, "a"))
	require.NoError(t, m.Register(ctx, "c1", models.ActorDriver, "b"))
	assert.NotContains(t, m.byConn, "a")
	assert.Len(t, m.byConn["b"], 1)
}
