package blackboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance.
func setupTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

// nextEvent reads one event from a subscription with a timeout guard.
func nextEvent(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blackboard event")
		return nil
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestUpsertFact(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes and reads back", func(t *testing.T) {
		f := StringFact("goal", "profile the sales dataset")
		require.NoError(t, client.UpsertFact(ctx, f))

		got, err := client.GetFact(ctx, "goal")
		require.NoError(t, err)
		assert.Equal(t, "goal", got.Key)
		assert.Equal(t, "string", got.Type)

		s, err := got.Text()
		require.NoError(t, err)
		assert.Equal(t, "profile the sales dataset", s)
	})

	t.Run("last write wins", func(t *testing.T) {
		require.NoError(t, client.UpsertFact(ctx, NumberFact("metric:age", 0.1)))
		require.NoError(t, client.UpsertFact(ctx, NumberFact("metric:age", 0.4)))

		got, err := client.GetFact(ctx, "metric:age")
		require.NoError(t, err)
		v, err := got.Float()
		require.NoError(t, err)
		assert.Equal(t, 0.4, v)
	})

	t.Run("rejects invalid fact", func(t *testing.T) {
		err := client.UpsertFact(ctx, Fact{Key: "", Type: "string", Value: json.RawMessage(`"x"`)})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid fact")
	})

	t.Run("rejects non-JSON value", func(t *testing.T) {
		err := client.UpsertFact(ctx, Fact{Key: "k", Type: "string", Value: json.RawMessage(`{`)})
		assert.Error(t, err)
	})
}

func TestGetFactNotFound(t *testing.T) {
	client := setupTestClient(t)

	_, err := client.GetFact(context.Background(), "absent")
	assert.True(t, IsNotFound(err))
}

func TestHasFact(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	ok, err := client.HasFact(ctx, "plan")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.UpsertFact(ctx, StringFact("plan", "steps")))

	ok, err = client.HasFact(ctx, "plan")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactsSnapshot(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.UpsertFact(ctx, StringFact("goal", "g")))
	require.NoError(t, client.UpsertFact(ctx, NumberFact("metric:a", 0.1)))
	require.NoError(t, client.UpsertFact(ctx, NumberFact("metric:b", 0.2)))

	all, err := client.Facts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	metrics, err := client.Facts(ctx, func(f Fact) bool {
		return len(f.Key) > 7 && f.Key[:7] == "metric:"
	})
	require.NoError(t, err)
	assert.Len(t, metrics, 2)
}

func TestAddArtifact(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("appends and reads back in order", func(t *testing.T) {
		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "a.png", Type: "image/png", Path: "/out/a.png"}))
		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "b.csv", Type: "table", Path: "/out/b.csv"}))

		got, err := client.Artifacts(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a.png", got[0].Name)
		assert.Equal(t, "b.csv", got[1].Name)
	})

	t.Run("duplicates by name are both queryable", func(t *testing.T) {
		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "dup.png", Type: "image/png", Path: "/out/1.png"}))
		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "dup.png", Type: "image/png", Path: "/out/2.png"}))

		dups, err := client.Artifacts(ctx, func(a Artifact) bool { return a.Name == "dup.png" })
		require.NoError(t, err)
		assert.Len(t, dups, 2)
	})

	t.Run("rejects invalid artifact", func(t *testing.T) {
		err := client.AddArtifact(ctx, Artifact{Name: "", Type: "t", Path: "/p"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid artifact")
	})
}

func TestSubscribeEvents(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("fact upsert emits event even when value unchanged", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		f := StringFact("goal", "same value")
		require.NoError(t, client.UpsertFact(ctx, f))
		require.NoError(t, client.UpsertFact(ctx, f))

		ev1 := nextEvent(t, sub)
		assert.Equal(t, EventFactUpserted, ev1.Kind)
		assert.Equal(t, "goal", ev1.Key)

		ev2 := nextEvent(t, sub)
		assert.Equal(t, EventFactUpserted, ev2.Kind)
		assert.Equal(t, "goal", ev2.Subject())
	})

	t.Run("artifact add emits event", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "plot.png", Type: "image/png", Path: "/out/plot.png"}))

		ev := nextEvent(t, sub)
		assert.Equal(t, EventArtifactAdded, ev.Kind)
		assert.Equal(t, "plot.png", ev.Name)
		assert.Equal(t, "plot.png", ev.Subject())
	})

	t.Run("events arrive in mutation order", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.UpsertFact(ctx, StringFact("step", "one")))
		require.NoError(t, client.AddArtifact(ctx, Artifact{Name: "x.png", Type: "image/png", Path: "/x.png"}))
		require.NoError(t, client.UpsertFact(ctx, StringFact("step", "two")))

		assert.Equal(t, EventFactUpserted, nextEvent(t, sub).Kind)
		assert.Equal(t, EventArtifactAdded, nextEvent(t, sub).Kind)
		assert.Equal(t, EventFactUpserted, nextEvent(t, sub).Kind)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})
}

func TestEventKindValidate(t *testing.T) {
	assert.NoError(t, EventFactUpserted.Validate())
	assert.NoError(t, EventArtifactAdded.Validate())
	assert.Error(t, EventKind("nope").Validate())
}
