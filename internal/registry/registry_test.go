package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/podushkina/watermarkd/internal/task"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	b, err := NewRedis(mr.Addr(), "", 0, ttl)
	if err != nil {
		t.Fatalf("failed to create redis backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, mr
}

// forEachBackend runs fn against the in-memory and the redis backends.
func forEachBackend(t *testing.T, fn func(t *testing.T, r *Registry, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, New(NewMemory(), time.Hour, zaptest.NewLogger(t), WithClock(clock.Now)), clock)
	})
	t.Run("redis", func(t *testing.T) {
		clock := newFakeClock()
		b, _ := setupRedis(t, time.Hour)
		fn(t, New(b, time.Hour, zaptest.NewLogger(t), WithClock(clock.Now)), clock)
	})
}

func TestRegistry_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()

		created, err := r.Create(ctx, task.KindImage, "/tmp/in.png", "cat.png")
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, task.StatusQueued, created.Status)

		got, err := r.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusQueued, got.Status)
		assert.Nil(t, got.Result)
		assert.Empty(t, got.Error)

		clock.Advance(time.Second)
		processing, err := r.MarkProcessing(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusProcessing, processing.Status)
		assert.True(t, processing.UpdatedAt.After(created.UpdatedAt))

		done, err := r.Complete(ctx, created.ID, task.Artifact{
			Name:         "watermarked_x.png",
			Kind:         task.KindImage,
			OriginalName: "cat.png",
		})
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, done.Status)
		require.NotNil(t, done.Result)
		assert.Equal(t, "watermarked_x.png", done.Result.Name)
		assert.Empty(t, done.Error)

		_, err = r.Fail(ctx, created.ID, "late failure")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = r.MarkProcessing(ctx, created.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		got, err = r.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Equal(t, "cat.png", got.Result.OriginalName)
	})
}

func TestRegistry_Fail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()

		created, err := r.Create(ctx, task.KindVideo, "/tmp/in.mp4", "clip.mp4")
		require.NoError(t, err)
		_, err = r.MarkProcessing(ctx, created.ID)
		require.NoError(t, err)

		failed, err := r.Fail(ctx, created.ID, "encode failed")
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, failed.Status)
		assert.Equal(t, "encode failed", failed.Error)
		assert.Nil(t, failed.Result)

		_, err = r.Complete(ctx, created.ID, task.Artifact{Name: "x"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRegistry_FailWithoutMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()

		created, err := r.Create(ctx, task.KindImage, "", "a.png")
		require.NoError(t, err)

		failed, err := r.Fail(ctx, created.ID, "  ")
		require.NoError(t, err)
		assert.Equal(t, "unknown error", failed.Error)
	})
}

func TestRegistry_GetUnknown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		_, err := r.Get(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = r.MarkProcessing(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_EvictStale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()
		window := time.Hour
		eps := time.Second

		stale, err := r.Create(ctx, task.KindImage, "", "old.png")
		require.NoError(t, err)
		_, err = r.MarkProcessing(ctx, stale.ID)
		require.NoError(t, err)

		clock.Advance(2 * eps)
		fresh, err := r.Create(ctx, task.KindImage, "", "new.png")
		require.NoError(t, err)

		// stale was last updated window+eps ago, fresh window-eps ago.
		clock.Advance(window - eps)

		n, err := r.EvictStale(ctx, clock.Now(), window)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = r.Get(ctx, stale.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := r.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusQueued, got.Status)

		// A worker finishing an evicted task must not resurrect it.
		_, err = r.Complete(ctx, stale.ID, task.Artifact{Name: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.Get(ctx, stale.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_ConcurrentCreates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()
		const n = 40

		var wg sync.WaitGroup
		ids := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := r.Create(ctx, task.KindImage, "", "x.png")
				if assert.NoError(t, err) {
					ids <- created.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[string]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)

		all, err := r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, n)
	})
}

func TestRegistry_ConcurrentTransitionsSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *Registry, clock *fakeClock) {
		ctx := context.Background()
		created, err := r.Create(ctx, task.KindImage, "", "x.png")
		require.NoError(t, err)

		const n = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.MarkProcessing(ctx, created.ID); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrInvalidTransition)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestRegistry_RunSweeper(t *testing.T) {
	clock := newFakeClock()
	r := New(NewMemory(), time.Hour, zaptest.NewLogger(t), WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := r.Create(ctx, task.KindImage, "", "x.png")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	go r.RunSweeper(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, err := r.Get(ctx, created.ID)
		return err == ErrNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_InsertDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tk := &task.Task{ID: "same"}

	require.NoError(t, m.Insert(ctx, tk))
	assert.ErrorIs(t, m.Insert(ctx, tk), ErrExists)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, &task.Task{ID: "a", Status: task.StatusQueued}))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = task.StatusFailed

	again, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, again.Status)
}

func TestRedis_KeyExpiresAfterTTL(t *testing.T) {
	b, mr := setupRedis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Insert(ctx, &task.Task{ID: "ttl", Status: task.StatusQueued}))

	mr.FastForward(30 * time.Minute)
	_, err := b.Update(ctx, "ttl", func(t *task.Task) error {
		t.Status = task.StatusProcessing
		return nil
	})
	require.NoError(t, err)

	// The update refreshed the expiry.
	mr.FastForward(45 * time.Minute)
	_, err = b.Get(ctx, "ttl")
	require.NoError(t, err)

	mr.FastForward(time.Hour)
	_, err = b.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_InsertDuplicate(t *testing.T) {
	b, _ := setupRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, b.Insert(ctx, &task.Task{ID: "dup"}))
	assert.ErrorIs(t, b.Insert(ctx, &task.Task{ID: "dup"}), ErrExists)
}
