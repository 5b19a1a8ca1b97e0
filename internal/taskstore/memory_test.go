package taskstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSingleConsumption(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "unknown ids are absent")

	require.NoError(t, store.SetTerminal(ctx, Completed("t1", "https://cdn/final.png", at)))

	got, ok, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)

	got, ok, err = store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://cdn/final.png", got.Result)

	_, ok, err = store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "second take finds nothing")
	assert.Zero(t, store.Len())
}

func TestMemoryStoreRejectsInvalidWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.SetTerminal(ctx, Pending("t1")), ErrNotTerminal)
	assert.ErrorIs(t, store.SetTerminal(ctx, View{Status: StatusFailed}), ErrMissingID)

	require.NoError(t, store.SetTerminal(ctx, Failed("t1", errors.New("boom"), time.Now())))
	assert.ErrorIs(t, store.SetTerminal(ctx, Completed("t1", "late", time.Now())), ErrAlreadyTerminal)

	got, _, _ := store.Get(ctx, "t1")
	assert.Equal(t, "boom", got.Error, "first terminal write wins")
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.SetTerminal(ctx, Completed("old", "a", now)))
	now = now.Add(20 * time.Minute)
	require.NoError(t, store.SetTerminal(ctx, Completed("fresh", "b", now)))
	now = now.Add(15 * time.Minute)

	assert.Equal(t, 1, store.Sweep(30*time.Minute))

	_, ok, _ := store.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestMemoryStoreConcurrentWritersAndPollers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	const n = 200

	var wg sync.WaitGroup
	taken := make(chan View, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("task-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.SetTerminal(ctx, Completed(id, "result-"+id, time.Now())))
		}()
		go func() {
			defer wg.Done()
			for {
				view, ok, err := store.TakeIfTerminal(ctx, id)
				assert.NoError(t, err)
				if ok {
					taken <- view
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	close(taken)

	seen := make(map[string]bool)
	for view := range taken {
		assert.Equal(t, "result-"+view.ID, view.Result)
		assert.False(t, seen[view.ID], "task %s consumed twice", view.ID)
		seen[view.ID] = true
	}
	assert.Len(t, seen, n)
	assert.Zero(t, store.Len())
}
