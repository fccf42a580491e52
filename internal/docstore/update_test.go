package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/retry"
)

type counter struct {
	N     int      `json:"n"`
	Marks []string `json:"marks"`
}

func newCounter() counter { return counter{} }

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
}

// racingStore lets another writer slip in before the first n writes.
type racingStore struct {
	*MemoryStore
	mu    sync.Mutex
	races int
}

func (r *racingStore) Write(ctx context.Context, key string, data []byte, expected string) (string, error) {
	r.mu.Lock()
	race := r.races > 0
	if race {
		r.races--
	}
	r.mu.Unlock()

	if race {
		_, _, err := Update(ctx, r.MemoryStore, key, newCounter, func(c *counter) error {
			c.N++
			c.Marks = append(c.Marks, "rival")
			return nil
		}, fastPolicy(1))
		if err != nil {
			return "", err
		}
	}
	return r.MemoryStore.Write(ctx, key, data, expected)
}

func TestUpdate_CreatesMissingDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, stats, err := Update(ctx, store, "c.json", newCounter, func(c *counter) error {
		c.N++
		return nil
	}, fastPolicy(3))

	require.NoError(t, err)
	assert.Equal(t, 1, got.N)
	assert.Equal(t, UpdateStats{Attempts: 1}, stats)

	doc, err := store.Read(ctx, "c.json")
	require.NoError(t, err)
	var stored counter
	require.NoError(t, json.Unmarshal(doc.Data, &stored))
	assert.Equal(t, 1, stored.N)
}

func TestUpdate_ReappliesMutationAfterConflict(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: NewMemoryStore(), races: 2}

	got, stats, err := Update(ctx, store, "c.json", newCounter, func(c *counter) error {
		c.N++
		c.Marks = append(c.Marks, "mine")
		return nil
	}, fastPolicy(5))

	require.NoError(t, err)
	assert.Equal(t, 3, got.N)
	assert.Equal(t, []string{"rival", "rival", "mine"}, got.Marks)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 2, stats.Conflicts)
}

func TestUpdate_ConflictBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: NewMemoryStore(), races: 10}

	_, stats, err := Update(ctx, store, "c.json", newCounter, func(c *counter) error {
		c.N++
		return nil
	}, fastPolicy(3))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, stats.Conflicts)
}

func TestUpdate_NoChangeSkipsWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateIfMissing(ctx, "c.json", []byte(`{"n": 4}`))
	require.NoError(t, err)

	got, _, err := Update(ctx, store, "c.json", newCounter, func(c *counter) error {
		return ErrNoChange
	}, fastPolicy(3))

	require.NoError(t, err)
	assert.Equal(t, 4, got.N)
	assert.Equal(t, 1, store.Writes())
}

func TestUpdate_MutationErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	_, stats, err := Update(context.Background(), NewMemoryStore(), "c.json", newCounter, func(c *counter) error {
		return boom
	}, fastPolicy(3))

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, 1, stats.Attempts)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Write(context.Context, string, []byte, string) (string, error) {
	return "", f.err
}

func TestUpdate_AuthFailureIsTerminal(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: ErrAuthFailure}

	_, stats, err := Update(context.Background(), store, "c.json", newCounter, func(c *counter) error {
		c.N++
		return nil
	}, fastPolicy(5))

	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, 1, stats.Attempts)
}

func TestUpdate_ConcurrentWritersLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	const writers = 12

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Update(ctx, store, "c.json", newCounter, func(c *counter) error {
				c.N++
				return nil
			}, fastPolicy(100))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := Get(ctx, store, "c.json", newCounter)
	require.NoError(t, err)
	assert.Equal(t, writers, got.N)
}

func TestMemoryStore_Versioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Read(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	v1, err := store.Write(ctx, "k", []byte("a"), "")
	require.NoError(t, err)

	_, err = store.Write(ctx, "k", []byte("b"), "")
	assert.ErrorIs(t, err, ErrConflict)

	v2, err := store.Write(ctx, "k", []byte("b"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = store.Write(ctx, "k", []byte("c"), v1)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, v2, ce.Actual)

	v, err := store.CreateIfMissing(ctx, "k", []byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, v2, v)
}
