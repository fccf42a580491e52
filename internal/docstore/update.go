package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/newsroom/internal/retry"
)

// UpdateStats describes the work Update had to do.
type UpdateStats struct {
	Attempts  int
	Conflicts int
}

// DefaultConflictPolicy bounds the read-modify-write loop.
func DefaultConflictPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
	}
}

// Update reads key, decodes it into a T, applies mutate and writes the result
// conditioned on the version that was read. On a conflict the whole cycle is
// repeated against the fresher document, so mutate must be safe to run more
// than once and must derive its changes from the value it is given.
//
// A missing document starts from newDefault() and is created with an empty
// expected version, so two racing creators still serialize through the store.
func Update[T any](ctx context.Context, store Store, key string, newDefault func() T, mutate func(*T) error, policy retry.Policy) (T, UpdateStats, error) {
	var (
		stats  UpdateStats
		result T
	)

	_, err := retry.DoWhen(ctx, policy, isConflict, func(ctx context.Context) error {
		stats.Attempts++

		value, version, err := Load(ctx, store, key, newDefault)
		if err != nil {
			return err
		}

		if err := mutate(&value); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = value
				return nil
			}
			return err
		}

		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}

		if _, err := store.Write(ctx, key, data, version); err != nil {
			if isConflict(err) {
				stats.Conflicts++
			}
			return err
		}
		result = value
		return nil
	})

	switch {
	case err == nil:
		return result, stats, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return result, stats, err
	case errors.Is(err, ErrConflict), isStoreError(err):
		return result, stats, fmt.Errorf("%w: %s: %w", ErrPersistFailed, key, err)
	default:
		return result, stats, err
	}
}

// Load reads key bypassing any cache and decodes it. A missing document yields
// newDefault() and an empty version.
func Load[T any](ctx context.Context, store Store, key string, newDefault func() T) (T, string, error) {
	var doc Document
	var err error
	if fr, ok := store.(FreshReader); ok {
		doc, err = fr.ReadFresh(ctx, key)
	} else {
		doc, err = store.Read(ctx, key)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newDefault(), "", nil
	case err != nil:
		var zero T
		return zero, "", err
	}

	value := newDefault()
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &value); err != nil {
			var zero T
			return zero, "", fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return value, doc.Version, nil
}

// Get is Load through the store's regular (possibly cached) read path.
func Get[T any](ctx context.Context, store Store, key string, newDefault func() T) (T, error) {
	doc, err := store.Read(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return newDefault(), nil
	case err != nil:
		var zero T
		return zero, err
	}

	value := newDefault()
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &value); err != nil {
			var zero T
			return zero, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return value, nil
}

func isStoreError(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuthFailure)
}
