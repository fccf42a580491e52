// Package docstore is the client side of the versioned document store. Every
// write is conditioned on the version the writer read; there are no blind
// overwrites.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("document version conflict")
	ErrTransientIO   = errors.New("transient store failure")
	ErrRateLimited   = errors.New("store rate limited")
	ErrAuthFailure   = errors.New("store authentication failed")
	ErrPersistFailed = errors.New("persist failed")

	// ErrNoChange may be returned by an Update mutation to skip the write.
	ErrNoChange = errors.New("no change")
)

// Document is a blob together with the version token it was read at.
type Document struct {
	Key     string
	Data    []byte
	Version string
}

// Store is a key/blob store with compare-and-swap writes.
type Store interface {
	// Read returns the current content and version of key.
	Read(ctx context.Context, key string) (Document, error)

	// Write replaces key only if its current version equals expectedVersion.
	// An empty expectedVersion creates the document and fails if it exists.
	Write(ctx context.Context, key string, data []byte, expectedVersion string) (string, error)

	// CreateIfMissing creates key with initial content. If key already exists
	// it succeeds and returns the existing version.
	CreateIfMissing(ctx context.Context, key string, initial []byte) (string, error)
}

// FreshReader is implemented by stores that can bypass a cache.
type FreshReader interface {
	ReadFresh(ctx context.Context, key string) (Document, error)
}

// ConflictError reports a write against a stale version.
type ConflictError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("conflict on %s: document already exists", e.Key)
	}
	return fmt.Sprintf("conflict on %s: expected version %q, found %q", e.Key, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RateLimitError carries the quota state reported by the remote host.
type RateLimitError struct {
	Remaining int
	Reset     time.Time
	Wait      time.Duration // explicit Retry-After, if any
}

func (e *RateLimitError) Error() string {
	if !e.Reset.IsZero() {
		return fmt.Sprintf("store rate limited: %d remaining, resets at %s", e.Remaining, e.Reset.Format(time.RFC3339))
	}
	return fmt.Sprintf("store rate limited: retry after %s", e.Wait)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter is the wait suggested by the host.
func (e *RateLimitError) RetryAfter() time.Duration {
	if e.Wait > 0 {
		return e.Wait
	}
	if !e.Reset.IsZero() {
		if d := time.Until(e.Reset); d > 0 {
			return d
		}
	}
	return 0
}

// Retryable reports whether a read or write failure may succeed on its own.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrRateLimited)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
