// Package cache provides named, partitioned storage for HTTP responses.
// A Storage holds any number of partitions; each Partition maps a request
// key to the most recent successful response stored under it.
package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrCacheNotFound is returned when no entry is stored under a key
	ErrCacheNotFound = errors.New("cache entry not found")
	// ErrNotCacheable is returned when a response must not be stored
	ErrNotCacheable = errors.New("response is not cacheable")
)

// Entry represents a stored response with metadata
type Entry struct {
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body"`
	ETag      string      `json:"etag,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Reader defines the interface for reading cache entries
type Reader interface {
	// Match returns the entry stored under key, or ErrCacheNotFound
	Match(ctx context.Context, key string) (*Entry, error)
}

// Writer defines the interface for writing cache entries
type Writer interface {
	// Put stores entry under key, replacing any previous entry
	Put(ctx context.Context, key string, entry *Entry) error
	// Delete removes the entry under key and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)
}

// Partition is a single named cache
type Partition interface {
	Reader
	Writer
	Name() string
	// Keys lists the request keys held by the partition
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of partitions belonging to one origin
type Storage interface {
	// Open returns the named partition, creating it when missing
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete drops the named partition and every entry in it
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists partition names in creation order
	Keys(ctx context.Context) ([]string, error)
	// Match searches every partition, in Keys order, for key
	Match(ctx context.Context, key string) (*Entry, error)
}

// matchAll searches partitions in order. It never creates a partition, so a
// concurrent Delete is not undone by a lookup.
func matchAll(ctx context.Context, partitions []Partition, key string) (*Entry, error) {
	for _, p := range partitions {
		entry, err := p.Match(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrCacheNotFound) {
			return nil, err
		}
	}
	return nil, ErrCacheNotFound
}
