package cache

import (
	"context"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage implements Storage in process memory. Entries never expire;
// a partition lives until it is deleted.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: make(map[string]*memoryPartition)}
}

// Open implements Storage
func (ms *MemoryStorage) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if p, ok := ms.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{
		name:  name,
		items: gocache.New(gocache.NoExpiration, 0),
	}
	ms.partitions[name] = p
	ms.order = append(ms.order, name)
	return p, nil
}

// Has implements Storage
func (ms *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.partitions[name]
	return ok, nil
}

// Delete implements Storage
func (ms *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	p, ok := ms.partitions[name]
	if !ok {
		return false, nil
	}
	p.items.Flush()
	delete(ms.partitions, name)
	for i, n := range ms.order {
		if n == name {
			ms.order = append(ms.order[:i], ms.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Keys implements Storage
func (ms *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]string(nil), ms.order...), nil
}

// Match implements Storage
func (ms *MemoryStorage) Match(ctx context.Context, key string) (*Entry, error) {
	ms.mu.RLock()
	partitions := make([]Partition, 0, len(ms.order))
	for _, name := range ms.order {
		partitions = append(partitions, ms.partitions[name])
	}
	ms.mu.RUnlock()
	return matchAll(ctx, partitions, key)
}

type memoryPartition struct {
	name  string
	items *gocache.Cache
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(ctx context.Context, key string) (*Entry, error) {
	v, ok := p.items.Get(key)
	if !ok {
		return nil, ErrCacheNotFound
	}
	// Hand out a copy so callers cannot mutate the stored entry
	entry := *(v.(*Entry))
	entry.Header = entry.Header.Clone()
	return &entry, nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return ErrNotCacheable
	}
	stored := *entry
	stored.URL = key
	stored.Header = entry.Header.Clone()
	stored.Body = append([]byte(nil), entry.Body...)
	p.items.Set(key, &stored, gocache.NoExpiration)
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, key string) (bool, error) {
	if _, ok := p.items.Get(key); !ok {
		return false, nil
	}
	p.items.Delete(key)
	return true, nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]string, error) {
	items := p.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
