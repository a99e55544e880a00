package clientstore

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps client storage in process memory. It suits single
// instance deployments and tests.
type MemoryBackend struct {
	c        *gocache.Cache
	maxValue int
	// mu orders writes against Refresh, which rewrites values to reset expiry.
	mu sync.Mutex
}

// NewMemoryBackend constructs a MemoryBackend with the given entry TTL.
func NewMemoryBackend(ttl time.Duration, maxValue int) *MemoryBackend {
	return &MemoryBackend{c: gocache.New(ttl, time.Minute), maxValue: maxValue}
}

// Scope returns the storage of one client.
func (b *MemoryBackend) Scope(clientID string) Storage {
	return &memoryStorage{backend: b, clientID: clientID}
}

// Each visits clients holding key in client id order.
func (b *MemoryBackend) Each(ctx context.Context, key string, fn func(clientID, value string) error) error {
	items := b.c.Items()
	composites := make([]string, 0, len(items))
	for k := range items {
		composites = append(composites, k)
	}
	sort.Strings(composites)
	for _, composite := range composites {
		if err := ctx.Err(); err != nil {
			return err
		}
		clientID, ok := splitKey(composite, key)
		if !ok {
			continue
		}
		value, _ := items[composite].Object.(string)
		if err := fn(clientID, value); err != nil {
			return err
		}
	}
	return nil
}

// Refresh rewrites the client's values with a fresh expiry.
func (b *MemoryBackend) Refresh(_ context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClient
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range clientKeys {
		composite := compositeKey(clientID, key)
		if v, ok := b.c.Get(composite); ok {
			b.c.SetDefault(composite, v)
		}
	}
	return nil
}

type memoryStorage struct {
	backend  *MemoryBackend
	clientID string
}

func (s *memoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	if s.clientID == "" {
		return "", false, ErrInvalidClient
	}
	v, ok := s.backend.c.Get(compositeKey(s.clientID, key))
	if !ok {
		return "", false, nil
	}
	value, _ := v.(string)
	return value, true, nil
}

func (s *memoryStorage) Set(_ context.Context, key, value string) error {
	if s.clientID == "" {
		return ErrInvalidClient
	}
	if s.backend.maxValue > 0 && len(value) > s.backend.maxValue {
		return ErrQuotaExceeded
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.c.SetDefault(compositeKey(s.clientID, key), value)
	return nil
}

func (s *memoryStorage) Delete(_ context.Context, key string) error {
	if s.clientID == "" {
		return ErrInvalidClient
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.c.Delete(compositeKey(s.clientID, key))
	return nil
}
