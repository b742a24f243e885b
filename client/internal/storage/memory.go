package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds the in-memory store.
const DefaultMemoryEntries = 1024

// Memory is a bounded in-process Store. The least recently used key is
// evicted when the bound is reached.
type Memory struct {
	cache *lru.Cache[string, []byte]
}

// NewMemory constructs a Memory store holding at most size keys.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Memory{cache: c}
}

func (m *Memory) Get(key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.cache.Add(key, v)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.cache.Remove(key)
	return nil
}

func (m *Memory) Close() error {
	m.cache.Purge()
	return nil
}
