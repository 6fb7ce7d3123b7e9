package consent

import (
	"errors"
	"sync"
)

// Storage is the browser's per-origin key/value store.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

var ErrStorageUnavailable = errors.New("consent: storage unavailable")

// MemoryStorage is an in-process Storage. FailWrites and FailReads simulate
// a full or blocked store.
type MemoryStorage struct {
	mu         sync.Mutex
	values     map[string]string
	FailWrites bool
	FailReads  bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return "", false, ErrStorageUnavailable
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrStorageUnavailable
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrStorageUnavailable
	}
	delete(s.values, key)
	return nil
}
