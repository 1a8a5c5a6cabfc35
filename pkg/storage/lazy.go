package storage

import (
	"context"
	"sync"
	"time"
)

// LazyStore defers opening a backend until the first key operation. A
// failed open is not cached, so the next operation tries again.
type LazyStore struct {
	name string
	open func() (LockStore, error)

	mu    sync.Mutex
	store LockStore
}

// NewLazyStore wraps open. name is reported by Name without opening.
func NewLazyStore(name string, open func() (LockStore, error)) *LazyStore {
	return &LazyStore{name: name, open: open}
}

// NewLazy returns a LazyStore for the backend opts describes
func NewLazy(opts Options) *LazyStore {
	name := opts.Backend
	if name == "" {
		name = BackendBolt
	}
	return NewLazyStore(name, func() (LockStore, error) { return Open(opts) })
}

// Open opens the backend if it is not open yet
func (s *LazyStore) Open() (LockStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	store, err := s.open()
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

// Opened reports whether the backend has been opened
func (s *LazyStore) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store != nil
}

// Get opens the backend and reads key
func (s *LazyStore) Get(ctx context.Context, key string) (string, bool, error) {
	store, err := s.Open()
	if err != nil {
		return "", false, err
	}
	return store.Get(ctx, key)
}

// Put opens the backend and writes key
func (s *LazyStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	store, err := s.Open()
	if err != nil {
		return err
	}
	return store.Put(ctx, key, value, ttl)
}

// Delete opens the backend and removes key
func (s *LazyStore) Delete(ctx context.Context, key string) error {
	store, err := s.Open()
	if err != nil {
		return err
	}
	return store.Delete(ctx, key)
}

// Purge sweeps expired keys when the backend supports it
func (s *LazyStore) Purge(ctx context.Context) (int, error) {
	store, err := s.Open()
	if err != nil {
		return 0, err
	}
	if p, ok := store.(Purger); ok {
		return p.Purge(ctx)
	}
	return 0, nil
}

// Name returns the backend name
func (s *LazyStore) Name() string { return s.name }

// Close closes the backend if it was opened
func (s *LazyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
