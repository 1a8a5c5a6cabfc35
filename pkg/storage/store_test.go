package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTime is a settable time source shared by the store under test
type fakeTime struct{ t time.Time }

func (f *fakeTime) now() time.Time { return f.t }

func newBoltForTest(t *testing.T, ft *fakeTime) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	s.now = ft.now
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLockStoreBackends(t *testing.T) {
	backends := map[string]func(t *testing.T, ft *fakeTime) LockStore{
		"bolt": func(t *testing.T, ft *fakeTime) LockStore { return newBoltForTest(t, ft) },
		"memory": func(t *testing.T, ft *fakeTime) LockStore {
			return NewMemoryStoreWithClock(ft.now)
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ft := &fakeTime{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
			s := open(t, ft)

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "k", "1", time.Hour))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "1", v)

			ft.t = ft.t.Add(59 * time.Minute)
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok, "key should live until its deadline")

			ft.t = ft.t.Add(time.Minute)
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok, "key should expire at its deadline")

			require.NoError(t, s.Put(ctx, "k2", "1", time.Hour))
			require.NoError(t, s.Delete(ctx, "k2"))
			_, ok, err = s.Get(ctx, "k2")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, s.Delete(ctx, "never-written"))
			assert.Error(t, s.Put(ctx, "bad", "1", 0))
			assert.Equal(t, name, s.Name())
		})
	}
}

func TestBoltStorePurge(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTime{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	s := newBoltForTest(t, ft)

	require.NoError(t, s.Put(ctx, "short", "1", time.Minute))
	require.NoError(t, s.Put(ctx, "long", "1", time.Hour))

	ft.t = ft.t.Add(2 * time.Minute)
	removed, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "app:2025-06-01", "1", time.Hour))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, "app:2025-06-01")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, s.Name())

	_, err = Open(Options{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(Options{Backend: BackendRedis})
	assert.Error(t, err, "redis backend needs a url")
}

func TestMemoryStoreTTL(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1000, 0)}
	s := NewMemoryStoreWithClock(ft.now)
	require.NoError(t, s.Put(context.Background(), "k", "1", 90*time.Second))

	assert.Equal(t, 90*time.Second, s.TTL("k"))
	assert.Equal(t, time.Duration(0), s.TTL("other"))
	assert.Equal(t, 1, s.Len())
}
