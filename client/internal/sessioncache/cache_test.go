package sessioncache

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/types"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestWrite_TrivialPayloadNeverPersisted(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	c := New[types.Stats](store)
	key := StatsKey("u1", types.RoleSeller)

	assert.False(t, c.Write(key, types.Stats{}))
	_, err := store.Get(key)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.True(t, c.Write(key, types.Stats{PendingProperties: 2}))
	assert.False(t, c.Write(key, types.Stats{}))
	got, _, ok := c.Read(key)
	require.True(t, ok, "previous value must survive a trivial write")
	assert.Equal(t, 2, got.PendingProperties)
}

func TestRead_FreshnessWindow(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemory(0)
	c := New[types.Stats](store, WithClock(clock.Now), WithFreshness(time.Minute))
	key := StatsKey("u1", types.RoleSeller)

	require.True(t, c.Write(key, types.Stats{UnreadMessages: 1}))

	clock.t = clock.t.Add(59 * time.Second)
	_, written, ok := c.Read(key)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), written.UTC())

	clock.t = clock.t.Add(time.Second)
	_, _, ok = c.Read(key)
	assert.False(t, ok)
	_, err := store.Get(key)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "stale entry should be discarded on read")
}

func TestRead_DiscardsCorruptAndTrivialEntries(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(0)
	c := New[types.Stats](store)

	require.NoError(t, store.Set("corrupt", []byte("nope")))
	_, _, ok := c.Read("corrupt")
	assert.False(t, ok)

	now := time.Now().UnixMilli()
	require.NoError(t, store.Set("zero", []byte(`{"t":`+strconv.FormatInt(now, 10)+`,"data":{}}`)))
	_, _, ok = c.Read("zero")
	assert.False(t, ok)
	_, err := store.Get("zero")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStatsKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stats:u1:admin", StatsKey("u1", types.RoleAdmin))
}
