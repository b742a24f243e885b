// Package sessioncache shields expensive aggregate fetches from repeated
// recomputation within one session. Entries are only written for
// non-trivial payloads and only read back while fresh.
package sessioncache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/types"
)

// DefaultFreshness is how long an entry stays valid after it was written.
const DefaultFreshness = 2 * time.Minute

// Payload is a cacheable aggregate.
type Payload interface {
	NonTrivial() bool
}

// Entry is the persisted form: {"t": epoch-ms, "data": payload}.
type Entry[T Payload] struct {
	T    int64 `json:"t"`
	Data T     `json:"data"`
}

// Cache stores Entry values in a storage.Store.
type Cache[T Payload] struct {
	store     storage.Store
	freshness time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	freshness time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

// WithFreshness sets the freshness window.
func WithFreshness(d time.Duration) Option {
	return func(o *options) { o.freshness = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// New constructs a Cache over store.
func New[T Payload](store storage.Store, opts ...Option) *Cache[T] {
	o := options{freshness: DefaultFreshness, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.freshness <= 0 {
		o.freshness = DefaultFreshness
	}
	c := &Cache[T]{store: store, freshness: o.freshness, now: o.now, log: log.Logger}
	if o.log != nil {
		c.log = *o.log
	}
	return c
}

// StatsKey is the slot of a subject's dashboard aggregate.
func StatsKey(subjectID types.ID, role types.Role) string {
	return fmt.Sprintf("stats:%s:%s", subjectID, role)
}

// Write persists payload under key when it is non-trivial. It reports
// whether an entry was written; failures are logged and swallowed.
func (c *Cache[T]) Write(key string, payload T) bool {
	if !payload.NonTrivial() {
		return false
	}
	b, err := json.Marshal(Entry[T]{T: c.now().UnixMilli(), Data: payload})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("session cache encode failed")
		return false
	}
	if err := c.store.Set(key, b); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("session cache write failed")
		return false
	}
	return true
}

// Read returns the payload under key and its write time. Stale, trivial or
// corrupt entries are discarded and reported absent.
func (c *Cache[T]) Read(key string) (T, time.Time, bool) {
	var zero T
	b, err := c.store.Get(key)
	if err != nil {
		return zero, time.Time{}, false
	}
	var e Entry[T]
	if err := json.Unmarshal(b, &e); err != nil {
		c.discard(key)
		return zero, time.Time{}, false
	}
	written := time.UnixMilli(e.T)
	if age := c.now().Sub(written); age < 0 || age >= c.freshness || !e.Data.NonTrivial() {
		c.discard(key)
		return zero, time.Time{}, false
	}
	return e.Data, written, true
}

// Invalidate drops the entry under key.
func (c *Cache[T]) Invalidate(key string) {
	c.discard(key)
}

func (c *Cache[T]) discard(key string) {
	if err := c.store.Delete(key); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("session cache discard failed")
	}
}
