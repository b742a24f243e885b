// Package notification merges the per-channel notification feeds, the
// listing inventory and the server-side counters into one newest-first
// list and one dashboard aggregate.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/propnest/marketsync/client/internal/api"
	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/sessioncache"
	"github.com/propnest/marketsync/client/internal/types"
)

var (
	// ErrAllSourcesFailed is returned by Recompute when not a single source
	// answered.
	ErrAllSourcesFailed = errors.New("every notification source failed")
	// ErrUnknownNotification is returned for (source, id) pairs not in the
	// current list.
	ErrUnknownNotification = errors.New("notification not found")
)

// Feeds are fetched in this order and merged in this order.
var feeds = []types.SourceChannel{
	types.SourceAdmin,
	types.SourceUser,
	types.SourceConversation,
	types.SourceDirect,
}

const (
	srcProperties = "properties"
	srcUnread     = "unread-count"
	srcStats      = "stats"
)

// Snapshot is a consistent view of the aggregator.
type Snapshot struct {
	Items     []types.NotificationItem
	Stats     types.Stats
	Failed    map[string]error
	UpdatedAt time.Time
}

// Aggregator owns the merged feed for one subject and role. It is safe for
// concurrent use.
type Aggregator struct {
	doer    api.Doer
	role    types.Role
	subject types.ID
	cache   *sessioncache.Cache[types.Stats]
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	feeds     map[types.SourceChannel][]types.NotificationItem
	props     []types.Property
	stats     types.Stats
	failed    map[string]error
	updatedAt time.Time
	gen       uint64 // bumped by every applied Recompute
	onChange  []func()

	ctx    context.Context
	cancel context.CancelFunc
	sub    *livechannel.Subscription
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache persists non-trivial aggregates between recomputations.
func WithCache(c *sessioncache.Cache[types.Stats]) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New builds an Aggregator for subject acting as role.
func New(d api.Doer, role types.Role, subject types.ID, opts ...Option) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		doer:    d,
		role:    role,
		subject: subject,
		log:     log.Logger,
		now:     time.Now,
		feeds:   make(map[types.SourceChannel][]types.NotificationItem),
		failed:  make(map[string]error),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With().Str("component", "notifications").Str("role", string(role)).Logger()
	return a
}

func (a *Aggregator) cacheKey() string {
	return sessioncache.StatsKey(a.subject, a.role)
}

// OnChange registers fn to run after every state change.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = append(a.onChange, fn)
	a.mu.Unlock()
}

func (a *Aggregator) changed() {
	a.mu.Lock()
	fns := append([]func(){}, a.onChange...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Prime loads stats from a fresh cache entry. It reports whether one was
// found.
func (a *Aggregator) Prime() bool {
	if a.cache == nil {
		return false
	}
	st, at, ok := a.cache.Read(a.cacheKey())
	if !ok {
		return false
	}
	a.mu.Lock()
	a.stats = st
	a.updatedAt = at
	a.mu.Unlock()
	a.changed()
	return true
}

type fetched struct {
	feeds    map[types.SourceChannel][]types.NotificationItem
	props    []types.Property
	unread   *int
	override *types.StatsOverride
	errs     map[string]error
}

// Recompute refreshes every source in parallel. A failing source keeps its
// previous contribution; the call only fails when every source fails.
func (a *Aggregator) Recompute(ctx context.Context) (Snapshot, error) {
	f := a.fetch(ctx)
	total := len(feeds) + 3
	if len(f.errs) == total {
		errs := make([]error, 0, len(f.errs))
		for _, src := range sourceNames() {
			errs = append(errs, f.errs[src])
		}
		recomputesTotal.WithLabelValues("failed").Inc()
		return a.Snapshot(), fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}

	a.mu.Lock()
	for src, items := range f.feeds {
		a.feeds[src] = items
	}
	if f.props != nil {
		a.props = f.props
	}
	st := derive(a.mergedLocked(), a.props)
	if f.unread != nil {
		st.UnreadNotifications = *f.unread
	}
	if f.override != nil {
		st = f.override.Apply(st)
	}
	a.stats = st
	a.failed = f.errs
	a.updatedAt = a.now()
	a.gen++
	snap := a.snapshotLocked()
	a.mu.Unlock()

	outcome := "ok"
	if len(f.errs) > 0 {
		outcome = "partial"
		for src, err := range f.errs {
			sourceFailuresTotal.WithLabelValues(src).Inc()
			a.log.Debug().Err(err).Str("source", src).Msg("notification source failed")
		}
	}
	recomputesTotal.WithLabelValues(outcome).Inc()

	if a.cache != nil {
		a.cache.Write(a.cacheKey(), st)
	}
	a.changed()
	return snap, nil
}

func sourceNames() []string {
	names := make([]string, 0, len(feeds)+3)
	for _, s := range feeds {
		names = append(names, string(s))
	}
	return append(names, srcProperties, srcUnread, srcStats)
}

// fetch asks every source concurrently. Goroutines record their own error and
// never fail the group.
func (a *Aggregator) fetch(ctx context.Context) fetched {
	var (
		mu  sync.Mutex
		out = fetched{
			feeds: make(map[types.SourceChannel][]types.NotificationItem),
			errs:  make(map[string]error),
		}
		g errgroup.Group
	)
	record := func(src string, err error, store func()) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.errs[src] = err
			return
		}
		store()
	}

	for _, src := range feeds {
		g.Go(func() error {
			items, err := api.ListNotifications(ctx, a.doer, src, a.role)
			record(string(src), err, func() { out.feeds[src] = items })
			return nil
		})
	}
	g.Go(func() error {
		props, err := api.ListProperties(ctx, a.doer, a.role)
		record(srcProperties, err, func() {
			if props == nil {
				props = []types.Property{}
			}
			out.props = props
		})
		return nil
	})
	g.Go(func() error {
		n, err := api.UnreadCount(ctx, a.doer)
		record(srcUnread, err, func() { out.unread = &n })
		return nil
	})
	g.Go(func() error {
		o, err := api.GetStats(ctx, a.doer, a.role)
		record(srcStats, err, func() { out.override = &o })
		return nil
	})
	_ = g.Wait()
	return out
}

// derive computes the aggregate from the merged list and the listings.
func derive(items []types.NotificationItem, props []types.Property) types.Stats {
	var st types.Stats
	st.TotalProperties = len(props)
	for _, p := range props {
		switch p.Status {
		case types.PropertyPending:
			st.PendingProperties++
		case types.PropertyApproved:
			st.ApprovedProperties++
		case types.PropertyRejected:
			st.RejectedProperties++
		}
	}
	convs := make(map[types.ID]struct{})
	for _, it := range items {
		if it.Source == types.SourceConversation {
			if !it.RelatedConversationID.IsZero() {
				convs[it.RelatedConversationID] = struct{}{}
			}
			if !it.IsRead {
				st.UnreadMessages++
			}
			continue
		}
		if !it.IsRead {
			st.UnreadNotifications++
		}
	}
	st.TotalConversations = len(convs)
	return st
}

// mergedLocked folds the feeds by (Source, ID) and sorts newest first. An
// item read in any feed is read.
func (a *Aggregator) mergedLocked() []types.NotificationItem {
	index := make(map[types.NotificationKey]int)
	var out []types.NotificationItem
	for _, src := range feeds {
		for _, it := range a.feeds[src] {
			k := it.Key()
			if i, ok := index[k]; ok {
				out[i].IsRead = out[i].IsRead || it.IsRead
				continue
			}
			index[k] = len(out)
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (a *Aggregator) snapshotLocked() Snapshot {
	failed := make(map[string]error, len(a.failed))
	for k, v := range a.failed {
		failed[k] = v
	}
	return Snapshot{
		Items:     a.mergedLocked(),
		Stats:     a.stats,
		Failed:    failed,
		UpdatedAt: a.updatedAt,
	}
}

// Snapshot returns the current view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Items returns the merged list, newest first.
func (a *Aggregator) Items() []types.NotificationItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mergedLocked()
}

// Stats returns the current aggregate.
func (a *Aggregator) Stats() types.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// touched is one stored copy a mutation changed, with its position.
type touched struct {
	pos  int
	item types.NotificationItem
}

// undo is what a rollback puts back: the copies the mutation touched and its
// change to the unread counters. Everything else may have moved on.
type undo struct {
	gen     uint64
	removed bool
	items   map[types.SourceChannel][]touched
	before  types.Stats
	after   types.Stats
}

// applyOptimistic records the copies matching touches, applies mutation
// under the lock and notifies observers. mutation reports whether it changed
// anything.
func (a *Aggregator) applyOptimistic(touches func(types.NotificationItem) bool, mutation func() bool) (undo, bool) {
	a.mu.Lock()
	u := undo{gen: a.gen, items: make(map[types.SourceChannel][]touched), before: a.stats}
	for src, items := range a.feeds {
		for i, it := range items {
			if touches(it) {
				u.items[src] = append(u.items[src], touched{pos: i, item: it})
			}
		}
	}
	applied := mutation()
	u.after = a.stats
	a.mu.Unlock()
	if applied {
		a.changed()
	}
	return u, applied
}

// rollback restores the touched copies still present, re-inserts removed
// ones that no refresh brought back, and reverses the counter change unless
// a Recompute has replaced the counters since.
func (a *Aggregator) rollback(u undo, op string, err error) {
	a.mu.Lock()
	for src, list := range u.items {
		for _, t := range list {
			key := t.item.Key()
			if i := indexOf(a.feeds[src], key); i >= 0 {
				a.feeds[src][i].IsRead = t.item.IsRead
				continue
			}
			if u.removed {
				a.feeds[src] = insertAt(a.feeds[src], t.pos, t.item)
			}
		}
	}
	if a.gen == u.gen {
		a.stats.UnreadNotifications += u.before.UnreadNotifications - u.after.UnreadNotifications
		a.stats.UnreadMessages += u.before.UnreadMessages - u.after.UnreadMessages
	}
	a.mu.Unlock()
	rollbacksTotal.WithLabelValues(op).Inc()
	a.log.Warn().Err(err).Str("operation", op).Msg("optimistic update rolled back")
	a.changed()
}

func indexOf(items []types.NotificationItem, key types.NotificationKey) int {
	for i, it := range items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}

func insertAt(items []types.NotificationItem, pos int, it types.NotificationItem) []types.NotificationItem {
	pos = min(pos, len(items))
	items = append(items, types.NotificationItem{})
	copy(items[pos+1:], items[pos:])
	items[pos] = it
	return items
}

// findLocked returns the first stored copy of (source, id).
func (a *Aggregator) findLocked(key types.NotificationKey) (types.NotificationItem, bool) {
	for _, src := range feeds {
		for _, it := range a.feeds[src] {
			if it.Key() == key {
				return it, true
			}
		}
	}
	return types.NotificationItem{}, false
}

// editLocked rewrites every stored copy of key. keep=false drops it.
func (a *Aggregator) editLocked(key types.NotificationKey, fn func(*types.NotificationItem) (keep bool)) {
	for src, items := range a.feeds {
		out := items[:0:0]
		for _, it := range items {
			if it.Key() == key && !fn(&it) {
				continue
			}
			out = append(out, it)
		}
		a.feeds[src] = out
	}
}

func (a *Aggregator) decrementUnreadLocked(it types.NotificationItem) {
	if it.IsRead {
		return
	}
	if it.Source == types.SourceConversation {
		a.stats.UnreadMessages = max(0, a.stats.UnreadMessages-1)
		return
	}
	a.stats.UnreadNotifications = max(0, a.stats.UnreadNotifications-1)
}

// MarkOneRead marks one item read locally, then confirms it with the server.
// Conversation items are confirmed through the conversation read endpoint.
func (a *Aggregator) MarkOneRead(ctx context.Context, source types.SourceChannel, id types.ID) error {
	key := types.NotificationKey{Source: source, ID: id}
	var target types.NotificationItem
	var found bool
	snap, applied := a.applyOptimistic(func(it types.NotificationItem) bool {
		return it.Key() == key
	}, func() bool {
		target, found = a.findLocked(key)
		if !found || target.IsRead {
			return false
		}
		a.decrementUnreadLocked(target)
		a.editLocked(key, func(it *types.NotificationItem) bool {
			it.IsRead = true
			return true
		})
		return true
	})
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrUnknownNotification, source, id)
	}
	if !applied {
		return nil
	}

	var err error
	if source == types.SourceConversation {
		cid := target.RelatedConversationID
		if cid.IsZero() {
			cid = target.ID
		}
		err = api.MarkConversationRead(ctx, a.doer, cid)
	} else {
		err = api.MarkNotificationRead(ctx, a.doer, a.role, id)
	}
	if err != nil {
		a.rollback(snap, "mark-read", err)
		return err
	}
	return nil
}

// DeleteOne removes one item locally, then deletes it on the server through
// the primary route or, failing that, the secondary one. The removal is
// only undone when both routes fail.
func (a *Aggregator) DeleteOne(ctx context.Context, source types.SourceChannel, id types.ID) error {
	key := types.NotificationKey{Source: source, ID: id}
	var found bool
	snap, _ := a.applyOptimistic(func(it types.NotificationItem) bool {
		return it.Key() == key
	}, func() bool {
		var target types.NotificationItem
		target, found = a.findLocked(key)
		if !found {
			return false
		}
		a.decrementUnreadLocked(target)
		a.editLocked(key, func(*types.NotificationItem) bool { return false })
		return true
	})
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrUnknownNotification, source, id)
	}

	primaryErr := api.DeleteNotification(ctx, a.doer, a.role, id)
	if primaryErr == nil {
		return nil
	}
	a.log.Debug().Err(primaryErr).Str("id", id.String()).Msg("primary delete failed; trying secondary route")
	fallbackErr := api.DeleteNotificationFallback(ctx, a.doer, a.role, id, source)
	if fallbackErr == nil {
		return nil
	}
	err := errors.Join(primaryErr, fallbackErr)
	snap.removed = true
	a.rollback(snap, "delete", err)
	return err
}

// MarkAllRead marks every unread non-conversation item read, then confirms
// with the server.
func (a *Aggregator) MarkAllRead(ctx context.Context) error {
	snap, applied := a.applyOptimistic(func(it types.NotificationItem) bool {
		return it.Source != types.SourceConversation && !it.IsRead
	}, func() bool {
		changed := false
		for src, items := range a.feeds {
			for i := range items {
				if items[i].Source != types.SourceConversation && !items[i].IsRead {
					items[i].IsRead = true
					changed = true
				}
			}
			a.feeds[src] = items
		}
		if a.stats.UnreadNotifications > 0 {
			a.stats.UnreadNotifications = 0
			changed = true
		}
		return changed
	})
	if !applied {
		return nil
	}
	if err := api.MarkAllRead(ctx, a.doer, a.role); err != nil {
		a.rollback(snap, "mark-all-read", err)
		return err
	}
	return nil
}

// Watch subscribes to the account topic. Every pushed event and every poll
// tick triggers a Recompute. A previous subscription is closed.
func (a *Aggregator) Watch(m *livechannel.Manager, interval time.Duration) *livechannel.Subscription {
	refresh := func(ctx context.Context) {
		if _, err := a.Recompute(ctx); err != nil {
			a.log.Debug().Err(err).Msg("notification refresh failed")
		}
	}
	sub := m.Subscribe(a.ctx, livechannel.AccountTopic(a.subject), livechannel.Options{
		OnEvent:  func(livechannel.Event) { refresh(a.ctx) },
		Poll:     refresh,
		Interval: interval,
	})
	a.mu.Lock()
	prev := a.sub
	a.sub = sub
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return sub
}

// Close stops the subscription, if any.
func (a *Aggregator) Close() {
	a.cancel()
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
