package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/propnest/marketsync/client/internal/api"
	"github.com/propnest/marketsync/client/internal/conversation"
	"github.com/propnest/marketsync/client/internal/credential"
	"github.com/propnest/marketsync/client/internal/deployenv"
	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/notification"
	"github.com/propnest/marketsync/client/internal/sessioncache"
	"github.com/propnest/marketsync/client/internal/shardqueue"
	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/transport"
	"github.com/propnest/marketsync/client/internal/types"
)

// Client wires the transport, credential store, live channels and the
// per-conversation and notification state behind one handle.
type Client struct {
	// construction inputs, set by options
	http        *http.Client
	origin      string
	preview     bool
	token       string
	store       storage.Store
	storeDir    string
	federated   oauth2.TokenSource
	nav         transport.Navigator
	rps         float64
	burst       int
	debug       *bool
	log         zerolog.Logger
	policy      transport.Policy
	userAgent   string
	chatPoll    time.Duration
	dashPoll    time.Duration
	openTimeout time.Duration
	noPush      bool
	dialer      livechannel.Dialer

	env       deployenv.Environment
	ownsStore bool
	creds     *credential.Resolver
	guard     *transport.AuthGuard
	doer      *transport.Executor
	exec      executor
	live      *livechannel.Manager
	cache     *sessioncache.Cache[types.Stats]
	prefs     *storage.Prefs

	mu      sync.Mutex
	handles map[handle]struct{}

	closedOnce uint32 // ensures Close is idempotent
}

// handle is an open Chat or Feed.
type handle interface {
	teardown()
}

// New constructs a Client. baseURL may be empty when the client runs behind
// the same origin as the API (see WithOrigin).
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		http:        &http.Client{},
		log:         log.Logger,
		policy:      transport.DefaultPolicy(),
		chatPoll:    livechannel.ChatPollInterval,
		dashPoll:    livechannel.DashboardPollInterval,
		openTimeout: livechannel.DefaultOpenTimeout,
		burst:       5,
		handles:     make(map[handle]struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.env = deployenv.Detect(c.origin, baseURL, c.preview)

	if c.store == nil {
		if c.storeDir != "" {
			db, err := storage.OpenPebble(c.storeDir)
			if err != nil {
				return nil, fmt.Errorf("open local store: %w", err)
			}
			c.store = db
		} else {
			c.store = storage.NewMemory(256)
		}
		c.ownsStore = true
	}

	credOpts := []credential.Option{credential.WithLogger(c.log)}
	if c.federated != nil {
		credOpts = append(credOpts, credential.WithFederated(c.federated))
	}
	c.creds = credential.New(c.store, credOpts...)
	c.guard = transport.NewAuthGuard(c.creds, c.nav, transport.WithGuardLogger(c.log))

	txOpts := []transport.Option{
		transport.WithHTTPClient(c.http),
		transport.WithPolicy(c.policy),
		transport.WithAuthGuard(c.guard),
		transport.WithRateLimit(c.rps, c.burst),
		transport.WithLogger(c.log),
		transport.WithUserAgent(c.userAgent),
	}
	if c.debug != nil {
		txOpts = append(txOpts, transport.WithDebug(*c.debug))
	}
	c.doer = transport.New(c.env, c.credentials(), txOpts...)

	if c.exec == nil {
		c.exec = c.newDefaultExecutor()
	}
	c.live = livechannel.NewManager(c.pushDialer(),
		livechannel.WithOpenTimeout(c.openTimeout),
		livechannel.WithLogger(c.log),
	)
	c.cache = sessioncache.New[types.Stats](c.store, sessioncache.WithLogger(c.log))
	c.prefs = storage.NewPrefs(c.store)
	return c, nil
}

// credentials prefers the token given to WithToken over stored ones.
func (c *Client) credentials() transport.Credentials {
	return defaultToken{r: c.creds, token: c.token}
}

type defaultToken struct {
	r     *credential.Resolver
	token string
}

func (d defaultToken) Resolve(ctx context.Context, explicit string) (string, credential.Source) {
	if explicit == "" {
		explicit = d.token
	}
	return d.r.Resolve(ctx, explicit)
}

func (c *Client) pushDialer() livechannel.Dialer {
	if c.noPush {
		return nil
	}
	if c.dialer != nil {
		return c.dialer
	}
	u, err := livechannel.SocketURL(c.env)
	if err != nil {
		c.log.Debug().Err(err).Msg("push channel disabled")
		return nil
	}
	creds := c.credentials()
	return &livechannel.WSDialer{
		URL: u,
		Token: func(ctx context.Context) string {
			tok, _ := creds.Resolve(ctx, "")
			return tok
		},
		HandshakeTimeout: c.openTimeout,
	}
}

// newDefaultExecutor builds the read-receipt queue from MARKETSYNC_SQ_*
// settings, falling back to defaults when they do not parse.
func (c *Client) newDefaultExecutor() *shardqueue.ShardExecutor {
	cfg, err := shardqueue.LoadConfig()
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid queue settings; using defaults")
		cfg = shardqueue.Config{}
	}
	cfg.Logger = c.log
	cfg.ErrorHandler = func(key string, err error) {
		queuedFailuresTotal.Inc()
		c.log.Debug().Err(err).Str("conversation", key).Msg("read receipt dropped")
	}
	return shardqueue.NewShardExecutor(cfg)
}

// Environment returns the detected deployment.
func (c *Client) Environment() deployenv.Environment { return c.env }

// Close tears down open chats and feeds, drains the queue and releases the
// local store when the client opened it. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	c.mu.Lock()
	open := make([]handle, 0, len(c.handles))
	for h := range c.handles {
		open = append(open, h)
	}
	c.handles = map[handle]struct{}{}
	c.mu.Unlock()
	for _, h := range open {
		h.teardown()
	}
	openHandles.Sub(float64(len(open)))
	if c.exec != nil {
		c.exec.Stop()
	}
	c.guard.Stop()
	if c.ownsStore && c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Client) closed() bool { return atomic.LoadUint32(&c.closedOnce) == 1 }

func (c *Client) track(h handle) {
	c.mu.Lock()
	c.handles[h] = struct{}{}
	c.mu.Unlock()
	openHandles.Inc()
}

func (c *Client) forget(h handle) {
	c.mu.Lock()
	_, ok := c.handles[h]
	delete(c.handles, h)
	c.mu.Unlock()
	if ok {
		openHandles.Dec()
	}
}

// AwaitReadReceipts blocks until every read receipt queued for the
// conversation before the call has been delivered or dropped.
func (c *Client) AwaitReadReceipts(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.exec.Barrier(ctx, types.NewID(conversationID).String())
}

// --------------------------------------------------------------------
// Credentials
// --------------------------------------------------------------------

// Login stores token as the primary credential.
func (c *Client) Login(token string) error {
	return c.creds.Store(token)
}

// Logout clears every stored credential and the signed-in user's cached
// dashboard stats.
func (c *Client) Logout(ctx context.Context) error {
	if id, ok := c.Identity(ctx); ok {
		c.cache.Invalidate(sessioncache.StatsKey(id.Subject, id.Role))
	}
	return c.creds.Clear()
}

// Identity returns the signed-in subject, when one can be determined.
func (c *Client) Identity(ctx context.Context) (Identity, bool) {
	if c.token != "" {
		if id, ok := credential.Claims(c.token); ok && id.Subject != "" {
			return id, true
		}
	}
	return c.creds.Identity(ctx)
}

func (c *Client) requireIdentity(ctx context.Context) (Identity, error) {
	id, ok := c.Identity(ctx)
	if !ok || id.Subject.IsZero() {
		return Identity{}, ErrNoIdentity
	}
	if id.Role == "" {
		id.Role = types.RoleBuyer
	}
	return id, nil
}

// --------------------------------------------------------------------
// General-purpose requests
// --------------------------------------------------------------------

// Execute performs req through the transport. It never returns a Go error;
// inspect Result.OK and Result.Err.
func (c *Client) Execute(ctx context.Context, req Request) Result {
	return c.doer.Execute(ctx, req)
}

// Get performs a GET that clears credentials on authorization failure.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) Result {
	return c.doer.Get(ctx, endpoint, query)
}

// --------------------------------------------------------------------
// Conversations
// --------------------------------------------------------------------

// Conversations lists the caller's conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	return api.ListMyConversations(ctx, c.doer)
}

// History returns one page of a conversation's messages as the server
// ordered them.
func (c *Client) History(ctx context.Context, conversationID string, q HistoryQuery) ([]Message, error) {
	return api.ListMessages(ctx, c.doer, types.NewID(conversationID), q)
}

// SendMessage posts text without opening the conversation. It reports
// whether the server echoed the stored message.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (Message, bool, error) {
	return api.SendMessage(ctx, c.doer, types.NewID(conversationID), types.SendMessageRequest{Text: text})
}

// Chat is an open conversation kept current by a live subscription.
type Chat struct {
	*conversation.Synchronizer
	client *Client
	sub    *livechannel.Subscription
	once   sync.Once
}

// LiveState reports whether the chat is pushed or polled.
func (ch *Chat) LiveState() LiveState { return ch.sub.State() }

// Close stops the subscription. The client keeps no reference afterwards.
func (ch *Chat) Close() error {
	ch.teardown()
	ch.client.forget(ch)
	return nil
}

func (ch *Chat) teardown() {
	ch.once.Do(ch.Synchronizer.Close)
}

// OpenChat opens a conversation the caller participates in, loads its
// history, marks it read and subscribes to new messages.
func (c *Client) OpenChat(ctx context.Context, conversationID string) (*Chat, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	me, err := c.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	s := conversation.New(c.doer, c.exec, me.Subject, conversation.WithLogger(c.log))
	if _, err := s.Open(ctx, types.NewID(conversationID)); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.LoadHistory(ctx); err != nil {
		s.Close()
		return nil, err
	}
	sub, err := s.Watch(c.live, c.chatPoll)
	if err != nil {
		s.Close()
		return nil, err
	}
	ch := &Chat{Synchronizer: s, client: c, sub: sub}
	c.track(ch)
	return ch, nil
}

// --------------------------------------------------------------------
// Notifications and dashboard
// --------------------------------------------------------------------

// Feed is the merged notification list and dashboard aggregate.
type Feed struct {
	*notification.Aggregator
	client *Client
	sub    *livechannel.Subscription
	once   sync.Once
}

// LiveState reports the account subscription state; Closed when the feed
// was opened without watching.
func (f *Feed) LiveState() LiveState {
	if f.sub == nil {
		return livechannel.Closed
	}
	return f.sub.State()
}

// Close stops the subscription, if any.
func (f *Feed) Close() error {
	f.teardown()
	f.client.forget(f)
	return nil
}

func (f *Feed) teardown() {
	f.once.Do(f.Aggregator.Close)
}

func (c *Client) newAggregator(me Identity) *notification.Aggregator {
	return notification.New(c.doer, me.Role, me.Subject,
		notification.WithCache(c.cache),
		notification.WithLogger(c.log),
	)
}

// Notifications builds the feed and computes it once. With watch set the
// feed recomputes on every account event, or every dashboard poll interval
// when push is unavailable.
func (c *Client) Notifications(ctx context.Context, watch bool) (*Feed, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	me, err := c.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	agg := c.newAggregator(me)
	agg.Prime()
	if _, err := agg.Recompute(ctx); err != nil {
		agg.Close()
		return nil, err
	}
	f := &Feed{Aggregator: agg, client: c}
	if watch {
		f.sub = agg.Watch(c.live, c.dashPoll)
	}
	c.track(f)
	return f, nil
}

// Stats returns the dashboard aggregate, from the session cache while it is
// fresh.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	me, err := c.requireIdentity(ctx)
	if err != nil {
		return Stats{}, err
	}
	agg := c.newAggregator(me)
	defer agg.Close()
	if agg.Prime() {
		return agg.Stats(), nil
	}
	snap, err := agg.Recompute(ctx)
	if err != nil {
		return Stats{}, err
	}
	return snap.Stats, nil
}

// --------------------------------------------------------------------
// Local preferences
// --------------------------------------------------------------------

// RecentSearches returns saved search terms, newest first.
func (c *Client) RecentSearches() []string { return c.prefs.RecentSearches() }

// AddRecentSearch records a search term.
func (c *Client) AddRecentSearch(term string) error { return c.prefs.AddRecentSearch(term) }

// ClearRecentSearches forgets every saved term.
func (c *Client) ClearRecentSearches() error { return c.prefs.ClearRecentSearches() }

// LastLocation returns the last saved map location.
func (c *Client) LastLocation() (Location, bool) { return c.prefs.LastLocation() }

// SetLastLocation saves the map location.
func (c *Client) SetLastLocation(loc Location) error { return c.prefs.SetLastLocation(loc) }
