package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propnest/marketsync/client/internal/deployenv"
	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/shardqueue"
	"github.com/propnest/marketsync/client/internal/transport"
	"github.com/propnest/marketsync/client/internal/types"
)

// backend is an in-memory chat server.
type backend struct {
	mu        sync.Mutex
	convs     []map[string]any
	messages  map[string][]map[string]any
	reads     map[string]int
	failSends bool
	forbidden map[string]bool
	nextID    int
}

func newBackend() *backend {
	return &backend{
		convs: []map[string]any{
			{"_id": "c1", "buyer": "me", "seller": "u2"},
		},
		messages: map[string][]map[string]any{
			"c1": {
				{"_id": "m2", "senderId": "u2", "text": "second", "createdAt": "2026-04-01T10:05:00Z"},
				{"_id": "m1", "senderId": "u2", "message": "first", "createdAt": "2026-04-01T10:00:00Z"},
			},
		},
		reads:     map[string]int{},
		forbidden: map[string]bool{},
	}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/api/")
	parts := strings.Split(path, "/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "conversations/my":
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": b.convs})
	case len(parts) == 2 && parts[0] == "conversations":
		if b.forbidden[parts[1]] {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "not a participant"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Conversation not found"})
	case len(parts) == 3 && parts[2] == "messages" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"messages": b.messages[parts[1]]}})
	case len(parts) == 3 && parts[2] == "messages" && r.Method == http.MethodPost:
		if b.failSends {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "database unavailable"})
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.nextID++
		m := map[string]any{"_id": fmt.Sprintf("s%d", b.nextID), "senderId": "me", "text": req.Text, "createdAt": time.Now().UTC().Format(time.RFC3339)}
		b.messages[parts[1]] = append(b.messages[parts[1]], m)
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": m})
	case len(parts) == 3 && parts[2] == "read":
		b.reads[parts[1]]++
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fixture struct {
	be    *backend
	srv   *httptest.Server
	queue *shardqueue.ShardExecutor
	sync  *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := newBackend()
	srv := httptest.NewServer(be)
	exec := transport.New(deployenv.Detect("", srv.URL, false), nil,
		transport.WithHTTPClient(srv.Client()),
		transport.WithPolicy(transport.Policy{DefaultTimeout: 2 * time.Second, MaxRetries: 1, Backoff: time.Millisecond}),
		transport.WithDebug(false),
	)
	q := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2, QueueSize: 16, MaxAttempts: 1, Logger: zerolog.Nop()})
	s := New(exec, q, "me", WithLogger(zerolog.Nop()))
	t.Cleanup(func() {
		s.Close()
		q.Stop()
		srv.Close()
	})
	return &fixture{be: be, srv: srv, queue: q, sync: s}
}

func bodies(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Message.Body)
	}
	return out
}

func TestOpenAndLoadHistory_SortedAndNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ID("u2"), conv.SellerID)

	// Idempotent.
	_, err = f.sync.Open(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, f.sync.LoadHistory(ctx))
	assert.Equal(t, []string{"first", "second"}, bodies(f.sync.Messages()))

	// A second load appends nothing.
	require.NoError(t, f.sync.LoadHistory(ctx))
	assert.Len(t, f.sync.Messages(), 2)
}

func TestOpen_NotFoundAndUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sync.Open(ctx, "c404")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	f.be.mu.Lock()
	f.be.forbidden["c7"] = true
	f.be.mu.Unlock()
	_, err = f.sync.Open(ctx, "c7")
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)

	_, ok := f.sync.Conversation()
	assert.False(t, ok)
	assert.ErrorIs(t, f.sync.LoadHistory(ctx), ErrNotOpen)
}

func TestSend_HelloRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, f.sync.LoadHistory(ctx))

	var changes int
	var mu sync.Mutex
	f.sync.OnChange(func() { mu.Lock(); changes++; mu.Unlock() })

	msg, err := f.sync.Send(ctx, "  Hello ")
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Body)

	// The same message also arrives over the push channel.
	f.sync.ReceiveLive(livechannel.Event{Kind: livechannel.EventNewMessage, Message: msg})
	require.NoError(t, f.sync.LoadHistory(ctx))

	items := f.sync.Messages()
	assert.Equal(t, []string{"first", "second", "Hello"}, bodies(items))
	for _, it := range items {
		assert.Nil(t, it.Pending)
	}
	mu.Lock()
	assert.GreaterOrEqual(t, changes, 2, "pending then confirmed")
	mu.Unlock()

	_, err = f.sync.Send(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSend_FailurePreservesDraftAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)

	f.be.mu.Lock()
	f.be.failSends = true
	f.be.mu.Unlock()

	_, err = f.sync.Send(ctx, "Is it still available?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")

	draft, ok := f.sync.Draft()
	require.True(t, ok)
	assert.Equal(t, "Is it still available?", draft)

	items := f.sync.Messages()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Pending)
	assert.Equal(t, Failed, items[0].Pending.State)
	assert.Empty(t, f.sync.Confirmed(), "failed sends never enter the confirmed list")

	f.be.mu.Lock()
	f.be.failSends = false
	f.be.mu.Unlock()

	msg, err := f.sync.Retry(ctx, items[0].Pending.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Is it still available?", msg.Body)
	_, ok = f.sync.Draft()
	assert.False(t, ok)
	assert.Len(t, f.sync.Confirmed(), 1)

	assert.ErrorIs(t, f.sync.Discard("nope"), ErrUnknownEntry)
}

func TestSend_DiscardFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	f.be.mu.Lock()
	f.be.failSends = true
	f.be.mu.Unlock()

	_, err = f.sync.Send(ctx, "x")
	require.Error(t, err)
	items := f.sync.Messages()
	require.NoError(t, f.sync.Discard(items[0].Pending.LocalID))
	assert.Empty(t, f.sync.Messages())
}

func TestReceiveLive_DedupAndScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, f.sync.LoadHistory(ctx))

	pushed := types.Message{ID: "m3", ConversationID: "c1", SenderID: "u2", Body: "third"}
	f.sync.ReceiveLive(livechannel.Event{Kind: livechannel.EventNewMessage, Message: pushed})
	f.sync.ReceiveLive(livechannel.Event{Kind: livechannel.EventNewMessage, Message: pushed})
	f.sync.ReceiveLive(livechannel.Event{Kind: livechannel.EventNewMessage, Message: types.Message{ID: "x1", ConversationID: "c2", Body: "elsewhere"}})
	f.sync.ReceiveLive(livechannel.Event{Kind: livechannel.EventNotification})

	// The server now also returns m3 on refresh.
	f.be.mu.Lock()
	f.be.messages["c1"] = append(f.be.messages["c1"], map[string]any{"_id": "m3", "senderId": "u2", "text": "third"})
	f.be.mu.Unlock()
	require.NoError(t, f.sync.LoadHistory(ctx))

	assert.Equal(t, []string{"first", "second", "third"}, bodies(f.sync.Messages()))
}

func livePush(key, body string, at time.Time) livechannel.Event {
	m := types.Message{ID: types.ID(livechannel.FingerprintPrefix + key), ConversationID: "c1", SenderID: "me", Body: body, CreatedAt: at}
	return livechannel.Event{Kind: livechannel.EventNewMessage, Message: m}
}

func TestReceiveLive_IDlessPushAfterEchoCollapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, f.sync.LoadHistory(ctx))

	msg, err := f.sync.Send(ctx, "Saturday works")
	require.NoError(t, err)
	f.sync.ReceiveLive(livePush("sat", "Saturday works", time.Now()))

	assert.Equal(t, []string{"first", "second", "Saturday works"}, bodies(f.sync.Messages()))
	assert.Equal(t, msg.ID, f.sync.Confirmed()[2].ID)
}

func TestReceiveLive_ServerCopyReplacesIDlessPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, f.sync.LoadHistory(ctx))

	now := time.Now().UTC()
	f.sync.ReceiveLive(livePush("ok-1", "ok", now))
	f.be.mu.Lock()
	f.be.messages["c1"] = append(f.be.messages["c1"], map[string]any{
		"_id": "m9", "senderId": "me", "text": "ok", "createdAt": now.Format(time.RFC3339),
	})
	f.be.mu.Unlock()
	require.NoError(t, f.sync.LoadHistory(ctx))

	confirmed := f.sync.Confirmed()
	require.Len(t, confirmed, 3)
	assert.Equal(t, types.ID("m9"), confirmed[2].ID)

	// A later, separate "ok" is a new message, not a duplicate.
	f.sync.ReceiveLive(livePush("ok-2", "ok", now.Add(time.Second)))
	assert.Equal(t, []string{"first", "second", "ok", "ok"}, bodies(f.sync.Messages()))
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1") // queues the first receipt
	require.NoError(t, err)
	require.NoError(t, f.sync.LoadHistory(ctx))
	_, err = f.sync.Send(ctx, "mine")
	require.NoError(t, err)

	f.sync.FocusRegained()
	f.sync.VisibilityRegained()
	require.NoError(t, f.queue.Barrier(ctx, "c1"))

	f.be.mu.Lock()
	assert.Equal(t, 3, f.be.reads["c1"])
	f.be.mu.Unlock()

	for _, m := range f.sync.Confirmed() {
		if m.SenderID == "me" {
			assert.Empty(t, m.ReadBy, "own messages get no receipt")
			continue
		}
		n := 0
		for _, r := range m.ReadBy {
			if r.UserID == "me" {
				n++
			}
		}
		assert.Equal(t, 1, n, "exactly one receipt for %s", m.ID)
	}
}

func TestMarkRead_FailureIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, f.queue.Barrier(ctx, "c1"))

	// Take the server away; MarkRead must neither block nor panic.
	f.srv.Close()
	done := make(chan struct{})
	go func() {
		f.sync.MarkRead()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MarkRead blocked")
	}
}

func TestWatch_DegradedPollingPicksUpHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sync.Open(ctx, "c1")
	require.NoError(t, err)

	failing := livechannel.DialerFunc(func(context.Context, livechannel.Topic) (livechannel.Conn, error) {
		return nil, errors.New("no socket")
	})
	sub, err := f.sync.Watch(livechannel.NewManager(failing, livechannel.WithLogger(zerolog.Nop())), 20*time.Millisecond)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.sync.Confirmed()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, f.sync.Confirmed(), 2)
	assert.Equal(t, livechannel.Degraded, sub.State())

	f.sync.Close()
	assert.Equal(t, livechannel.Closed, sub.State())
}
