// Package conversation keeps one conversation's message list consistent
// across history loads, own sends and pushed messages. The rendered list is
// the server-confirmed prefix in arrival order followed by the local outbox.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/propnest/marketsync/client/internal/api"
	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/types"
)

var (
	// ErrNotFound means the conversation is not among the caller's.
	ErrNotFound = errors.New("conversation not found")
	// ErrUnauthorized means the server refused access to the conversation.
	ErrUnauthorized = errors.New("not authorized for conversation")
	// ErrNotOpen is returned by operations that need Open first.
	ErrNotOpen = errors.New("conversation not open")
	// ErrEmptyMessage rejects blank sends.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownEntry is returned for outbox ids that do not exist or are not
	// failed.
	ErrUnknownEntry = errors.New("no failed outbox entry with that id")
)

// OutboxState is the state of a locally sent message.
type OutboxState int

const (
	Sending OutboxState = iota
	Failed
)

func (s OutboxState) String() string {
	if s == Failed {
		return "failed"
	}
	return "sending"
}

// OutboxEntry is a message the server has not confirmed yet.
type OutboxEntry struct {
	LocalID   string
	Text      string
	State     OutboxState
	Err       error
	CreatedAt time.Time
}

// Item is one row of the rendered list. Pending is nil for confirmed
// messages.
type Item struct {
	Message types.Message
	Pending *OutboxEntry
}

// Synchronizer owns one conversation's state. It is safe for concurrent use.
type Synchronizer struct {
	doer   api.Doer
	queue  api.Submitter
	self   types.ID
	log    zerolog.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conv      types.Conversation
	opened    bool
	confirmed []types.Message
	known     map[types.ID]struct{}
	paired    map[types.ID]struct{}
	outbox    []*OutboxEntry
	listeners []func()
	sub       *livechannel.Subscription
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New builds a Synchronizer acting as self. Read receipts are queued on q.
func New(d api.Doer, q api.Submitter, self types.ID, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		doer:   d,
		queue:  q,
		self:   self,
		log:    log.Logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		known:  make(map[types.ID]struct{}),
		paired: make(map[types.ID]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers fn to run after every state change.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Synchronizer) changed() {
	s.mu.Lock()
	ls := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range ls {
		fn()
	}
}

// Conversation returns the open conversation.
func (s *Synchronizer) Conversation() (types.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.opened
}

// Open locates id among the caller's conversations and marks it read. It is
// idempotent for the same id.
func (s *Synchronizer) Open(ctx context.Context, id types.ID) (types.Conversation, error) {
	id = types.NewID(id.String())
	if err := types.ValidateIDPresent(id, "conversationId"); err != nil {
		return types.Conversation{}, err
	}
	s.mu.Lock()
	if s.opened && s.conv.ID == id {
		c := s.conv
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	conv, err := s.locate(ctx, id)
	if err != nil {
		return types.Conversation{}, err
	}

	s.mu.Lock()
	if s.opened && s.conv.ID != conv.ID {
		s.confirmed = nil
		s.known = make(map[types.ID]struct{})
		s.outbox = nil
	}
	s.conv = conv
	s.opened = true
	s.mu.Unlock()

	s.log.Debug().Str("conversation", conv.ID.String()).Msg("conversation opened")
	s.changed()
	s.MarkRead()
	return conv, nil
}

func (s *Synchronizer) locate(ctx context.Context, id types.ID) (types.Conversation, error) {
	list, err := api.ListMyConversations(ctx, s.doer)
	if err != nil {
		return types.Conversation{}, mapAccessError(err)
	}
	for _, c := range list {
		if c.ID == id {
			return c, nil
		}
	}
	// Not in the caller's list: let the server say whether it exists and
	// whether the caller may see it.
	c, err := api.GetConversation(ctx, s.doer, id)
	if err != nil {
		if ce, ok := apierrors.As(err); ok && ce.Kind == apierrors.Domain && ce.StatusCode == 404 {
			return types.Conversation{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return types.Conversation{}, mapAccessError(err)
	}
	if c.ID.IsZero() {
		return types.Conversation{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return c, nil
}

func mapAccessError(err error) error {
	if apierrors.IsAuth(err) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

func (s *Synchronizer) openID() (types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return "", ErrNotOpen
	}
	return s.conv.ID, nil
}

// LoadHistory fetches the history and appends messages not yet present. The
// first load is ordered by creation time; later loads keep arrival order.
func (s *Synchronizer) LoadHistory(ctx context.Context) error {
	id, err := s.openID()
	if err != nil {
		return err
	}
	msgs, err := api.ListMessages(ctx, s.doer, id, api.HistoryQuery{})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv.ID != id {
		s.mu.Unlock()
		return nil
	}
	if len(s.confirmed) == 0 {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	}
	added := 0
	for _, m := range msgs {
		if s.appendLocked(m) {
			added++
		}
	}
	s.mu.Unlock()

	if added > 0 {
		s.changed()
	}
	return nil
}

// pairWindow bounds how far apart a pushed copy without an id and the
// server's copy of the same message may be stamped.
const pairWindow = 2 * time.Minute

// appendLocked appends m unless its id is known. A pushed message without a
// server id and the server's copy of it count as one message: whichever
// arrives second either is dropped or takes over the first one's slot.
// Callers hold mu.
func (s *Synchronizer) appendLocked(m types.Message) bool {
	if m.ID.IsZero() {
		return false
	}
	if _, dup := s.known[m.ID]; dup {
		return false
	}
	s.known[m.ID] = struct{}{}
	if i := s.counterpartLocked(m); i >= 0 {
		if livechannel.IsFingerprint(m.ID) {
			s.paired[s.confirmed[i].ID] = struct{}{}
			return false
		}
		s.paired[m.ID] = struct{}{}
		s.confirmed[i] = m
		return true
	}
	s.confirmed = append(s.confirmed, m)
	return true
}

// counterpartLocked finds the unpaired confirmed message m duplicates across
// the fingerprint/server-id divide, or -1.
func (s *Synchronizer) counterpartLocked(m types.Message) int {
	live := livechannel.IsFingerprint(m.ID)
	for i := len(s.confirmed) - 1; i >= 0; i-- {
		c := s.confirmed[i]
		if livechannel.IsFingerprint(c.ID) == live {
			continue
		}
		if _, done := s.paired[c.ID]; done {
			continue
		}
		if c.SenderID != m.SenderID || c.Body != m.Body || c.AttachmentURL != m.AttachmentURL {
			continue
		}
		if d := c.CreatedAt.Sub(m.CreatedAt); d > pairWindow || d < -pairWindow {
			continue
		}
		return i
	}
	return -1
}

// ReceiveLive applies a pushed event. Events for other conversations and
// duplicates are ignored.
func (s *Synchronizer) ReceiveLive(ev livechannel.Event) {
	if ev.Kind != livechannel.EventNewMessage {
		return
	}
	s.mu.Lock()
	if !s.opened || (!ev.Message.ConversationID.IsZero() && ev.Message.ConversationID != s.conv.ID) {
		s.mu.Unlock()
		return
	}
	m := ev.Message
	m.ConversationID = s.conv.ID
	added := s.appendLocked(m)
	s.mu.Unlock()
	if added {
		s.changed()
	}
}

// Send posts body. The message appears in the confirmed list only after the
// server accepts it; until then it sits in the outbox. On failure the entry
// stays in the outbox as Failed with its text intact and the error is
// returned.
func (s *Synchronizer) Send(ctx context.Context, body string) (types.Message, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return types.Message{}, ErrEmptyMessage
	}
	if _, err := s.openID(); err != nil {
		return types.Message{}, err
	}
	entry := &OutboxEntry{LocalID: uuid.NewString(), Text: text, State: Sending, CreatedAt: s.now()}
	s.mu.Lock()
	s.outbox = append(s.outbox, entry)
	s.mu.Unlock()
	s.changed()
	return s.deliver(ctx, entry)
}

// Retry resends a failed outbox entry.
func (s *Synchronizer) Retry(ctx context.Context, localID string) (types.Message, error) {
	s.mu.Lock()
	entry := s.findLocked(localID)
	if entry == nil || entry.State != Failed {
		s.mu.Unlock()
		return types.Message{}, ErrUnknownEntry
	}
	entry.State = Sending
	entry.Err = nil
	s.mu.Unlock()
	s.changed()
	return s.deliver(ctx, entry)
}

// Discard drops a failed outbox entry.
func (s *Synchronizer) Discard(localID string) error {
	s.mu.Lock()
	entry := s.findLocked(localID)
	if entry == nil || entry.State != Failed {
		s.mu.Unlock()
		return ErrUnknownEntry
	}
	s.removeLocked(localID)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Draft returns the text of the most recent failed send, for resubmission.
func (s *Synchronizer) Draft() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.outbox) - 1; i >= 0; i-- {
		if s.outbox[i].State == Failed {
			return s.outbox[i].Text, true
		}
	}
	return "", false
}

func (s *Synchronizer) deliver(ctx context.Context, entry *OutboxEntry) (types.Message, error) {
	id, err := s.openID()
	if err != nil {
		return types.Message{}, err
	}
	msg, echoed, err := api.SendMessage(ctx, s.doer, id, types.SendMessageRequest{Text: entry.Text})
	if err != nil {
		s.mu.Lock()
		entry.State = Failed
		entry.Err = err
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("conversation", id.String()).Msg("send failed; text kept for retry")
		s.changed()
		return types.Message{}, err
	}

	s.mu.Lock()
	s.removeLocked(entry.LocalID)
	if echoed {
		if msg.SenderID.IsZero() {
			msg.SenderID = s.self
		}
		s.appendLocked(msg)
	}
	s.mu.Unlock()
	s.changed()

	if !echoed {
		// Accepted without an echo: pick the message up from history.
		if err := s.LoadHistory(ctx); err != nil {
			s.log.Debug().Err(err).Msg("refresh after send")
		}
	}
	return msg, nil
}

func (s *Synchronizer) findLocked(localID string) *OutboxEntry {
	for _, e := range s.outbox {
		if e.LocalID == localID {
			return e
		}
	}
	return nil
}

func (s *Synchronizer) removeLocked(localID string) {
	for i, e := range s.outbox {
		if e.LocalID == localID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return
		}
	}
}

// MarkRead queues a read receipt for the open conversation. It never blocks
// on the network and never reports failure; the queue logs it.
func (s *Synchronizer) MarkRead() {
	id, err := s.openID()
	if err != nil || s.queue == nil {
		return
	}
	if _, err := api.EnqueueMarkRead(s.ctx, s.queue, s.doer, id, func() { s.applyReadReceipt(id) }); err != nil {
		s.log.Debug().Err(err).Str("conversation", id.String()).Msg("mark read not queued")
	}
}

// FocusRegained marks the conversation read when the window regains focus.
func (s *Synchronizer) FocusRegained() { s.MarkRead() }

// VisibilityRegained marks the conversation read when it becomes visible.
func (s *Synchronizer) VisibilityRegained() { s.MarkRead() }

// applyReadReceipt records the caller's receipt on every message from
// someone else. Existing receipts are kept.
func (s *Synchronizer) applyReadReceipt(id types.ID) {
	if s.self.IsZero() {
		return
	}
	at := s.now()
	changed := false
	s.mu.Lock()
	if s.conv.ID == id {
		for i, m := range s.confirmed {
			if m.SenderID == s.self || m.ReadByUser(s.self) {
				continue
			}
			s.confirmed[i] = m.WithReadReceipt(s.self, at)
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

// Messages returns the confirmed messages in arrival order followed by the
// outbox.
func (s *Synchronizer) Messages() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.confirmed)+len(s.outbox))
	for _, m := range s.confirmed {
		out = append(out, Item{Message: m})
	}
	for _, e := range s.outbox {
		cp := *e
		out = append(out, Item{
			Message: types.Message{
				ConversationID: s.conv.ID,
				SenderID:       s.self,
				Body:           e.Text,
				Kind:           types.KindText,
				CreatedAt:      e.CreatedAt,
			},
			Pending: &cp,
		})
	}
	return out
}

// Confirmed returns only the server-confirmed messages.
func (s *Synchronizer) Confirmed() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.confirmed...)
}

// Watch subscribes to the conversation's live topic. Pushed messages go
// through ReceiveLive; in degraded mode history is re-fetched on interval.
func (s *Synchronizer) Watch(m *livechannel.Manager, interval time.Duration) (*livechannel.Subscription, error) {
	id, err := s.openID()
	if err != nil {
		return nil, err
	}
	sub := m.Subscribe(s.ctx, livechannel.ConversationTopic(id), livechannel.Options{
		OnEvent:  s.ReceiveLive,
		Interval: interval,
		Poll: func(ctx context.Context) {
			if err := s.LoadHistory(ctx); err != nil {
				s.log.Debug().Err(err).Msg("history poll failed")
			}
		},
	})
	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return sub, nil
}

// Close stops the live subscription and abandons queued read receipts.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	s.cancel()
}
