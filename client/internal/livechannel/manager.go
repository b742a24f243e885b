// Package livechannel keeps a push subscription per topic and silently falls
// back to fixed-interval polling when the push channel cannot be opened or
// drops. A subscription never returns to push mode; a fresh Subscribe call
// tries again.
package livechannel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle of a subscription.
type State int32

const (
	Connecting State = iota
	Live
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultOpenTimeout bounds channel establishment.
const DefaultOpenTimeout = 10 * time.Second

// Options configures one subscription.
type Options struct {
	// OnEvent receives normalized events in arrival order.
	OnEvent func(Event)
	// Poll re-fetches what the channel would have pushed. It runs on entering
	// degraded mode and then every Interval.
	Poll func(ctx context.Context)
	// Interval defaults to the topic's DefaultInterval.
	Interval time.Duration
	// OnStateChange observes transitions.
	OnStateChange func(State)
}

// Manager opens subscriptions.
type Manager struct {
	dialer      Dialer
	openTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpenTimeout overrides DefaultOpenTimeout.
func WithOpenTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.openTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides time.Now for stamping pushed messages.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. A nil dialer means push is unavailable and
// every subscription degrades immediately.
func NewManager(d Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:      d,
		openTimeout: DefaultOpenTimeout,
		log:         log.Logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscription is one topic's live feed.
type Subscription struct {
	topic    Topic
	opts     Options
	mgr      *Manager
	log      zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	state    atomic.Int32
	stateMu  sync.Mutex
	connMu   sync.Mutex
	conn     Conn
	closeOne sync.Once
}

var errNoDialer = errors.New("livechannel: push unavailable")

// Subscribe starts the subscription in the background. Cancelling ctx has the
// same effect as Close except that Close also waits.
func (m *Manager) Subscribe(ctx context.Context, topic Topic, opts Options) *Subscription {
	if opts.Interval <= 0 {
		opts.Interval = topic.DefaultInterval()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		topic:  topic,
		opts:   opts,
		mgr:    m,
		log:    m.log.With().Str("topic", topic.String()).Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(Connecting))
	activeSubscriptions.Inc()
	go s.run(ctx)
	return s
}

// Topic returns the subscription key.
func (s *Subscription) Topic() Topic { return s.topic }

// State returns the current state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// Done is closed when the background goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close tears the subscription down and waits for its goroutine. It is
// idempotent and safe to call from any goroutine except OnEvent and Poll
// callbacks.
func (s *Subscription) Close() {
	s.closeOne.Do(func() {
		s.cancel()
		s.releaseConn(true)
		<-s.done
		s.setState(Closed)
		activeSubscriptions.Dec()
	})
}

func (s *Subscription) setState(st State) {
	s.stateMu.Lock()
	prev := State(s.state.Load())
	if prev == st || prev == Closed {
		s.stateMu.Unlock()
		return
	}
	s.state.Store(int32(st))
	s.stateMu.Unlock()
	stateTransitionsTotal.WithLabelValues(st.String()).Inc()
	s.log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("live channel state")
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if ctx.Err() != nil {
			s.setState(Closed)
		}
	}()
	defer s.releaseConn(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("live channel panicked")
		}
	}()

	err := s.stream(ctx)
	if ctx.Err() != nil {
		return
	}
	s.log.Info().Err(err).Msg("push channel unavailable; polling")
	s.releaseConn(false)
	s.setState(Degraded)
	s.poll(ctx)
}

// stream opens the channel and forwards frames until it fails.
func (s *Subscription) stream(ctx context.Context) error {
	if s.mgr.dialer == nil {
		return errNoDialer
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.mgr.openTimeout)
	conn, err := s.mgr.dialer.Dial(dialCtx, s.topic)
	cancel()
	if err != nil {
		dialsTotal.WithLabelValues("failed").Inc()
		return err
	}
	dialsTotal.WithLabelValues("ok").Inc()

	s.connMu.Lock()
	if ctx.Err() != nil {
		s.connMu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	s.conn = conn
	s.connMu.Unlock()
	s.setState(Live)
	// ReadFrame does not observe ctx; closing the conn unblocks it.
	stop := context.AfterFunc(ctx, func() { s.releaseConn(true) })
	defer stop()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		ev, ok := adapt(s.topic, f, s.mgr.now())
		if !ok {
			s.log.Debug().Str("event", f.Event).Msg("ignoring unknown event")
			continue
		}
		eventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(ev)
		}
	}
}

// releaseConn closes the channel once. leave sends the leave frame first when
// the channel is live.
func (s *Subscription) releaseConn(leave bool) {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	if leave && s.State() == Live {
		_ = conn.WriteFrame(s.topic.leaveFrame())
	}
	if err := conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close push channel")
	}
}

func (s *Subscription) poll(ctx context.Context) {
	if s.opts.Poll == nil {
		return
	}
	kind := "chat"
	if s.topic.Kind == TopicAccount {
		kind = "dashboard"
	}
	tick := func() {
		pollsTotal.WithLabelValues(kind).Inc()
		s.opts.Poll(ctx)
	}

	tick()
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			tick()
		}
	}
}
