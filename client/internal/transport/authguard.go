package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAuthPath is where re-authentication happens.
const DefaultAuthPath = "/auth"

// DefaultRedirectDelay lets in-flight UI settle before navigating away.
const DefaultRedirectDelay = 1500 * time.Millisecond

// Navigator performs the re-authentication redirect.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string) { f(path) }

// CredentialClearer removes every locally stored credential.
type CredentialClearer interface {
	Clear() error
}

// AuthGuard reacts to authorization failures: it clears local credentials
// and schedules a single redirect to the auth path. Concurrent failures
// inside the delay window collapse into one redirect.
type AuthGuard struct {
	clearer CredentialClearer
	nav     Navigator
	path    string
	delay   time.Duration
	log     zerolog.Logger

	pending atomic.Bool
	mu      sync.Mutex
	timer   *time.Timer
}

// AuthGuardOption configures an AuthGuard.
type AuthGuardOption func(*AuthGuard)

// WithRedirectDelay overrides DefaultRedirectDelay.
func WithRedirectDelay(d time.Duration) AuthGuardOption {
	return func(g *AuthGuard) { g.delay = d }
}

// WithAuthPath overrides DefaultAuthPath.
func WithAuthPath(p string) AuthGuardOption {
	return func(g *AuthGuard) { g.path = p }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l zerolog.Logger) AuthGuardOption {
	return func(g *AuthGuard) { g.log = l }
}

// NewAuthGuard builds a guard. nav may be nil, in which case only the
// credentials are cleared.
func NewAuthGuard(clearer CredentialClearer, nav Navigator, opts ...AuthGuardOption) *AuthGuard {
	g := &AuthGuard{
		clearer: clearer,
		nav:     nav,
		path:    DefaultAuthPath,
		delay:   DefaultRedirectDelay,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Trigger clears credentials and schedules the redirect unless one is
// already pending.
func (g *AuthGuard) Trigger() {
	if g == nil {
		return
	}
	authFailuresTotal.Inc()
	if g.clearer != nil {
		if err := g.clearer.Clear(); err != nil {
			g.log.Warn().Err(err).Msg("clear credentials")
		}
	}
	if g.nav == nil || !g.pending.CompareAndSwap(false, true) {
		return
	}
	g.log.Info().Str("path", g.path).Dur("delay", g.delay).Msg("scheduling re-authentication")
	g.mu.Lock()
	g.timer = time.AfterFunc(g.delay, func() {
		g.pending.Store(false)
		g.nav.Navigate(g.path)
	})
	g.mu.Unlock()
}

// Pending reports whether a redirect is scheduled.
func (g *AuthGuard) Pending() bool { return g != nil && g.pending.Load() }

// Stop cancels a scheduled redirect.
func (g *AuthGuard) Stop() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil && g.timer.Stop() {
		g.pending.Store(false)
	}
	g.timer = nil
}
