package client

// This file defines functional options that configure the Client during
// construction. Keeping them in a standalone file makes it easy to discover
// all available knobs at a glance.

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/transport"
)

// Option configures a Client during construction in New. Options run before
// any component is built.
type Option func(*Client) error

// WithHTTPClient sets the http.Client whose Transport carries every request.
// Its Timeout is ignored; use WithHTTPTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.http = hc
		return nil
	}
}

// WithHTTPTimeout sets the default per-attempt bound. Slow request classes
// and preview deployments keep their own bounds. The value must be greater
// than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.policy.DefaultTimeout = d
		return nil
	}
}

// WithRetryPolicy replaces the timeout and retry policy. Zero fields keep
// their defaults.
func WithRetryPolicy(p transport.Policy) Option {
	return func(c *Client) error {
		c.policy = p
		return nil
	}
}

// WithDebugLogging dumps each request and response at debug level, with the
// Authorization header redacted. MARKETSYNC_DEBUG=true has the same effect
// unless this option says otherwise.
//
// Do not enable this option in production environments as it logs bodies.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		c.debug = &enabled
		return nil
	}
}

// WithOrigin sets the page origin used to detect the deployment and to
// resolve root-relative URLs.
func WithOrigin(origin string) Option {
	return func(c *Client) error {
		c.origin = origin
		return nil
	}
}

// WithPreview marks the deployment as a preview build with tight timeouts.
func WithPreview(preview bool) Option {
	return func(c *Client) error {
		c.preview = preview
		return nil
	}
}

// WithToken attaches token to every request ahead of stored credentials.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithFederatedCredentials mints credentials through the OAuth2 client
// credentials flow when nothing is stored locally.
func WithFederatedCredentials(tokenURL, clientID, clientSecret string) Option {
	return func(c *Client) error {
		if tokenURL == "" || clientID == "" {
			return fmt.Errorf("token url and client id are required")
		}
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		c.federated = cfg.TokenSource(context.Background())
		return nil
	}
}

// WithStore sets the local key/value store. The caller keeps ownership.
func WithStore(s storage.Store) Option {
	return func(c *Client) error {
		c.store = s
		return nil
	}
}

// WithStoreDir persists local state in a pebble database under dir.
func WithStoreDir(dir string) Option {
	return func(c *Client) error {
		c.storeDir = dir
		return nil
	}
}

// WithNavigator receives the re-authentication redirect after an
// authorization failure.
func WithNavigator(n transport.Navigator) Option {
	return func(c *Client) error {
		c.nav = n
		return nil
	}
}

// WithRateLimit caps outgoing attempts. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		c.rps, c.burst = rps, burst
		return nil
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithPollIntervals sets the degraded-mode poll intervals for chats and for
// the dashboard feed.
func WithPollIntervals(chat, dashboard time.Duration) Option {
	return func(c *Client) error {
		if chat <= 0 || dashboard <= 0 {
			return fmt.Errorf("poll intervals must be > 0")
		}
		c.chatPoll, c.dashPoll = chat, dashboard
		return nil
	}
}

// WithOpenTimeout bounds push channel establishment.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("open timeout must be > 0")
		}
		c.openTimeout = d
		return nil
	}
}

// WithoutPush disables the push channel; live views poll from the start.
func WithoutPush() Option {
	return func(c *Client) error {
		c.noPush = true
		return nil
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d livechannel.Dialer) Option {
	return func(c *Client) error {
		c.dialer = d
		return nil
	}
}
