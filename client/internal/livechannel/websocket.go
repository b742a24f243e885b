package livechannel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propnest/marketsync/client/internal/deployenv"
)

// Conn is an open push channel.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer opens a push channel for a topic and joins it.
type Dialer interface {
	Dial(ctx context.Context, topic Topic) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, topic Topic) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, topic Topic) (Conn, error) { return f(ctx, topic) }

// SocketPath is where the backend accepts push connections.
const SocketPath = "/socket"

// SocketURL derives the websocket URL from the deployment: the API base when
// one is configured, the origin otherwise.
func SocketURL(env deployenv.Environment) (string, error) {
	base := env.APIBase()
	if base == "" {
		base = env.Origin
	}
	if base == "" {
		return "", fmt.Errorf("livechannel: no origin to derive socket url from")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("livechannel: parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = SocketPath
	u.RawQuery = ""
	return u.String(), nil
}

// TokenFunc returns the bearer credential for the handshake, "" for none.
type TokenFunc func(ctx context.Context) string

// WSDialer dials the backend's websocket endpoint.
type WSDialer struct {
	URL              string
	Token            TokenFunc
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial connects, attaches the credential and sends the join frame.
func (d *WSDialer) Dial(ctx context.Context, topic Topic) (Conn, error) {
	header := d.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if d.Token != nil {
		if tok := d.Token(ctx); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	c := &wsConn{ws: ws}
	if err := c.WriteFrame(topic.joinFrame()); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}
	return c, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	err     error
}

func (c *wsConn) ReadFrame() (Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || strings.TrimSpace(f.Event) == "" {
			// Heartbeats and foreign payloads are skipped.
			continue
		}
		return f, nil
	}
}

func (c *wsConn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.err = c.ws.Close()
	})
	return c.err
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
