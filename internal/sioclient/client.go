// Package sioclient implements the client side of spec.md §4.6: connecting
// to a namespace, the handshake/optional-upgrade sequence, and a
// reconnect loop with exponential backoff on top of internal/rawsocket and
// internal/socket.
package sioclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sioerr"
	"github.com/sadewadee/sockhub/internal/socket"
	"github.com/sadewadee/sockhub/internal/transport"
)

// Option configures a Client via the functional-options pattern.
type Option func(*Client)

// WithNamespace selects the namespace to join; default "/".
func WithNamespace(ns string) Option {
	return func(c *Client) { c.namespace = ns }
}

// WithAuth attaches an auth payload sent as the CONNECT packet's data.
func WithAuth(auth json.RawMessage) Option {
	return func(c *Client) { c.auth = auth }
}

// WithHeaders attaches extra HTTP headers to every polling/upgrade request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) { c.headers = headers }
}

// WithoutUpgrade disables the polling-to-WebSocket upgrade attempt,
// keeping the connection on long-polling for its whole lifetime.
func WithoutUpgrade() Option {
	return func(c *Client) { c.noUpgrade = true }
}

// WithReconnect enables or disables the reconnect loop entirely; per
// spec.md §6 it defaults to enabled. Disabling it makes any disconnect
// terminal regardless of WithMaxReconnectAttempts.
func WithReconnect(enabled bool) Option {
	return func(c *Client) { c.reconnectEnabled = enabled }
}

// WithReconnectDelay sets the exponential-backoff bounds for the
// reconnect loop.
func WithReconnectDelay(delayMin, delayMax time.Duration) Option {
	return func(c *Client) {
		c.reconnectMin = delayMin
		c.reconnectMax = delayMax
	}
}

// WithMaxReconnectAttempts caps the number of reconnect attempts before
// the client gives up and surfaces ErrReconnectFailed on
// Client.ReconnectFailed(). Per spec.md §8, n == 0 means no retries are
// attempted at all: the first disconnect is terminal. Never calling this
// option leaves the attempt count unlimited (spec.md §6's `none`).
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = &n }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is one namespace connection to a Socket.IO server, including its
// reconnect behavior.
type Client struct {
	url       string
	namespace string
	auth      json.RawMessage
	headers   map[string]string
	noUpgrade bool
	logger    *slog.Logger

	reconnectEnabled bool
	reconnectMin     time.Duration
	reconnectMax     time.Duration
	maxAttempts      *int // nil = unlimited (spec.md §6's `none`)

	reconnectFailed chan error

	mu        sync.RWMutex
	raw       *rawsocket.RawSocket
	sock      *socket.Socket
	handle    *Handle
	connected bool

	pendingHandlers map[string]socket.EventCallback
	pendingAny      socket.EventCallback

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Client targeting url (an http(s) base URL) and applies opts.
// It does not connect; call Connect to do that.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:              url,
		namespace:        "/",
		reconnectEnabled: true,
		reconnectMin:     500 * time.Millisecond,
		reconnectMax:     30 * time.Second,
		pendingHandlers:  make(map[string]socket.EventCallback),
		reconnectFailed:  make(chan error, 1),
		closed:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// On registers an event handler. Safe to call before or after Connect;
// handlers registered before Connect are applied to the Socket once it
// exists, and survive reconnects since a new Socket is created per
// connection attempt and replayed the same registrations.
func (c *Client) On(event string, cb socket.EventCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingHandlers[event] = cb
	if c.sock != nil {
		c.sock.On(event, cb)
	}
}

// OnAny registers the fallback handler for events with no specific On
// registration.
func (c *Client) OnAny(cb socket.EventCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingAny = cb
	if c.sock != nil {
		c.sock.OnAny(cb)
	}
}

// Connect performs the Engine.IO handshake, optionally upgrades to
// WebSocket, constructs the RawSocket and Socket, sends the CONNECT
// packet, and waits for the server's handshake reply. On success it
// returns a Handle and starts the background reconnect watcher.
func (c *Client) Connect(ctx context.Context) (*Handle, error) {
	raw, sock, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.raw = raw
	c.sock = sock
	c.connected = true
	h := &Handle{client: c}
	c.handle = h
	c.mu.Unlock()

	sock.SetHandle(h)
	go c.watchDisconnect(sock)

	return h, nil
}

// dial runs one handshake attempt (and optional upgrade), wiring up a fresh
// Socket with every pending handler re-registered.
func (c *Client) dial(ctx context.Context) (*rawsocket.RawSocket, *socket.Socket, error) {
	open, pollingClient, err := transport.Handshake(ctx, c.url, c.headers)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", sioerr.ErrHandshakeFailed, err)
	}

	var t transport.Transport = pollingClient
	if !c.noUpgrade {
		if ws, err := transport.ClientUpgrade(ctx, pollingClient.URL(), open.Sid, c.headers); err == nil {
			t = ws
		} else {
			c.logger.Debug("websocket upgrade failed, staying on polling", "error", err)
		}
	}

	cfg := rawsocket.Config{
		PingInterval: time.Duration(open.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(open.PingTimeout) * time.Millisecond,
	}
	raw := rawsocket.New(open.Sid, rawsocket.RoleClient, cfg, t, c.logger, func(error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})

	sock := socket.New(c.namespace, "", raw, c.logger)

	c.mu.RLock()
	for event, cb := range c.pendingHandlers {
		sock.On(event, cb)
	}
	anyCb := c.pendingAny
	c.mu.RUnlock()
	if anyCb != nil {
		sock.OnAny(anyCb)
	}

	if err := sock.SendConnect(ctx, c.auth); err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("%w: %v", sioerr.ErrHandshakeFailed, err)
	}
	ackData, err := sock.WaitConnect(ctx)
	if err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("%w: %v", sioerr.ErrHandshakeFailed, err)
	}
	var ack packet.ConnectAck
	if err := json.Unmarshal(ackData, &ack); err == nil && ack.Sid != "" {
		sock.Sid = ack.Sid
	}
	return raw, sock, nil
}

// watchDisconnect blocks until sock tears down, then runs the reconnect
// loop unless the Client itself has been closed or reconnect is disabled
// (spec.md §6's `reconnect: bool = true`).
func (c *Client) watchDisconnect(sock *socket.Socket) {
	<-sock.Done()

	select {
	case <-c.closed:
		return
	default:
	}

	c.mu.RLock()
	enabled := c.reconnectEnabled
	c.mu.RUnlock()
	if !enabled {
		c.logger.Debug("reconnect disabled, connection dropped")
		return
	}
	c.reconnectLoop()
}

// reconnectLoop implements spec.md §6/§7's backoff loop. maxAttempts ==
// nil means unlimited; maxAttempts pointing at 0 means no retry is
// attempted at all, so the very first disconnect is terminal per
// spec.md §8.
func (c *Client) reconnectLoop() {
	c.mu.RLock()
	maxAttempts := c.maxAttempts
	c.mu.RUnlock()

	if maxAttempts != nil && *maxAttempts == 0 {
		c.failReconnect(fmt.Errorf("%w: max_reconnect_attempts is 0", sioerr.ErrReconnectFailed))
		return
	}

	delay := c.reconnectMin
	attempt := 0
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		if maxAttempts != nil && attempt >= *maxAttempts {
			c.failReconnect(fmt.Errorf("%w: exhausted %d attempts", sioerr.ErrReconnectFailed, attempt))
			return
		}
		attempt++

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		raw, sock, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			jitter := time.Duration(rand.Int63n(int64(delay) + 1))
			sleep := delay + jitter
			if sleep > c.reconnectMax {
				sleep = c.reconnectMax
			}
			time.Sleep(sleep)
			delay *= 2
			if delay > c.reconnectMax {
				delay = c.reconnectMax
			}
			continue
		}

		c.mu.Lock()
		c.raw = raw
		c.sock = sock
		c.connected = true
		h := c.handle
		c.mu.Unlock()
		sock.SetHandle(h)

		go c.watchDisconnect(sock)
		return
	}
}

// failReconnect logs and surfaces the terminal ReconnectFailed error of
// spec.md §7 on the ReconnectFailed() channel. The send is non-blocking
// so a caller who never reads the channel doesn't wedge this goroutine;
// only the most recent failure is retained.
func (c *Client) failReconnect(err error) {
	c.logger.Error("reconnect attempts exhausted", "error", err)
	select {
	case c.reconnectFailed <- err:
	default:
	}
}

// ReconnectFailed returns a channel that receives the terminal
// ErrReconnectFailed error (spec.md §7, "surfaced to the user") once the
// reconnect loop gives up.
func (c *Client) ReconnectFailed() <-chan error {
	return c.reconnectFailed
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears the connection down and stops any pending reconnect attempts.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.RLock()
		sock := c.sock
		c.mu.RUnlock()
		if sock != nil {
			err = sock.Disconnect(ctx)
		}
	})
	return err
}
