package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quotegate/internal/cache"
	"quotegate/internal/quote"
)

// Conn is the subset of the websocket connection the client needs; tests
// substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens one upstream socket.
type Dialer func(ctx context.Context) (Conn, error)

// GorillaDialer dials url with the default websocket dialer bounded by the
// given handshake timeout.
func GorillaDialer(url string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Spec is the static configuration of one feed: where it lives, how its
// frames are shaped and the timing of its heartbeat. One Client instance
// serves one Spec; adding a provider means adding a Spec, not a client type.
type Spec struct {
	Name         string
	Exchange     string // fallback exchange context for unmapped symbols
	Layout       Layout
	Maps         map[string]FieldMap
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Client owns one persistent connection to one provider: it authenticates via
// its Scheme, registers instrument subscriptions, feeds inbound frames to the
// parser and writes decoded records to the cache. Reconnection, backoff and
// the circuit breaker are driven by the embedded Supervisor.
type Client struct {
	spec   Spec
	scheme Scheme
	parser *Parser
	store  cache.Store
	dial   Dialer
	sup    *Supervisor
	log    *zap.Logger

	connectMu sync.Mutex // serializes Connect
	mu        sync.Mutex // guards conn, gen, subs, symToExch, hbStop
	conn      Conn
	gen       uint64 // connection generation, ignores stale read-loop exits
	subs      map[quote.InstrumentKey]struct{}
	symToExch map[string]string
	hbStop    chan struct{}

	writeMu sync.Mutex // one frame on the wire at a time

	replayOnAuth atomic.Bool // reconnected before the login ack, replay pending

	closed atomic.Bool
	done   chan struct{}
}

func NewClient(spec Spec, scheme Scheme, store cache.Store, dial Dialer, log *zap.Logger) *Client {
	log = log.With(zap.String("feed", spec.Name))
	if spec.PingInterval <= 0 {
		spec.PingInterval = 30 * time.Second
	}
	if spec.PongTimeout <= 0 {
		spec.PongTimeout = 10 * time.Second
	}
	return &Client{
		spec:      spec,
		scheme:    scheme,
		parser:    NewParser(spec.Layout, spec.Maps, log),
		store:     store,
		dial:      dial,
		sup:       NewSupervisor(log),
		log:       log,
		subs:      make(map[quote.InstrumentKey]struct{}),
		symToExch: make(map[string]string),
		done:      make(chan struct{}),
	}
}

// Supervisor exposes the state machine for operator actions
// (ResetCircuitBreaker) and observability.
func (c *Client) Supervisor() *Supervisor { return c.sup }

// Connect establishes the socket and runs the auth handshake. Callable
// eagerly at startup or lazily from the first Subscribe; a no-op when the
// connection is already up. Fails fast with ErrCircuitOpen while the breaker
// is latched.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.sup.AllowConnect(); err != nil {
		return err
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.sup.SetState(StateConnecting)
	c.log.Info("connecting upstream")

	conn, err := c.dial(ctx)
	if err != nil {
		c.sup.SetState(StateFailed)
		c.log.Error("upstream dial failed", zap.Error(err))
		return err
	}
	conn.SetPongHandler(func(string) error {
		c.sup.Pong()
		return nil
	})

	c.sup.SetState(StateConnected)
	c.sup.Pong() // seed liveness for the new socket's heartbeat

	login, err := c.scheme.LoginFrame(ctx)
	if err != nil {
		conn.Close()
		c.sup.SetState(StateFailed)
		return err
	}
	if login != nil {
		if err := c.write(conn, login); err != nil {
			conn.Close()
			c.sup.SetState(StateFailed)
			return err
		}
	}
	// failure accounting resets only once auth completes, so a provider
	// that accepts sockets but rejects logins still latches the breaker
	if c.scheme.ImmediateAuth() {
		c.sup.SetState(StateAuthenticated)
		c.sup.ConnectSucceeded()
	}

	hbStop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.hbStop = hbStop
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.heartbeat(conn, hbStop)

	c.log.Info("upstream connected")
	return nil
}

// Subscribe registers interest in key on the upstream connection. Idempotent.
// Connects lazily when needed. On a stateful-auth feed that has not completed
// its login handshake this returns ErrNotAuthenticated rather than queueing.
func (c *Client) Subscribe(ctx context.Context, key quote.InstrumentKey) error {
	if c.closed.Load() {
		return errors.New("client closed")
	}

	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	if st := c.sup.State(); st != StateAuthenticated && st != StateSubscribed {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// frame building can call out to the credential provider; keep it
	// off the lock so disconnect handling is never stalled behind it
	frame, err := c.scheme.SubscribeFrame(ctx, key, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[key]; ok {
		return nil
	}
	conn := c.conn
	if conn == nil {
		return errors.New("connection lost")
	}
	if err := c.write(conn, frame); err != nil {
		c.log.Error("subscribe send failed", zap.Stringer("key", key), zap.Error(err))
		return err
	}

	c.subs[key] = struct{}{}
	c.symToExch[strings.ToUpper(key.Symbol)] = key.Exchange
	c.log.Info("subscribed upstream", zap.Stringer("key", key))

	if c.sup.State() == StateAuthenticated {
		c.sup.SetState(StateSubscribed)
	}
	return nil
}

// Unsubscribe deregisters key. Idempotent; a no-op when not subscribed.
func (c *Client) Unsubscribe(ctx context.Context, key quote.InstrumentKey) error {
	c.mu.Lock()
	if _, ok := c.subs[key]; !ok {
		c.mu.Unlock()
		return nil
	}
	if c.conn == nil {
		// connection already gone; dropping local state is enough, the
		// provider forgot us with the socket
		delete(c.subs, key)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	frame, err := c.scheme.SubscribeFrame(ctx, key, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[key]; !ok {
		return nil
	}
	conn := c.conn
	if conn == nil {
		delete(c.subs, key)
		return nil
	}
	if err := c.write(conn, frame); err != nil {
		c.log.Error("unsubscribe send failed", zap.Stringer("key", key), zap.Error(err))
		return err
	}
	delete(c.subs, key)
	c.log.Info("unsubscribed upstream", zap.Stringer("key", key))
	return nil
}

// Subscriptions snapshots the live subscription set.
func (c *Client) Subscriptions() []quote.InstrumentKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]quote.InstrumentKey, 0, len(c.subs))
	for key := range c.subs {
		out = append(out, key)
	}
	return out
}

// Close shuts the client down for good; no reconnect is attempted.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.mu.Lock()
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.sup.SetState(StateDisconnected)
}

func (c *Client) write(conn Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.log.Warn("upstream read error", zap.Error(err))
			}
			break
		}
		c.handleFrame(string(msg))
	}
	c.handleDisconnect(gen)
}

func (c *Client) handleFrame(raw string) {
	frame, err := c.parser.Parse(raw)
	if err != nil {
		// protocol and parse errors drop the single frame, never the socket
		c.log.Warn("dropping frame", zap.Error(err))
		return
	}

	if frame.Control {
		switch c.scheme.HandleControl(frame.Raw) {
		case ControlAuthOK:
			c.sup.SetState(StateAuthenticated)
			c.sup.ConnectSucceeded()
			if c.replayOnAuth.CompareAndSwap(true, false) {
				go c.resubscribeAll()
			}
		case ControlAuthFailed:
			c.sup.SetState(StateFailed)
			c.forceClose()
		}
		return
	}

	key := quote.InstrumentKey{
		Exchange: c.exchangeFor(frame.Symbol),
		Symbol:   frame.Symbol,
		Kind:     frame.Kind,
	}
	c.store.Put(key, frame.Record)
}

// exchangeFor recovers the exchange context for a bare wire symbol from the
// subscription that requested it.
func (c *Client) exchangeFor(symbol string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exch, ok := c.symToExch[strings.ToUpper(symbol)]; ok {
		return exch
	}
	return c.spec.Exchange
}

// forceClose tears down the current socket so the read loop unblocks and the
// reconnect procedure takes over.
func (c *Client) forceClose() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	c.mu.Unlock()

	c.sup.SetState(StateDisconnected)
	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff until it succeeds or
// the circuit breaker latches, then replays the live subscription set. Replay
// reads the client's own subscriptions, not downstream state, so upstream
// self-heals independent of session churn.
func (c *Client) reconnectLoop() {
	for {
		delay, err := c.sup.NextDelay()
		if err != nil {
			c.log.Error("reconnect abandoned", zap.Error(err))
			return
		}
		c.log.Info("scheduling reconnect", zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		// on a stateful-auth feed the replay must wait for the login ack,
		// so arm it before Connect can race the ack in
		if !c.scheme.ImmediateAuth() {
			c.replayOnAuth.Store(true)
		}
		if err := c.Connect(context.Background()); err != nil {
			c.log.Warn("reconnect attempt failed", zap.Error(err))
			continue
		}
		if c.scheme.ImmediateAuth() {
			c.resubscribeAll()
		}
		return
	}
}

// resubscribeAll re-registers every key that was live before the drop. Keys
// whose registration fails stay in the subscription set so the next replay
// picks them up again.
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	replay := make([]quote.InstrumentKey, 0, len(c.subs))
	for key := range c.subs {
		replay = append(replay, key)
	}
	c.subs = make(map[quote.InstrumentKey]struct{})
	c.mu.Unlock()

	if len(replay) == 0 {
		return
	}
	c.log.Info("replaying subscriptions", zap.Int("count", len(replay)))
	for _, key := range replay {
		if err := c.Subscribe(context.Background(), key); err != nil {
			c.log.Error("resubscribe failed", zap.Stringer("key", key), zap.Error(err))
			c.mu.Lock()
			c.subs[key] = struct{}{}
			c.mu.Unlock()
		}
	}
}

// heartbeat pings on a fixed interval and force-closes the connection when no
// pong arrived within the timeout, which hands control to the reconnect
// procedure. Stopped on disconnect, restarted with the next connection.
func (c *Client) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.spec.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.sup.PongOverdue(c.spec.PongTimeout) {
				c.log.Warn("pong overdue, force-closing connection",
					zap.Duration("timeout", c.spec.PongTimeout))
				conn.Close()
				return
			}
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn("ping send failed", zap.Error(err))
			}
		}
	}
}
