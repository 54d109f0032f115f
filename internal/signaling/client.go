// Package signaling keeps a client connected to its room on the room server.
// It reconnects with backoff, replays the join, queues outbound messages
// while offline and detects half-dead connections with a heartbeat.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/retry"
)

const (
	defaultReconnectBase        = 1 * time.Second
	defaultReconnectCap         = 10 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultHeartbeatInterval    = 25 * time.Second
	defaultPongGrace            = 10 * time.Second
	defaultQueueSize            = 64
)

var (
	ErrClosed     = errors.New("signaling client closed")
	ErrStarted    = errors.New("signaling client already started")
	ErrNotStarted = errors.New("signaling client not started")

	errStale = errors.New("connection superseded")
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	// URL of the room, e.g. ws://host/ws/ABC.
	URL string

	// Join is sent first on every open so the server rebinds the connection
	// after a reconnect.
	Join *protocol.Join

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int

	// HeartbeatInterval is how often a ping is sent. A connection that has not
	// answered for HeartbeatInterval+PongGrace is terminated.
	HeartbeatInterval time.Duration
	PongGrace         time.Duration

	QueueSize int

	Dialer Dialer
}

func (o Options) withDefaults() Options {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = defaultReconnectCap
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.PongGrace <= 0 {
		o.PongGrace = defaultPongGrace
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	return o
}

// Client is the connection manager for one room.
//
// Each connection attempt is a cycle tagged with a generation number. Events
// from a cycle that has been superseded are ignored, which is what keeps an
// old transport's close from scheduling a second reconnect.
type Client struct {
	opts Options
	join []byte
	ping []byte
	log  *slog.Logger

	// writeMu serializes writes to the transport. It is taken before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64
	started   bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	stopCycle context.CancelFunc
	transport Transport
	outbox    outbox
	backoff   retry.Backoff

	reconnect retry.Scheduler
	lastPong  atomic.Int64

	// joinPending is set from sending the join until room_status confirms
	// it. A join refused because an earlier session of ours is still bound
	// is retried on rejoinBackoff until the server prunes that session.
	joinPending   bool
	rejoin        retry.Scheduler
	rejoinBackoff retry.Backoff

	dispatch *dispatcher
}

// NewClient returns an idle client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	log := slog.With("component", "signaling")

	c := &Client{
		opts:   opts,
		ping:   protocol.MustEncode(protocol.Ping{}),
		log:    log,
		outbox: outbox{size: opts.QueueSize},
		backoff: retry.Backoff{
			Base:        opts.ReconnectBase,
			Cap:         opts.ReconnectCap,
			MaxAttempts: opts.MaxReconnectAttempts,
		},
		rejoinBackoff: retry.Backoff{
			Base: opts.ReconnectBase,
			Cap:  opts.ReconnectCap,
		},
		dispatch: newDispatcher(log),
	}
	if opts.Join != nil {
		c.join = protocol.MustEncode(*opts.Join)
	}
	return c
}

// Connect starts the first connection cycle and returns immediately. Progress
// is reported through OnStateChange. Cancelling ctx has the same effect as a
// reconnect that never fires; call Close to release the transport.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.startCycle()
	return nil
}

// Reconnect abandons the current connection, if any, and starts a fresh
// cycle with the backoff reset. It is how a client leaves StateFailed.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.backoff.Reset()
	c.mu.Unlock()

	c.startCycle()
	return nil
}

// Close shuts the client down for good. Pending reconnects and the heartbeat
// stop, and the transport is closed cleanly.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.reconnect.Cancel()
	c.rejoin.Cancel()
	if c.stopCycle != nil {
		c.stopCycle()
	}
	if c.cancel != nil {
		c.cancel()
	}
	t := c.transport
	c.transport = nil
	c.state = StateClosed
	c.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close(true)
	}
	c.dispatch.notify(StateClosed)
	return err
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Queued returns the number of messages waiting for a connection.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.len()
}

// SendMessage writes msg now if connected, or queues it for the next open.
// It only fails if msg cannot be encoded or the client is closed.
func (c *Client) SendMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	q := queued{data: data, priority: msg.Type() == protocol.TypeJoin}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConnected || c.transport == nil {
		c.enqueueLocked(q)
		c.mu.Unlock()
		return nil
	}
	t := c.transport
	c.mu.Unlock()

	if err := t.WriteMessage(data); err != nil {
		c.log.Debug("write failed, message queued", "type", msg.Type(), "error", err)
		c.mu.Lock()
		c.enqueueLocked(q)
		c.mu.Unlock()
		// The read loop sees the close and starts the reconnect.
		t.Close(false)
	}
	return nil
}

// Handle registers fn for every inbound message of type t. The returned
// function removes it. Handlers run on the connection's read goroutine.
func (c *Client) Handle(t protocol.Type, fn func(protocol.Message)) func() {
	return c.dispatch.handle(t, fn)
}

// OnStateChange registers fn for state transitions. It may be called from
// any of the client's goroutines.
func (c *Client) OnStateChange(fn func(State)) func() {
	return c.dispatch.watch(fn)
}

// On registers a handler for messages of type T.
func On[T protocol.Message](c *Client, fn func(T)) func() {
	var zero T
	return c.Handle(zero.Type(), func(m protocol.Message) {
		if v, ok := m.(T); ok {
			fn(v)
		}
	})
}

func (c *Client) enqueueLocked(q queued) {
	if c.outbox.push(q) {
		c.log.Warn("outbound queue full, discarded oldest message", "size", c.outbox.size)
	}
}

// startCycle supersedes whatever cycle is running and dials again.
func (c *Client) startCycle() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnect.Cancel()
	c.rejoin.Cancel()
	if c.stopCycle != nil {
		c.stopCycle()
	}
	c.gen++
	gen := c.gen
	ctx, stop := context.WithCancel(c.ctx)
	c.stopCycle = stop
	old := c.transport
	c.transport = nil
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		old.Close(false)
	}
	c.dispatch.notify(StateConnecting)
	go c.run(ctx, gen)
}

func (c *Client) run(ctx context.Context, gen uint64) {
	t, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.log.Debug("dial failed", "url", c.opts.URL, "error", err)
		c.handleClose(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		closed := c.closed
		c.mu.Unlock()
		t.Close(closed)
		return
	}
	c.transport = t
	c.mu.Unlock()

	c.lastPong.Store(time.Now().UnixNano())
	if err := c.flush(gen, t); err != nil {
		if errors.Is(err, errStale) {
			return
		}
		t.Close(false)
		c.handleClose(gen, err)
		return
	}
	c.log.Info("connected", "url", c.opts.URL)
	c.dispatch.notify(StateConnected)

	go c.heartbeat(ctx, t)
	c.readLoop(gen, t)
}

// flush sends the join followed by everything queued, in order, and only
// then marks the client connected. Sends racing with the flush wait on
// writeMu and then find the client connected, so nothing overtakes the
// queue.
func (c *Client) flush(gen uint64, t Transport) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.join != nil {
		if err := t.WriteMessage(c.join); err != nil {
			return err
		}
		c.mu.Lock()
		c.joinPending = true
		c.mu.Unlock()
	}

	for {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return errStale
		}
		q, ok := c.outbox.pop()
		if !ok {
			c.state = StateConnected
			c.backoff.Reset()
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		if err := t.WriteMessage(q.data); err != nil {
			c.mu.Lock()
			c.outbox.pushFront(q)
			c.mu.Unlock()
			return err
		}
	}
}

func (c *Client) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable message", "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.Pong:
			c.lastPong.Store(time.Now().UnixNano())
		case protocol.RoomStatus:
			c.joinConfirmed()
		case protocol.Error:
			if c.retryJoin(gen, m) {
				continue
			}
		}
		c.dispatch.dispatch(msg)
	}
}

func (c *Client) joinConfirmed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinPending {
		c.joinPending = false
		c.rejoinBackoff.Reset()
	}
}

// retryJoin reports whether e refused our own pending join because the
// participant is still bound elsewhere, and if so schedules another join.
func (c *Client) retryJoin(gen uint64, e protocol.Error) bool {
	if e.Reason != protocol.ReasonDuplicateParticipant {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed || !c.joinPending {
		return false
	}
	delay, _ := c.rejoinBackoff.Next()
	c.rejoin.Schedule(c.ctx, delay, func() { c.resendJoin(gen) })
	c.log.Info("earlier session still in room, retrying join", "attempt", c.rejoinBackoff.Attempt(), "delay", delay)
	return true
}

func (c *Client) resendJoin(gen uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	t := c.transport
	live := gen == c.gen && !c.closed && c.joinPending && t != nil
	c.mu.Unlock()
	if !live {
		return
	}
	if err := t.WriteMessage(c.join); err != nil {
		// The read loop sees the close and starts the reconnect.
		t.Close(false)
	}
}

// heartbeat pings the server and terminates the transport if pongs stop.
func (c *Client) heartbeat(ctx context.Context, t Transport) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	deadline := c.opts.HeartbeatInterval + c.opts.PongGrace
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		silent := time.Since(time.Unix(0, c.lastPong.Load()))
		if silent > deadline {
			c.log.Warn("heartbeat timed out, terminating connection", "silent", silent.Round(time.Millisecond))
			t.Close(false)
			return
		}

		c.writeMu.Lock()
		err := t.WriteMessage(c.ping)
		c.writeMu.Unlock()
		if err != nil {
			t.Close(false)
			return
		}
	}
}

// handleClose ends cycle gen and schedules the next one, or gives up once
// the backoff is exhausted.
func (c *Client) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	if c.stopCycle != nil {
		c.stopCycle()
	}
	c.rejoin.Cancel()
	c.joinPending = false
	t := c.transport
	c.transport = nil

	delay, ok := c.backoff.Next()
	attempt := c.backoff.Attempt()
	if ok {
		c.state = StateDisconnected
		c.reconnect.Schedule(c.ctx, delay, c.startCycle)
	} else {
		c.state = StateFailed
	}
	next := c.state
	c.mu.Unlock()

	if t != nil {
		t.Close(false)
	}
	if ok {
		c.log.Info("disconnected, reconnecting", "attempt", attempt, "delay", delay, "error", cause)
	} else {
		c.log.Error("giving up after repeated failures", "attempts", c.opts.MaxReconnectAttempts, "error", cause)
	}
	c.dispatch.notify(next)
}
