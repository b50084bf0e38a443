// Package transport owns the single WebSocket connection to the real-time
// backend: authentication, reconnection, outbound command queueing, and
// decoding of the inbound event stream.
package transport

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatsync/internal/domain"
	"chatsync/internal/metrics"
)

const (
	defaultQueueSize        = 64
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = time.Second
	defaultMaxAttempts      = 5
	defaultCommandRate      = 20 // commands per second
	defaultCommandBurst     = 10
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Config tunes the client. Zero values select defaults.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Token supplies the bearer credential, read at dial time so refreshed
	// tokens take effect on reconnect. May be nil.
	Token domain.TokenSource
	// MaxReconnectAttempts bounds automatic retries; past the bound the
	// client stays down until Wake is called.
	MaxReconnectAttempts int
	// ReconnectDelay is the backoff base; the actual delay grows
	// quadratically with the attempt number plus jitter.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// QueueSize bounds the offline command queue. When it overflows the
	// oldest command is dropped with a warning.
	QueueSize         int
	CommandsPerSecond float64
	CommandBurst      int
	Logger            *slog.Logger
}

// Client implements domain.Transport over gorilla/websocket.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	disp    *dispatcher
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	runCtx   context.Context
	state    connState
	conn     *websocket.Conn
	done     chan struct{} // closed when the current connection dies
	queue    []frame
	notify   chan struct{}
	wake     chan struct{}
	attempts int
	closed   bool
}

// New builds a disconnected client. Call Connect to bring it up.
func New(cfg Config) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxAttempts
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = defaultCommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = defaultCommandBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		disp:    newDispatcher(cfg.Logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), cfg.CommandBurst),
		logger:  cfg.Logger,
		notify:  make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
	}
}

// Connect dials the backend. Idempotent: while connected or connecting it is
// a no-op. Dial failures surface through the error handler and feed the
// bounded reconnect loop; nothing is returned to the caller.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.state != stateDisconnected {
		c.mu.Unlock()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.runCtx = ctx
	c.state = stateConnecting
	c.mu.Unlock()

	go c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) {
	header := http.Header{}
	if c.cfg.Token != nil {
		// Read the credential now, not at construction time. A missing
		// token still dials; the server rejects via the error event.
		if tok := c.cfg.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		c.logger.Warn("dial failed", "url", c.cfg.URL, "error", err)
		c.disp.errorEvent(domain.ErrorEvent{Code: "dial", Message: err.Error()})
		c.scheduleReconnect(ctx)
		return
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.done = done
	c.state = stateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.cfg.URL)
	metrics.ConnectionUp()

	go c.readLoop(ctx, conn)
	go c.writeLoop(ctx, conn, done)

	c.disp.connected()
	// Ask the server to replay anything missed while we were away.
	c.RequestSync()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(ctx, conn, err)
			return
		}
		c.disp.dispatch(raw)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.notify:
		}
		for {
			f, ok := c.pop()
			if !ok {
				break
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			if err := conn.WriteJSON(f); err != nil {
				c.requeueFailed(f, err)
				c.handleDisconnect(ctx, conn, err)
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = stateDisconnected
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	metrics.ConnectionDown()

	reason := "closed"
	if err != nil {
		reason = err.Error()
	}
	c.disp.disconnected(reason)
	if !closed {
		c.logger.Warn("connection lost", "reason", reason)
		c.scheduleReconnect(ctx)
	}
}

// scheduleReconnect retries with quadratic backoff plus jitter, bounded by
// MaxReconnectAttempts. Once exhausted the client stays disconnected until
// an external trigger calls Wake.
func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.state != stateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted, waiting for wake",
			"attempts", c.cfg.MaxReconnectAttempts)
		return
	}
	// A wake parked while a previous cycle was already dialing would skip
	// this backoff. Wake only signals the channel while the state is
	// connecting, so any token present before the flip below is stale.
	select {
	case <-c.wake:
	default:
	}
	c.attempts++
	attempt := c.attempts
	c.state = stateConnecting
	c.mu.Unlock()

	base := time.Duration(attempt*attempt) * c.cfg.ReconnectDelay
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	delay := base + jitter
	c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	metrics.ReconnectScheduled()

	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = stateDisconnected
			c.mu.Unlock()
			return
		case <-time.After(delay):
		case <-c.wake:
			// Visibility-style trigger: skip the rest of the backoff.
		}
		c.dial(ctx)
	}()
}

// Wake forces an immediate reconnect attempt when the transport is down,
// resetting the attempt budget. The activity monitor calls this when the
// process becomes active again, mirroring a visibility-change check.
func (c *Client) Wake() {
	c.mu.Lock()
	if c.closed || c.state == stateConnected {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	if c.state == stateConnecting {
		// A backoff timer is pending; collapse it.
		c.mu.Unlock()
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return
	}
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.state = stateConnecting
	c.mu.Unlock()

	c.logger.Info("wake: forcing reconnect")
	go c.dial(ctx)
}

// IsConnected reports whether a live connection is up right now.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// enqueue appends a command. While disconnected the queue holds it until the
// next successful connect; overflow drops the oldest entry.
func (c *Client) enqueue(f frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, f)
	if len(c.queue) > c.cfg.QueueSize {
		dropped := c.queue[0]
		c.queue = c.queue[1:]
		c.logger.Warn("command queue full, dropping oldest", "type", dropped.Type)
	}
	c.mu.Unlock()
	c.kickWriter()
}

// enqueueFront puts a command ahead of everything queued, used for the
// sync-request that must precede commands held over from before the drop.
func (c *Client) enqueueFront(f frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append([]frame{f}, c.queue...)
	if len(c.queue) > c.cfg.QueueSize {
		c.queue = c.queue[:c.cfg.QueueSize]
	}
	c.mu.Unlock()
	c.kickWriter()
}

// requeueFailed puts a frame whose write failed back at the head of the
// queue so it survives the reconnect. sync-requests are not held over:
// every successful dial enqueues a fresh one, and requeueing the old one
// would send two.
func (c *Client) requeueFailed(f frame, err error) {
	if f.Type == domain.KindSyncRequest {
		return
	}
	c.logger.Warn("write failed, requeueing", "type", f.Type, "error", err)
	c.requeueFront(f)
}

func (c *Client) requeueFront(f frame) {
	c.mu.Lock()
	c.queue = append([]frame{f}, c.queue...)
	c.mu.Unlock()
}

func (c *Client) pop() (frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return frame{}, false
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	return f, true
}

func (c *Client) kickWriter() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// JoinConversation subscribes the connection to a conversation room.
// Fire-and-forget; queued while disconnected.
func (c *Client) JoinConversation(id string) {
	c.enqueue(command(domain.KindJoinRoom, domain.RoomCommand{
		ConversationID: domain.NormalizeConvID(id),
	}))
}

// LeaveConversation unsubscribes from a conversation room.
func (c *Client) LeaveConversation(id string) {
	c.enqueue(command(domain.KindLeaveRoom, domain.RoomCommand{
		ConversationID: domain.NormalizeConvID(id),
	}))
}

// SendMessage queues an outgoing message. A missing message ID is assigned
// here so the server's ack can be matched against the pending entry.
func (c *Client) SendMessage(cmd domain.SendCommand) {
	if cmd.MessageID == "" {
		cmd.MessageID = uuid.NewString()
	}
	cmd.ConversationID = domain.NormalizeConvID(cmd.ConversationID)
	c.enqueue(command(domain.KindSendMessage, cmd))
}

// Typing reports the viewer's typing state for a conversation.
func (c *Client) Typing(conversationID string, typing bool) {
	kind := domain.KindTypingStop
	if typing {
		kind = domain.KindTypingStart
	}
	c.enqueue(command(kind, domain.RoomCommand{
		ConversationID: domain.NormalizeConvID(conversationID),
	}))
}

// MarkRead reports read messages to the server.
func (c *Client) MarkRead(cmd domain.MarkReadCommand) {
	cmd.ConversationID = domain.NormalizeConvID(cmd.ConversationID)
	c.enqueue(command(domain.KindMarkRead, cmd))
}

// RequestSync asks the server to reconcile state with a fresh correlation
// ID. Jumps the queue so held-over commands land on a synced session.
func (c *Client) RequestSync() {
	c.enqueueFront(command(domain.KindSyncRequest, domain.SyncRequest{
		CorrelationID: uuid.NewString(),
		Since:         time.Now().UTC(),
	}))
}

// RegisterChatListeners installs the handler set, replacing any previous
// one. The returned func unsubscribes it.
func (c *Client) RegisterChatListeners(h domain.ChatHandlers) func() {
	return c.disp.register(h)
}

// Close tears the connection down for good; no reconnect follows.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = stateDisconnected
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
