package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	rlog "livecast/pkg/logger"
	"livecast/pkg/retry"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. A broadcast frame carries up to a
	// 500-character body plus the JSON envelope.
	maxMessageSize = 4096

	// Outbound chat is limited to one message per interval with a small burst
	sendInterval = 500 * time.Millisecond
	sendBurst    = 5

	dialTimeout = 10 * time.Second

	defaultSendBuffer = 64
)

// Client is a reconnecting WebSocket session channel. It delivers chat
// broadcasts, membership events and viewer count pushes, and accepts
// outbound chat while connected.
type Client struct {
	signalURL string
	identity  domain.SessionIdentity
	reconnect retry.Config

	dedup   *DedupWindow
	limiter *rate.Limiter

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	started bool
	closed  bool

	state domain.ChannelState
	mu    sync.RWMutex

	onEvent       func(domain.ChatEvent)
	onViewerCount func(int)
	onStateChange func(domain.ChannelState, string)

	logger  *zap.SugaredLogger
	metrics ports.RuntimeMetrics
}

// NewClient creates a session channel client for the given identity.
// Callbacks must be registered before Connect.
func NewClient(signalURL string, identity domain.SessionIdentity, reconnect retry.Config) *Client {
	return &Client{
		signalURL: strings.TrimRight(signalURL, "/"),
		identity:  identity,
		reconnect: reconnect,
		dedup:     NewDedupWindow(DefaultDedupWindow),
		limiter:   rate.NewLimiter(rate.Every(sendInterval), sendBurst),
		send:      make(chan []byte, defaultSendBuffer),
		done:      make(chan struct{}),
		state:     domain.ChannelDisconnected,
		logger:    rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger
func (c *Client) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
}

// SetDedupWindow resizes the duplicate suppression window. Must be
// called before Connect.
func (c *Client) SetDedupWindow(size int) {
	c.dedup = NewDedupWindow(size)
}

// SetMetrics attaches a runtime metrics sink. Must be called before
// Connect.
func (c *Client) SetMetrics(m ports.RuntimeMetrics) {
	c.metrics = m
}

// OnEvent registers the callback for inbound chat and membership events
func (c *Client) OnEvent(fn func(domain.ChatEvent)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnViewerCount registers the callback for pushed viewer counts
func (c *Client) OnViewerCount(fn func(int)) {
	c.mu.Lock()
	c.onViewerCount = fn
	c.mu.Unlock()
}

// OnStateChange registers the callback for channel state transitions
func (c *Client) OnStateChange(fn func(domain.ChannelState, string)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// State returns the current channel state.
func (c *Client) State() domain.ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect starts the channel. The connection is managed in the
// background: drops are retried on the reconnect schedule until the
// attempt budget is exhausted, after which the channel is abandoned.
// Outcomes surface through the state change callback.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Disconnect closes the channel and stops reconnecting. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
}

// Send queues a chat message. It reports false when the channel is not
// connected, the body is empty, the rate limit is exceeded or the send
// buffer is full. Bodies longer than the wire limit are truncated.
func (c *Client) Send(body string) bool {
	if c.State() != domain.ChannelConnected {
		return false
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	body = utils.TruncateRunes(body, validation.MaxChatBodyChars)

	if !c.limiter.Allow() {
		c.logger.Debugw("chat send rate limited", "session_id", c.identity.SessionID)
		return false
	}

	msg := &Message{
		Type:      MessageTypeChat,
		SessionID: string(c.identity.SessionID),
		UserID:    string(c.identity.ParticipantID),
		Username:  c.identity.DisplayName,
		Content:   body,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warnw("chat send buffer full, dropping message", "session_id", c.identity.SessionID)
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	maxAttempts := c.reconnect.MaxAttempts
	if !c.reconnect.Enabled {
		maxAttempts = 1
	}

	attempt := 0
	for {
		attempt++
		c.setState(domain.ChannelConnecting, fmt.Sprintf("connect attempt %d", attempt))

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warnw("channel connect failed",
				"session_id", c.identity.SessionID,
				"attempt", attempt,
				"error", err,
			)
			if attempt >= maxAttempts {
				c.setState(domain.ChannelAbandoned, "reconnect budget exhausted")
				return
			}

			select {
			case <-time.After(c.reconnect.NextDelay(attempt)):
			case <-ctx.Done():
				c.setState(domain.ChannelAbandoned, "context canceled")
				return
			case <-c.done:
				c.setState(domain.ChannelDisconnected, "")
				return
			}
			if c.metrics != nil {
				c.metrics.ChatReconnect()
			}
			continue
		}

		// The attempt counter resets only on a successful open, so a
		// flapping link still exhausts the budget per outage.
		attempt = 0
		c.setConn(conn)
		c.setState(domain.ChannelConnected, "")

		connDone := make(chan struct{})
		go c.writePump(conn, connDone)
		c.readPump(conn)
		close(connDone)
		conn.Close()
		c.setConn(nil)

		select {
		case <-c.done:
			c.setState(domain.ChannelDisconnected, "")
			return
		case <-ctx.Done():
			c.setState(domain.ChannelDisconnected, "context canceled")
			return
		default:
		}

		c.logger.Infow("channel connection lost, reconnecting", "session_id", c.identity.SessionID)
		if c.metrics != nil {
			c.metrics.ChatReconnect()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("channel dial rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("channel dial failed: %w", err)
	}
	return conn, nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.signalURL)
	if err != nil {
		return "", fmt.Errorf("invalid signal URL %q: %w", c.signalURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/live/" + string(c.identity.SessionID)
	q := u.Query()
	q.Set("user_id", string(c.identity.ParticipantID))
	q.Set("username", c.identity.DisplayName)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// readPump pumps messages from the WebSocket connection to the
// registered callbacks. It returns when the connection dies.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugw("channel read failed", "session_id", c.identity.SessionID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debugw("discarding malformed channel frame", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

// writePump pumps queued messages to the WebSocket connection and keeps
// the connection alive with periodic pings.
func (c *Client) writePump(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-connDone:
			return
		}
	}
}

func (c *Client) dispatch(msg *Message) {
	ev, ok := msg.ToChatEvent()
	if !ok {
		c.logger.Debugw("unknown channel message type", "type", msg.Type)
		return
	}

	switch ev.Kind {
	case domain.EventChat:
		if c.dedup.Seen(ev.DedupKey()) {
			c.logger.Debugw("suppressing duplicate chat message", "sender", ev.SenderID)
			if c.metrics != nil {
				c.metrics.DedupDrop()
			}
			return
		}
		c.emitEvent(ev)
	case domain.EventViewerUpdate:
		c.emitViewerCount(ev.Count)
	case domain.EventJoined, domain.EventLeft:
		c.emitViewerCount(ev.Count)
		c.emitEvent(ev)
	case domain.EventError:
		c.emitEvent(ev)
	}
}

func (c *Client) emitEvent(ev domain.ChatEvent) {
	c.mu.RLock()
	fn := c.onEvent
	c.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) emitViewerCount(count int) {
	c.mu.RLock()
	fn := c.onViewerCount
	c.mu.RUnlock()
	if fn != nil {
		fn(count)
	}
}

func (c *Client) setState(state domain.ChannelState, detail string) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	fn := c.onStateChange
	c.mu.Unlock()

	if fn != nil {
		fn(state, detail)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}
