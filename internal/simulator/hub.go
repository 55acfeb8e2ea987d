package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/infrastructure/chat"
	"livecast/pkg/config"
	rlog "livecast/pkg/logger"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = (hubPongWait * 9) / 10

	// defaultReadLimit bounds inbound frames when no explicit limit is
	// configured, matching the client-side read limit.
	defaultReadLimit = 4096

	// sendBuffer is the per-client outbound queue depth. Frames beyond it
	// are dropped rather than stalling the whole room.
	sendBuffer = 32

	// viewUpdateInterval throttles VIEW_UPDATE fan-out per room. The
	// JOINED and LEFT messages carry counts of their own, so frequent
	// membership churn does not need a count frame per change.
	viewUpdateInterval = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubLimits caps what channel clients may do. Zero values mean unlimited.
type HubLimits struct {
	MaxClients        int
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
}

// HubLimitsFromConfig maps the websocket rate-limit settings onto hub
// limits. A disabled rate-limit section yields an unlimited hub.
func HubLimitsFromConfig(cfg *config.Config) HubLimits {
	if cfg == nil || !cfg.RateLimiting.Enabled {
		return HubLimits{}
	}
	ws := cfg.RateLimiting.WebSocket
	return HubLimits{
		MaxClients:        ws.MaxConcurrent,
		MaxMessageBytes:   ws.MaxMessageSizeBytes,
		MessagesPerSecond: ws.MessagesPerSecond,
		MessageBurst:      ws.Burst,
	}
}

// Hub fans chat traffic out to everyone watching the same session. Rooms
// are created on first join and removed with their last client, and room
// membership doubles as the viewer count.
type Hub struct {
	limits HubLimits
	logger *zap.SugaredLogger

	mu         sync.RWMutex
	rooms      map[domain.SessionID]map[*hubClient]struct{}
	lastUpdate map[domain.SessionID]time.Time
	clients    int
}

type hubClient struct {
	hub      *Hub
	conn     *websocket.Conn
	session  domain.SessionID
	userID   string
	username string
	limiter  *rate.Limiter
	send     chan *chat.Message
}

func NewHub(limits HubLimits) *Hub {
	return &Hub{
		limits:     limits,
		rooms:      make(map[domain.SessionID]map[*hubClient]struct{}),
		lastUpdate: make(map[domain.SessionID]time.Time),
		logger:     rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (h *Hub) SetLogger(logger *zap.SugaredLogger) {
	h.logger = logger
}

// ViewerCount reports how many channel clients sit in the session's room.
func (h *Hub) ViewerCount(session domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[session])
}

// Join upgrades the request and registers the connection in the session's
// room. The room hears JOINED immediately; VIEW_UPDATE follows when the
// throttle allows. The pumps run until the client disconnects.
func (h *Hub) Join(w http.ResponseWriter, r *http.Request, session domain.SessionID, userID, username string) error {
	h.mu.Lock()
	if h.limits.MaxClients > 0 && h.clients >= h.limits.MaxClients {
		h.mu.Unlock()
		http.Error(w, "too many channel connections", http.StatusServiceUnavailable)
		return fmt.Errorf("channel is full (%d clients)", h.limits.MaxClients)
	}
	h.clients++
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		h.clients--
		h.mu.Unlock()
		return fmt.Errorf("channel upgrade failed: %v", err)
	}

	c := &hubClient{
		hub:      h,
		conn:     conn,
		session:  session,
		userID:   userID,
		username: username,
		send:     make(chan *chat.Message, sendBuffer),
	}
	if h.limits.MessagesPerSecond > 0 {
		burst := h.limits.MessageBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.limits.MessagesPerSecond), burst)
	}

	h.mu.Lock()
	room, ok := h.rooms[session]
	if !ok {
		room = make(map[*hubClient]struct{})
		h.rooms[session] = room
	}
	room[c] = struct{}{}
	count := len(room)
	announce := h.dueForViewUpdateLocked(session)
	h.mu.Unlock()

	h.logger.Infow("channel client joined",
		"session_id", session,
		"user_id", userID,
		"viewers", count)

	h.broadcast(session, chat.NewJoinedMessage(string(session), username, count))
	if announce {
		h.broadcast(session, chat.NewViewUpdateMessage(string(session), count))
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// broadcast fans a message out to the session's room. Clients that cannot
// keep up lose frames, not their seat.
func (h *Hub) broadcast(session domain.SessionID, msg *chat.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[session] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debugw("channel client not draining, frame dropped",
				"session_id", session,
				"user_id", c.userID)
		}
	}
}

// drop removes a client from its room and announces the departure. Safe to
// call once per client; the membership check makes repeats no-ops.
func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	room, ok := h.rooms[c.session]
	if ok {
		_, ok = room[c]
	}
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(room, c)
	h.clients--
	count := len(room)
	if count == 0 {
		delete(h.rooms, c.session)
		delete(h.lastUpdate, c.session)
	}
	announce := count > 0 && h.dueForViewUpdateLocked(c.session)
	h.mu.Unlock()

	close(c.send)

	h.logger.Infow("channel client left",
		"session_id", c.session,
		"user_id", c.userID,
		"viewers", count)

	if count > 0 {
		h.broadcast(c.session, chat.NewLeftMessage(string(c.session), c.username, count))
		if announce {
			h.broadcast(c.session, chat.NewViewUpdateMessage(string(c.session), count))
		}
	}
}

// dueForViewUpdateLocked reports whether a VIEW_UPDATE should accompany
// this membership change and stamps the room when it should. Callers hold
// h.mu.
func (h *Hub) dueForViewUpdateLocked(session domain.SessionID) bool {
	if last, ok := h.lastUpdate[session]; ok && !utils.IsExpired(last, viewUpdateInterval) {
		return false
	}
	h.lastUpdate[session] = time.Now()
	return true
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	limit := c.hub.limits.MaxMessageBytes
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debugw("channel read failed",
					"session_id", c.session,
					"user_id", c.userID,
					"error", err)
			}
			return
		}

		var msg chat.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.deliver(chat.NewErrorMessage("malformed message"))
			continue
		}
		c.handleInbound(&msg)
	}
}

func (c *hubClient) handleInbound(msg *chat.Message) {
	if msg.Type != chat.MessageTypeChat {
		c.deliver(chat.NewErrorMessage(fmt.Sprintf("unsupported message type %q", msg.Type)))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.deliver(chat.NewErrorMessage("rate limit exceeded, message dropped"))
		return
	}

	body := strings.TrimSpace(msg.Content)
	if body == "" {
		c.deliver(chat.NewErrorMessage("empty chat message"))
		return
	}
	body = utils.TruncateRunes(body, validation.MaxChatBodyChars)

	c.hub.broadcast(c.session, chat.NewChatMessage(string(c.session), c.userID, c.username, body))
}

// deliver queues a message for this client only, dropping it if the queue
// is full.
func (c *hubClient) deliver(msg *chat.Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
