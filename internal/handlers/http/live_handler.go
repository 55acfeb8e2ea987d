package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/simulator"
	rlog "livecast/pkg/logger"
	"livecast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxOfferBytes bounds how much SDP the ingest endpoint reads.
const maxOfferBytes = 1 << 20

// LiveHandler exposes the simulator's session surface: create, resolve,
// ingest, stop, media files, and the channel upgrade.
type LiveHandler struct {
	registry *simulator.Registry
	hub      *simulator.Hub
	feeds    *simulator.FeedStore
	ingest   *simulator.IngestAnswerer
	tokens   services.IngestTokenService

	iceServers []domain.ICEServer
	tokenTTL   time.Duration
	logger     *zap.SugaredLogger
}

func NewLiveHandler(
	registry *simulator.Registry,
	hub *simulator.Hub,
	feeds *simulator.FeedStore,
	ingest *simulator.IngestAnswerer,
	tokens services.IngestTokenService,
) *LiveHandler {
	return &LiveHandler{
		registry: registry,
		hub:      hub,
		feeds:    feeds,
		ingest:   ingest,
		tokens:   tokens,
		tokenTTL: 15 * time.Minute,
		logger:   rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (h *LiveHandler) SetLogger(logger *zap.SugaredLogger) {
	h.logger = logger
}

// SetICEServers sets the ICE list advertised to clients. Without one the
// default STUN fallback is advertised.
func (h *LiveHandler) SetICEServers(servers []domain.ICEServer) {
	h.iceServers = servers
}

// SetTokenTTL aligns the advertised expiry with the minting service.
func (h *LiveHandler) SetTokenTTL(ttl time.Duration) {
	h.tokenTTL = ttl
}

func (h *LiveHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/live", h.CreateSession)
		api.GET("/live/:id/webrtc", h.GetSessionInfo)
		api.GET("/live/:id/viewers", h.GetViewerCount)
		api.POST("/live/:id/token", h.RefreshIngestToken)

		guarded := api.Group("/live/:id",
			middleware.IngestAuthMiddleware(h.tokens),
			middleware.SessionScopeMiddleware())
		{
			guarded.POST("/whip", h.HandleIngestOffer)
			guarded.POST("/stop", h.StopSession)
		}
	}

	router.GET("/live/:file", h.ServeMedia)
	router.GET("/ws/live/:id", h.JoinChannel)
}

type CreateSessionRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title" binding:"required,max=200"`
	OwnerID string `json:"owner_id" binding:"required,max=64"`
}

type RefreshTokenRequest struct {
	OwnerID string `json:"owner_id" binding:"required,max=64"`
}

func (h *LiveHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = fmt.Sprintf("live-%s", uuid.New().String())
	}
	if err := validation.ValidateSessionID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateParticipantID(req.OwnerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Create(domain.SessionID(id), req.Title, domain.ParticipantID(req.OwnerID))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.Mint(sess.ID, sess.Owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint ingest token"})
		return
	}

	h.logger.Infow("session created",
		"session_id", sess.ID,
		"owner_id", sess.Owner)

	base := requestBase(c)
	c.JSON(http.StatusCreated, gin.H{
		"id":            sess.ID,
		"title":         sess.Title,
		"status":        sess.Status,
		"ingest_token":  token,
		"whip_endpoint": fmt.Sprintf("%s/api/v1/live/%s/whip", base, sess.ID),
		"hls_url":       fmt.Sprintf("%s/live/%s.m3u8", base, sess.ID),
		"ws_url":        fmt.Sprintf("%s/ws/live/%s", channelBase(c), sess.ID),
		"expires_in":    int(h.tokenTTL / time.Second),
	})
}

// GetSessionInfo serves the connection material consumers resolve before
// joining: endpoints plus the ICE server list.
func (h *LiveHandler) GetSessionInfo(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	sess, err := h.registry.Get(id)
	if err != nil {
		if err == domain.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	servers := h.iceServers
	if len(servers) == 0 {
		servers = domain.DefaultICEServers()
	}

	base := requestBase(c)
	c.JSON(http.StatusOK, domain.SessionInfo{
		ID:           sess.ID,
		Status:       sess.Status,
		WHIPEndpoint: fmt.Sprintf("%s/api/v1/live/%s/whip", base, sess.ID),
		HLSURL:       fmt.Sprintf("%s/live/%s.m3u8", base, sess.ID),
		ICEServers:   servers,
	})
}

func (h *LiveHandler) GetViewerCount(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	if _, err := h.registry.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"viewer_count": h.hub.ViewerCount(id),
	})
}

// RefreshIngestToken re-mints an ingest token for the session owner, for
// publishers that lost theirs between create and connect.
func (h *LiveHandler) RefreshIngestToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := domain.SessionID(c.Param("id"))
	sess, err := h.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.Owner != domain.ParticipantID(req.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the session owner can mint ingest tokens"})
		return
	}

	token, err := h.tokens.Mint(sess.ID, sess.Owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint ingest token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ingest_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}

// HandleIngestOffer terminates a WHIP publish: it answers the offer with a
// receive-only transport, marks the session LIVE, and starts its media
// feed.
func (h *LiveHandler) HandleIngestOffer(c *gin.Context) {
	if c.ContentType() != "application/sdp" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "expected application/sdp"})
		return
	}

	id := domain.SessionID(c.Param("id"))
	sess, err := h.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.Status == domain.StatusEnded {
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
		return
	}

	offer, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOfferBytes))
	if err != nil || len(offer) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty offer"})
		return
	}

	answer, err := h.ingest.Answer(c.Request.Context(), id, string(offer))
	if err != nil {
		h.logger.Warnw("ingest negotiation failed",
			"session_id", id,
			"error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.registry.MarkLive(id); err != nil {
		h.ingest.Close(id)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.feeds.Start(id)

	participant := c.MustGet("participant_id").(domain.ParticipantID)
	h.logger.Infow("publisher connected",
		"session_id", id,
		"participant_id", participant)

	c.Header("Location", fmt.Sprintf("/api/v1/live/%s/whip", id))
	c.Data(http.StatusCreated, "application/sdp", []byte(answer))
}

func (h *LiveHandler) StopSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	sess, err := h.registry.MarkEnded(id)
	if err != nil {
		if err == domain.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.feeds.Stop(id)
	h.ingest.Close(id)

	h.logger.Infow("session stopped", "session_id", id)
	c.JSON(http.StatusOK, gin.H{
		"id":     sess.ID,
		"status": sess.Status,
	})
}

// ServeMedia hands out playlists and segments under /live/.
func (h *LiveHandler) ServeMedia(c *gin.Context) {
	file := c.Param("file")

	switch {
	case strings.HasSuffix(file, ".m3u8"):
		id := domain.SessionID(strings.TrimSuffix(file, ".m3u8"))
		playlist, ok := h.feeds.Playlist(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no media for session"})
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(playlist))

	case strings.HasSuffix(file, ".ts"):
		id, seq, err := splitSegmentName(strings.TrimSuffix(file, ".ts"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		data, ok := h.feeds.Segment(id, seq)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "segment left the window"})
			return
		}
		c.Data(http.StatusOK, "video/mp2t", data)

	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown media file"})
	}
}

// JoinChannel upgrades the request into the session's chat room. Joining
// needs no token; live chat is public.
func (h *LiveHandler) JoinChannel(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	if _, err := h.registry.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	username := c.Query("username")
	if username == "" {
		username = userID
	}

	if err := h.hub.Join(c.Writer, c.Request, id, userID, username); err != nil {
		h.logger.Debugw("channel join failed",
			"session_id", id,
			"error", err)
	}
}

// splitSegmentName parses "<session>-<seq>" names. Session ids may contain
// hyphens, so the split happens at the last one.
func splitSegmentName(name string) (domain.SessionID, uint64, error) {
	i := strings.LastIndex(name, "-")
	if i <= 0 || i == len(name)-1 {
		return "", 0, fmt.Errorf("malformed segment name %q", name)
	}
	seq, err := strconv.ParseUint(name[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed segment sequence %q", name[i+1:])
	}
	return domain.SessionID(name[:i]), seq, nil
}

// requestBase rebuilds the externally visible base URL so resolved
// endpoints are absolute.
func requestBase(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

func channelBase(c *gin.Context) string {
	scheme := "ws"
	if c.Request.TLS != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}
