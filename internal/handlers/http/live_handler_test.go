package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/simulator"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap/zaptest"
)

type liveFixture struct {
	router *gin.Engine
	feeds  *simulator.FeedStore
	hub    *simulator.Hub
	tokens services.IngestTokenService
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t).Sugar()

	registry := simulator.NewRegistry()
	hub := simulator.NewHub(simulator.HubLimits{})
	hub.SetLogger(logger)

	feeds := simulator.NewFeedStore(40*time.Millisecond, 3)
	feeds.SetLogger(logger)
	t.Cleanup(feeds.CloseAll)

	answerer := simulator.NewIngestAnswerer(nil)
	answerer.SetLogger(logger)
	t.Cleanup(answerer.CloseAll)

	tokens := services.NewIngestTokenService("test-secret", time.Minute)

	handler := NewLiveHandler(registry, hub, feeds, answerer, tokens)
	handler.SetLogger(logger)
	handler.SetTokenTTL(time.Minute)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	handler.SetupRoutes(router)

	return &liveFixture{router: router, feeds: feeds, hub: hub, tokens: tokens}
}

type createdSession struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	IngestToken string `json:"ingest_token"`
	WHIP        string `json:"whip_endpoint"`
	HLS         string `json:"hls_url"`
	WS          string `json:"ws_url"`
	ExpiresIn   int    `json:"expires_in"`
}

func (f *liveFixture) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *liveFixture) createSession(t *testing.T, id string) createdSession {
	t.Helper()

	payload := fmt.Sprintf(`{"id":%q,"title":"test show","owner_id":"user-1"}`, id)
	rec := f.do(t, http.MethodPost, "/api/v1/live", "application/json", []byte(payload))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	var out createdSession
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	return out
}

func TestCreateSession_MintsTokenAndURLs(t *testing.T) {
	f := newLiveFixture(t)

	out := f.createSession(t, "sess-1")
	if out.ID != "sess-1" || out.Status != "IDLE" {
		t.Errorf("unexpected session: %+v", out)
	}
	if out.IngestToken == "" {
		t.Error("expected an ingest token")
	}
	if !strings.Contains(out.WHIP, "/api/v1/live/sess-1/whip") {
		t.Errorf("unexpected whip endpoint: %q", out.WHIP)
	}
	if !strings.Contains(out.HLS, "/live/sess-1.m3u8") {
		t.Errorf("unexpected hls url: %q", out.HLS)
	}
	if !strings.HasPrefix(out.WS, "ws://") {
		t.Errorf("unexpected ws url: %q", out.WS)
	}
	if out.ExpiresIn != 60 {
		t.Errorf("expected expires_in 60, got %d", out.ExpiresIn)
	}
}

func TestCreateSession_GeneratesIDWhenOmitted(t *testing.T) {
	f := newLiveFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/live", "application/json",
		[]byte(`{"title":"test show","owner_id":"user-1"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	var out createdSession
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if !strings.HasPrefix(out.ID, "live-") {
		t.Errorf("expected a generated id, got %q", out.ID)
	}
}

func TestCreateSession_ValidatesInput(t *testing.T) {
	f := newLiveFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/live", "application/json",
		[]byte(`{"title":"no owner"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing owner: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/live", "application/json",
		[]byte(`{"id":"bad id!","title":"x","owner_id":"user-1"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestCreateSession_DuplicateRejected(t *testing.T) {
	f := newLiveFixture(t)
	f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodPost, "/api/v1/live", "application/json",
		[]byte(`{"id":"sess-1","title":"again","owner_id":"user-2"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestGetSessionInfo(t *testing.T) {
	f := newLiveFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/live/sess-1/webrtc", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}

	f.createSession(t, "sess-1")
	rec = f.do(t, http.MethodGet, "/api/v1/live/sess-1/webrtc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var info domain.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decoding session info: %v", err)
	}
	if info.ID != "sess-1" || info.Status != domain.StatusIdle {
		t.Errorf("unexpected info: %+v", info)
	}
	if !strings.Contains(info.WHIPEndpoint, "/whip") || !strings.Contains(info.HLSURL, ".m3u8") {
		t.Errorf("unexpected endpoints: %+v", info)
	}
	if len(info.ICEServers) == 0 {
		t.Error("expected at least the default ICE server")
	}
}

func TestGetViewerCount_TracksChannelJoins(t *testing.T) {
	f := newLiveFixture(t)
	f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodGet, "/api/v1/live/sess-1/viewers", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"viewer_count":0`) {
		t.Fatalf("expected zero viewers, got %d: %s", rec.Code, rec.Body.String())
	}

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live/sess-1?user_id=user-2&username=bob"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("channel dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.hub.ViewerCount("sess-1") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/live/sess-1/viewers", "", nil)
	if !strings.Contains(rec.Body.String(), `"viewer_count":1`) {
		t.Errorf("expected one viewer, got %s", rec.Body.String())
	}
}

func TestRefreshIngestToken(t *testing.T) {
	f := newLiveFixture(t)
	f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodPost, "/api/v1/live/sess-1/token", "application/json",
		[]byte(`{"owner_id":"user-1"}`))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ingest_token") {
		t.Errorf("owner refresh: expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-1/token", "application/json",
		[]byte(`{"owner_id":"user-9"}`))
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger refresh: expected 403, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-9/token", "application/json",
		[]byte(`{"owner_id":"user-1"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}
}

func TestStopSession_TokenGuards(t *testing.T) {
	f := newLiveFixture(t)
	out := f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodPost, "/api/v1/live/sess-1/stop", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}

	other := f.createSession(t, "sess-2")
	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-1/stop?token="+other.IngestToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign token: expected 403, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-1/stop?token="+out.IngestToken, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ENDED") {
		t.Errorf("owner stop: expected 200 ENDED, got %d: %s", rec.Code, rec.Body.String())
	}

	// stop is idempotent
	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-1/stop?token="+out.IngestToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat stop: expected 200, got %d", rec.Code)
	}
}

func TestIngestOffer_ContentTypeEnforced(t *testing.T) {
	f := newLiveFixture(t)
	out := f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodPost, "/api/v1/live/sess-1/whip?token="+out.IngestToken,
		"application/json", []byte(`{"sdp":"nope"}`))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestOffer_EndedSessionConflict(t *testing.T) {
	f := newLiveFixture(t)
	out := f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodPost, "/api/v1/live/sess-1/stop?token="+out.IngestToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop returned %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/live/sess-1/whip?token="+out.IngestToken,
		"application/sdp", []byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestOffer_FullExchange(t *testing.T) {
	f := newLiveFixture(t)
	out := f.createSession(t, "sess-1")

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("peer connection failed: %v", err)
	}
	defer pc.Close()
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		t.Fatalf("adding transceiver failed: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("local description failed: %v", err)
	}
	<-gathered

	rec := f.do(t, http.MethodPost, "/api/v1/live/sess-1/whip?token="+out.IngestToken,
		"application/sdp", []byte(pc.LocalDescription().SDP))
	if rec.Code != http.StatusCreated {
		t.Fatalf("whip returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Location") == "" {
		t.Error("expected a Location header on the created resource")
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  rec.Body.String(),
	}); err != nil {
		t.Errorf("publisher rejected the answer: %v", err)
	}

	// the session is LIVE and its media feed is up
	rec = f.do(t, http.MethodGet, "/api/v1/live/sess-1/webrtc", "", nil)
	if !strings.Contains(rec.Body.String(), "LIVE") {
		t.Errorf("expected a LIVE session, got %s", rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/live/sess-1.m3u8", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "#EXTM3U") {
		t.Errorf("expected a playlist, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServeMedia(t *testing.T) {
	f := newLiveFixture(t)
	f.createSession(t, "sess-1")
	f.feeds.Start("sess-1")

	rec := f.do(t, http.MethodGet, "/live/sess-1.m3u8", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "#EXTM3U") {
		t.Fatalf("playlist: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("unexpected playlist content type %q", ct)
	}

	rec = f.do(t, http.MethodGet, "/live/sess-1-0.ts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("segment: expected 200, got %d", rec.Code)
	}
	if body := rec.Body.Bytes(); len(body) == 0 || body[0] != 0x47 {
		t.Error("segment payload should start with the TS sync byte")
	}

	rec = f.do(t, http.MethodGet, "/live/sess-9.m3u8", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown playlist: expected 404, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/live/sess-1-99.ts", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("out-of-window segment: expected 404, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/live/notmedia.txt", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown file: expected 404, got %d", rec.Code)
	}
}

func TestJoinChannel_Validation(t *testing.T) {
	f := newLiveFixture(t)
	f.createSession(t, "sess-1")

	rec := f.do(t, http.MethodGet, "/ws/live/sess-9?user_id=user-2", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/ws/live/sess-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: expected 400, got %d", rec.Code)
	}
}
