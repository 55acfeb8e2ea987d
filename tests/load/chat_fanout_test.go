package load

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livecast/internal/core/services"
	httphandlers "livecast/internal/handlers/http"
	"livecast/internal/infrastructure/chat"
	"livecast/internal/simulator"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

const (
	roomSize      = 24
	roundsPerPeer = 5

	// roundPace keeps outbound queues shallow. The hub drops frames for
	// clients whose queue backs up, and one simultaneous round already
	// puts roomSize frames on every queue.
	roundPace = 25 * time.Millisecond

	fanoutBudget = 15 * time.Second
)

func newChatStack(t *testing.T) (*httptest.Server, *simulator.Registry, *simulator.Hub) {
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

	handler := httphandlers.NewLiveHandler(registry, hub, feeds, answerer,
		services.NewIngestTokenService("load-test-secret", time.Minute))
	handler.SetLogger(logger)

	router := gin.New()
	handler.SetupRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, registry, hub
}

func dialParticipant(t *testing.T, base, session, user string) *websocket.Conn {
	t.Helper()

	target := fmt.Sprintf("%s/ws/live/%s?user_id=%s&username=%s",
		"ws"+strings.TrimPrefix(base, "http"), session, user, user)
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("%s dial failed: %v", user, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collectBroadcasts reads frames until want chat broadcasts arrived,
// skipping membership and count traffic.
func collectBroadcasts(conn *websocket.Conn, want int, deadline time.Time) (int, error) {
	got := 0
	for got < want {
		conn.SetReadDeadline(deadline)
		var msg chat.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return got, err
		}
		if msg.Type == chat.MessageTypeChatBroadcast {
			got++
		}
	}
	return got, nil
}

// A full room where every participant talks: each of the roomSize clients
// sends roundsPerPeer messages and must hear every message from everyone,
// its own included. The small-room fan-out semantics live in the simulator
// package tests; this one is about not losing frames at scale.
func TestChatLoad_FullRoomFanOut(t *testing.T) {
	server, registry, hub := newChatStack(t)
	if _, err := registry.Create("sess-load", "Fan-out under load", "owner-load"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	conns := make([]*websocket.Conn, roomSize)
	for i := range conns {
		conns[i] = dialParticipant(t, server.URL, "sess-load", fmt.Sprintf("user-%02d", i))
	}
	assert.Eventually(t, func() bool { return hub.ViewerCount("sess-load") == roomSize },
		fanoutBudget, 10*time.Millisecond, "room never filled")

	want := roomSize * roundsPerPeer

	type result struct {
		peer int
		got  int
		err  error
	}
	results := make(chan result, roomSize)
	deadline := time.Now().Add(fanoutBudget)
	for i, conn := range conns {
		go func(peer int, conn *websocket.Conn) {
			got, err := collectBroadcasts(conn, want, deadline)
			results <- result{peer: peer, got: got, err: err}
		}(i, conn)
	}

	for round := 0; round < roundsPerPeer; round++ {
		for i, conn := range conns {
			body := fmt.Sprintf("round %d from user-%02d", round, i)
			if err := conn.WriteJSON(&chat.Message{Type: chat.MessageTypeChat, Content: body}); err != nil {
				t.Fatalf("user-%02d send failed in round %d: %v", i, round, err)
			}
		}
		time.Sleep(roundPace)
	}

	for range conns {
		res := <-results
		if res.err != nil {
			t.Errorf("user-%02d heard %d of %d broadcasts: %v", res.peer, res.got, want, res.err)
			continue
		}
		assert.Equalf(t, want, res.got, "user-%02d broadcast count", res.peer)
	}

	for _, conn := range conns {
		conn.Close()
	}
	assert.Eventually(t, func() bool { return hub.ViewerCount("sess-load") == 0 },
		fanoutBudget, 10*time.Millisecond, "room never emptied after the clients left")
}
