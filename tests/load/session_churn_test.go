package load

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/simulator"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// Many sessions living and dying at once: every lifecycle step still has
// to hold when the registry and the feed store are hammered from eight
// goroutines. Single-session lifecycle rules are covered in the simulator
// package tests.
func TestSessionChurn_RegistryAndFeedsStayConsistent(t *testing.T) {
	const (
		workers   = 8
		perWorker = 20
	)

	logger := zaptest.NewLogger(t).Sugar()

	registry := simulator.NewRegistry()
	feeds := simulator.NewFeedStore(10*time.Millisecond, 3)
	feeds.SetLogger(logger)
	t.Cleanup(feeds.CloseAll)

	errs := make(chan error, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := domain.SessionID(fmt.Sprintf("churn-%02d-%02d", w, i))
				if err := runLifecycle(registry, feeds, id); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	sessions := registry.List()
	assert.Len(t, sessions, workers*perWorker)
	for _, sess := range sessions {
		assert.Equalf(t, domain.StatusEnded, sess.Status, "session %s status", sess.ID)
	}
}

// runLifecycle walks one session from creation to its closed playlist.
// Errors come back instead of failing the test so the worker goroutines
// never call into testing.T.
func runLifecycle(registry *simulator.Registry, feeds *simulator.FeedStore, id domain.SessionID) error {
	if _, err := registry.Create(id, "churn", "owner-churn"); err != nil {
		return fmt.Errorf("%s create: %w", id, err)
	}
	if _, err := registry.MarkLive(id); err != nil {
		return fmt.Errorf("%s go live: %w", id, err)
	}

	feeds.Start(id)
	manifest, ok := feeds.Playlist(id)
	if !ok || !strings.Contains(manifest, ".ts") {
		return fmt.Errorf("%s live playlist missing its first segment:\n%s", id, manifest)
	}

	// Let the producer tick a few times before the feed closes.
	time.Sleep(15 * time.Millisecond)

	feeds.Stop(id)
	if _, err := registry.MarkEnded(id); err != nil {
		return fmt.Errorf("%s end: %w", id, err)
	}

	manifest, ok = feeds.Playlist(id)
	if !ok || !strings.Contains(manifest, "#EXT-X-ENDLIST") {
		return fmt.Errorf("%s closed playlist missing the end-list marker:\n%s", id, manifest)
	}
	return nil
}
