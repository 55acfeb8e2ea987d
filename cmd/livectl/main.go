package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/chat"
	"livecast/internal/infrastructure/discovery"
	"livecast/internal/infrastructure/hls"
	"livecast/internal/infrastructure/monitoring"
	"livecast/internal/infrastructure/reliability"
	"livecast/internal/infrastructure/streaming"
	livertc "livecast/internal/infrastructure/webrtc"
	"livecast/pkg/circuitbreaker"
	"livecast/pkg/config"
	"livecast/pkg/logger"
	"livecast/pkg/retry"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// resolveCacheTTL bounds how long per-session connection material is reused
// before the info endpoint is asked again.
const resolveCacheTTL = 30 * time.Second

func main() {
	mode := flag.String("mode", "watch", "session role: publish or watch")
	session := flag.String("session", "", "session id (required)")
	token := flag.String("token", "", "ingest token (publish mode)")
	name := flag.String("name", "", "display name shown in chat")
	synthetic := flag.Bool("synthetic", false, "publish the built-in test pattern instead of capture devices")
	out := flag.String("out", "", "record watched segments under this directory")
	flag.Parse()

	if *session == "" || (*mode != "publish" && *mode != "watch") {
		fmt.Fprintln(os.Stderr, "usage: livectl -mode publish|watch -session <id> [-token <t>] [-name <n>] [-synthetic] [-out <dir>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/livecast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "livectl",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing init failed, continuing without it", "error", err)
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	collector := monitoring.NewRuntimeCollector()
	if cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.PrometheusPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Warnw("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
		log.Infow("metrics endpoint listening", "addr", addr)
	}

	reconnect := retry.Config{
		Enabled:     true,
		MaxAttempts: cfg.Runtime.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Runtime.Reconnect.BaseDelay,
		MaxDelay:    cfg.Runtime.Reconnect.MaxDelay,
	}

	// Discovery chain: HTTP resolver, wrapped with retry and a circuit
	// breaker, fronted by a short-lived cache. Viewer count polls skip the
	// cache so the poll loop always reads a fresh value.
	base := discovery.NewHTTPResolver(cfg.Runtime.APIURL)
	base.SetLogger(log)

	reliable := reliability.NewResolverWrapper(base, reconnect, circuitbreaker.DefaultConfig(), log)

	cached := discovery.NewCachedResolver(reliable, resolveCacheTTL)
	defer cached.Stop()

	newChannel := func(identity domain.SessionIdentity) ports.ChatChannel {
		client := chat.NewClient(cfg.Runtime.SignalURL, identity, reconnect)
		client.SetLogger(log)
		client.SetDedupWindow(cfg.Runtime.Dedup.WindowSize)
		client.SetMetrics(collector)
		return client
	}

	newPublisher := func() ports.MediaPublisher {
		var source ports.CaptureSource
		if *synthetic {
			source = livertc.NewSyntheticCapture()
		} else {
			source = livertc.NewDeviceCapture(
				cfg.Runtime.Publish.Width,
				cfg.Runtime.Publish.Height,
				float64(cfg.Runtime.Publish.FrameRate),
			)
		}
		pub := livertc.NewPublisher(source, cached, cfg.Runtime.APIURL)
		pub.SetLogger(log)
		pub.SetGatherTimeout(cfg.Runtime.Publish.GatherTimeout)
		pub.SetMetrics(collector)
		return pub
	}

	reload := reconnect
	reload.MaxAttempts = cfg.Runtime.Playback.NetworkRetries

	newPlayer := func() ports.MediaPlayer {
		player := hls.NewPlayer(reload)
		player.SetLogger(log)
		player.SetLoadingTimeout(cfg.Runtime.Playback.LoadingTimeout)
		player.SetEndedThreshold(cfg.Runtime.Playback.EndedThreshold)
		player.SetMetrics(collector)
		return player
	}

	newSink := func() ports.PlaybackSink {
		if *out != "" {
			recorder := streaming.NewRecorder(*out)
			recorder.SetLogger(log)
			return recorder
		}
		return discardSink{}
	}

	controller := services.NewSessionController(newPublisher, newPlayer, newSink, newChannel, cached, reliable)
	controller.SetLogger(log)
	controller.SetMessageLimit(cfg.Runtime.MessageBuffer)
	controller.SetViewerIntervals(cfg.Runtime.Viewer.ActiveInterval, cfg.Runtime.Viewer.RelaxedInterval)
	controller.SetMetrics(collector)

	displayName := *name
	if displayName == "" {
		displayName = "livectl"
	}
	identity := domain.SessionIdentity{
		SessionID:     domain.SessionID(*session),
		ParticipantID: domain.ParticipantID(utils.GenerateParticipantID()),
		DisplayName:   displayName,
		IngestToken:   domain.IngestToken(*token),
	}

	start := time.Now()

	var snapshots <-chan domain.SessionSnapshot
	if *mode == "publish" {
		snapshots, err = controller.StartPublishing(identity)
	} else {
		snapshots, err = controller.StartViewing(identity)
	}
	if err != nil {
		log.Fatalw("could not start session", "mode", *mode, "session_id", *session, "error", err)
	}

	if *mode == "publish" {
		log.Infow("session starting",
			"mode", *mode,
			"session_id", identity.SessionID,
			"participant_id", identity.ParticipantID,
			"ingest_token", utils.MaskToken(*token))
	} else {
		log.Infow("session starting",
			"mode", *mode,
			"session_id", identity.SessionID,
			"participant_id", identity.ParticipantID)
	}

	// Lines typed on stdin go to the session's chat.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			body := strings.TrimSpace(scanner.Text())
			if body == "" {
				continue
			}
			if !controller.SendChat(body) {
				log.Warnw("chat message dropped, channel not connected")
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchSnapshots(controller, snapshots, *mode == "publish", log)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		// Session reached a terminal state on its own.
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
		controller.Stop()
		<-done
	}

	final := controller.Snapshot()
	log.Infow("session finished",
		"state", final.State,
		"detail", final.StatusMessage,
		"duration", utils.FormatDuration(time.Since(start)))
}

// watchSnapshots folds the snapshot stream into log lines, reporting only
// what changed since the previous snapshot.
func watchSnapshots(controller *services.SessionController, snapshots <-chan domain.SessionSnapshot, publishing bool, log *zap.SugaredLogger) {
	var lastState domain.ConnectionState
	lastCount := -1
	var lastMessage domain.ChatEvent
	settingsLogged := false

	for snap := range snapshots {
		if snap.State != lastState {
			log.Infow("session state",
				"state", snap.State,
				"detail", snap.StatusMessage)
			lastState = snap.State
		}
		if publishing && !settingsLogged && snap.State == domain.StateActive {
			if settings := controller.TrackSettings(); settings != nil {
				log.Infow("publishing tracks",
					"width", settings.Width,
					"height", settings.Height,
					"frame_rate", settings.FrameRate,
					"video_codec", settings.VideoCodec,
					"audio_codec", settings.AudioCodec)
				settingsLogged = true
			}
		}
		if snap.ViewerCount != lastCount {
			log.Infow("viewer count", "count", snap.ViewerCount)
			lastCount = snap.ViewerCount
		}
		if n := len(snap.Messages); n > 0 {
			if newest := snap.Messages[n-1]; newest != lastMessage {
				log.Infow("chat",
					"from", newest.SenderName,
					"body", newest.Body)
				lastMessage = newest
			}
		}
	}
}

// discardSink drops playback output. It is the watch-mode sink when no
// recording directory is given: the run still exercises the full fetch
// and demux path, the bytes just have nowhere to go.
type discardSink struct{}

func (discardSink) SupportsNative() bool { return false }

func (discardSink) PlayNative(ctx context.Context, manifestURL string) error {
	return fmt.Errorf("discard sink does not play natively")
}

func (discardSink) WriteSegment(ctx context.Context, segment domain.MediaSegment) error {
	return nil
}

func (discardSink) Reset() error { return nil }

func (discardSink) Close() error { return nil }
