package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	httphandlers "livecast/internal/handlers/http"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/infrastructure/monitoring"
	"livecast/internal/simulator"
	"livecast/pkg/config"
	"livecast/pkg/logger"
	"livecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
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
		ServiceName: "livesim",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing init failed, continuing without it", "error", err)
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	// ICE servers from config, in both the transport and the wire shape
	var iceServers []webrtc.ICEServer
	var advertised []domain.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
		advertised = append(advertised, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	// Assemble the simulator
	registry := simulator.NewRegistry()

	hub := simulator.NewHub(simulator.HubLimitsFromConfig(cfg))
	hub.SetLogger(log)

	feeds := simulator.NewFeedStore(cfg.Simulator.SegmentDuration, cfg.Simulator.PlaylistWindow)
	feeds.SetLogger(log)

	answerer := simulator.NewIngestAnswerer(iceServers)
	answerer.SetLogger(log)
	answerer.SetOnPublisherLost(func(id domain.SessionID) {
		log.Infow("publisher transport lost, ending session", "session_id", id)
		if _, err := registry.MarkEnded(id); err != nil {
			log.Warnw("could not end session", "session_id", id, "error", err)
		}
		feeds.Stop(id)
	})

	tokens := services.NewIngestTokenService(cfg.Simulator.JWTSecret, cfg.Simulator.TokenTTL)

	liveHandler := httphandlers.NewLiveHandler(registry, hub, feeds, answerer, tokens)
	liveHandler.SetLogger(log)
	liveHandler.SetICEServers(advertised)
	liveHandler.SetTokenTTL(cfg.Simulator.TokenTTL)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	liveHandler.SetupRoutes(router)

	// Health and readiness probes watch the shared stores for wedged locks
	checker := monitoring.NewHealthChecker()
	checker.AddCheck("session_registry", 2*time.Second, lockProbe("session registry", func() {
		registry.List()
	}))
	checker.AddCheck("channel_hub", 2*time.Second, lockProbe("channel hub", func() {
		hub.ViewerCount("")
	}))

	router.GET("/health", func(c *gin.Context) {
		status := checker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if !checker.IsReady(ctx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Simulator.Address,
		Handler:      router,
		ReadTimeout:  cfg.Simulator.ReadTimeout,
		WriteTimeout: cfg.Simulator.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting livecast simulator on %s", cfg.Simulator.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down simulator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Simulator.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	answerer.CloseAll()
	feeds.CloseAll()

	log.Info("Simulator stopped")
}

// lockProbe reports whether a shared store still answers, catching wedged
// locks without letting the probe itself hang past its deadline.
func lockProbe(name string, touch func()) monitoring.Check {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			touch()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%s is not responding", name)
		}
	}
}
