package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livecast/pkg/config"

	"github.com/stretchr/testify/assert"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

// fullConfig sets every key of every section to a non-default value.
const fullConfig = `
runtime:
  signal_url: "ws://media.example:9000"
  api_url: "http://media.example:9000"
  reconnect:
    max_attempts: 7
    base_delay: 250ms
    max_delay: 3s
  dedup:
    window_size: 500
    body_prefix: 48
    time_bucket: 4s
  publish:
    width: 1920
    height: 1080
    frame_rate: 60
    gather_timeout: 8s
  playback:
    loading_timeout: 20s
    network_retries: 6
    ended_threshold: 5
  viewer:
    active_interval: 2s
    relaxed_interval: 30s
  message_buffer: 400

simulator:
  address: ":9500"
  read_timeout: 45s
  write_timeout: 50s
  shutdown_timeout: 10s
  jwt_secret: "unit-test-secret"
  token_ttl: 30m
  segment_duration: 4s
  playlist_window: 10

webrtc:
  ice_servers:
    - urls: ["stun:stun.example.org:3478"]
    - urls: ["turn:turn.example.org:3478"]
      username: "relay-user"
      credential: "relay-pass"

monitoring:
  prometheus_enabled: false
  prometheus_port: 9191
  metrics_interval: 5s

logging:
  level: "debug"
  format: "console"

tracing:
  enabled: true
  jaeger_url: "http://jaeger.example:14268/api/traces"
  environment: "staging"
  sample_rate: 0.25

rate_limiting:
  enabled: true
  http:
    requests_per_second: 25
    burst: 50
    max_concurrent: 200
  websocket:
    connections_per_minute: 30
    messages_per_second: 10
    burst: 20
    max_concurrent_connections: 500
    max_message_size_bytes: 32768
`

func TestLoad_FullDocumentCoversEverySection(t *testing.T) {
	path := writeTempConfig(t, fullConfig)

	cfg, err := config.Load(path)
	assert.NoError(t, err)

	// Runtime
	assert.Equal(t, "ws://media.example:9000", cfg.Runtime.SignalURL)
	assert.Equal(t, "http://media.example:9000", cfg.Runtime.APIURL)
	assert.Equal(t, 7, cfg.Runtime.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Runtime.Reconnect.BaseDelay)
	assert.Equal(t, 3*time.Second, cfg.Runtime.Reconnect.MaxDelay)
	assert.Equal(t, 500, cfg.Runtime.Dedup.WindowSize)
	assert.Equal(t, 48, cfg.Runtime.Dedup.BodyPrefix)
	assert.Equal(t, 4*time.Second, cfg.Runtime.Dedup.TimeBucket)
	assert.Equal(t, 1920, cfg.Runtime.Publish.Width)
	assert.Equal(t, 1080, cfg.Runtime.Publish.Height)
	assert.Equal(t, 60, cfg.Runtime.Publish.FrameRate)
	assert.Equal(t, 8*time.Second, cfg.Runtime.Publish.GatherTimeout)
	assert.Equal(t, 20*time.Second, cfg.Runtime.Playback.LoadingTimeout)
	assert.Equal(t, 6, cfg.Runtime.Playback.NetworkRetries)
	assert.Equal(t, 5, cfg.Runtime.Playback.EndedThreshold)
	assert.Equal(t, 2*time.Second, cfg.Runtime.Viewer.ActiveInterval)
	assert.Equal(t, 30*time.Second, cfg.Runtime.Viewer.RelaxedInterval)
	assert.Equal(t, 400, cfg.Runtime.MessageBuffer)

	// Simulator
	assert.Equal(t, ":9500", cfg.Simulator.Address)
	assert.Equal(t, 45*time.Second, cfg.Simulator.ReadTimeout)
	assert.Equal(t, 50*time.Second, cfg.Simulator.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Simulator.ShutdownTimeout)
	assert.Equal(t, "unit-test-secret", cfg.Simulator.JWTSecret)
	assert.Equal(t, 30*time.Minute, cfg.Simulator.TokenTTL)
	assert.Equal(t, 4*time.Second, cfg.Simulator.SegmentDuration)
	assert.Equal(t, 10, cfg.Simulator.PlaylistWindow)

	// WebRTC
	if assert.Len(t, cfg.WebRTC.ICEServers, 2) {
		assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.WebRTC.ICEServers[0].URLs)
		assert.Equal(t, "relay-user", cfg.WebRTC.ICEServers[1].Username)
		assert.Equal(t, "relay-pass", cfg.WebRTC.ICEServers[1].Credential)
	}

	// Monitoring
	assert.False(t, cfg.Monitoring.PrometheusEnabled)
	assert.Equal(t, 9191, cfg.Monitoring.PrometheusPort)
	assert.Equal(t, 5*time.Second, cfg.Monitoring.MetricsInterval)

	// Logging
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Tracing
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "http://jaeger.example:14268/api/traces", cfg.Tracing.JaegerURL)
	assert.Equal(t, "staging", cfg.Tracing.Environment)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)

	// Rate limiting
	assert.True(t, cfg.RateLimiting.Enabled)
	assert.Equal(t, 25.0, cfg.RateLimiting.HTTP.RequestsPerSecond)
	assert.Equal(t, 50, cfg.RateLimiting.HTTP.Burst)
	assert.Equal(t, 200, cfg.RateLimiting.HTTP.MaxConcurrent)
	assert.Equal(t, 30, cfg.RateLimiting.WebSocket.ConnectionsPerMinute)
	assert.Equal(t, 10.0, cfg.RateLimiting.WebSocket.MessagesPerSecond)
	assert.Equal(t, 20, cfg.RateLimiting.WebSocket.Burst)
	assert.Equal(t, 500, cfg.RateLimiting.WebSocket.MaxConcurrent)
	assert.Equal(t, int64(32768), cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
}

func TestLoad_PartialDocumentKeepsDefaultsElsewhere(t *testing.T) {
	path := writeTempConfig(t, `
runtime:
  reconnect:
    max_attempts: 9

logging:
  level: "warn"
`)

	cfg, err := config.Load(path)
	assert.NoError(t, err)

	// Overridden
	assert.Equal(t, 9, cfg.Runtime.Reconnect.MaxAttempts)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, "ws://localhost:8092", cfg.Runtime.SignalURL)
	assert.Equal(t, 1*time.Second, cfg.Runtime.Reconnect.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Runtime.Reconnect.MaxDelay)
	assert.Equal(t, ":8092", cfg.Simulator.Address)
	assert.Equal(t, 2*time.Second, cfg.Simulator.SegmentDuration)
	assert.Equal(t, 6, cfg.Simulator.PlaylistWindow)
	assert.True(t, cfg.Monitoring.PrometheusEnabled)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.RateLimiting.Enabled)
}

func TestLoad_EnvOverridesBeatTheFile(t *testing.T) {
	path := writeTempConfig(t, fullConfig)

	t.Setenv("LIVECAST_API_URL", "http://override.example:8000")
	t.Setenv("LIVECAST_SIMULATOR_ADDRESS", ":7999")
	t.Setenv("LIVECAST_JWT_SECRET", "env-secret")

	cfg, err := config.Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "http://override.example:8000", cfg.Runtime.APIURL)
	assert.Equal(t, ":7999", cfg.Simulator.Address)
	assert.Equal(t, "env-secret", cfg.Simulator.JWTSecret)

	// Values without an override keep what the file said.
	assert.Equal(t, "ws://media.example:9000", cfg.Runtime.SignalURL)
}

func TestLoad_BrokenDocumentNamesTheField(t *testing.T) {
	path := writeTempConfig(t, `
runtime:
  reconnect:
    max_attempts: 3
    base_delay: 2s
    max_delay: 1s
`)

	_, err := config.Load(path)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "max_delay")
	}
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := writeTempConfig(t, "runtime: [not, a, mapping")

	_, err := config.Load(path)
	assert.Error(t, err)
}
