package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Runtime struct {
		SignalURL string `yaml:"signal_url"`
		APIURL    string `yaml:"api_url"`

		Reconnect struct {
			MaxAttempts int           `yaml:"max_attempts"`
			BaseDelay   time.Duration `yaml:"base_delay"`
			MaxDelay    time.Duration `yaml:"max_delay"`
		} `yaml:"reconnect"`

		Dedup struct {
			WindowSize int           `yaml:"window_size"`
			BodyPrefix int           `yaml:"body_prefix"`
			TimeBucket time.Duration `yaml:"time_bucket"`
		} `yaml:"dedup"`

		Publish struct {
			Width         int           `yaml:"width"`
			Height        int           `yaml:"height"`
			FrameRate     int           `yaml:"frame_rate"`
			GatherTimeout time.Duration `yaml:"gather_timeout"`
		} `yaml:"publish"`

		Playback struct {
			LoadingTimeout time.Duration `yaml:"loading_timeout"`
			NetworkRetries int           `yaml:"network_retries"`
			EndedThreshold int           `yaml:"ended_threshold"`
		} `yaml:"playback"`

		Viewer struct {
			ActiveInterval  time.Duration `yaml:"active_interval"`
			RelaxedInterval time.Duration `yaml:"relaxed_interval"`
		} `yaml:"viewer"`

		MessageBuffer int `yaml:"message_buffer"`
	} `yaml:"runtime"`

	Simulator struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		JWTSecret       string        `yaml:"jwt_secret"`
		TokenTTL        time.Duration `yaml:"token_ttl"`
		SegmentDuration time.Duration `yaml:"segment_duration"`
		PlaylistWindow  int           `yaml:"playlist_window"`
	} `yaml:"simulator"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		PrometheusPort    int           `yaml:"prometheus_port"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Runtime
	if c.Runtime.SignalURL == "" {
		return fmt.Errorf("runtime.signal_url must not be empty")
	}
	if c.Runtime.APIURL == "" {
		return fmt.Errorf("runtime.api_url must not be empty")
	}
	if c.Runtime.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("runtime.reconnect.max_attempts must be > 0")
	}
	if c.Runtime.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("runtime.reconnect.base_delay must be > 0")
	}
	if c.Runtime.Reconnect.MaxDelay < c.Runtime.Reconnect.BaseDelay {
		return fmt.Errorf("runtime.reconnect.max_delay must be >= base_delay")
	}
	if c.Runtime.Dedup.WindowSize <= 0 {
		return fmt.Errorf("runtime.dedup.window_size must be > 0")
	}
	if c.Runtime.Dedup.BodyPrefix <= 0 {
		return fmt.Errorf("runtime.dedup.body_prefix must be > 0")
	}
	if c.Runtime.Dedup.TimeBucket <= 0 {
		return fmt.Errorf("runtime.dedup.time_bucket must be > 0")
	}
	if c.Runtime.Publish.Width <= 0 || c.Runtime.Publish.Height <= 0 {
		return fmt.Errorf("runtime.publish.width and height must be > 0")
	}
	if c.Runtime.Publish.FrameRate <= 0 {
		return fmt.Errorf("runtime.publish.frame_rate must be > 0")
	}
	if c.Runtime.Publish.GatherTimeout <= 0 {
		return fmt.Errorf("runtime.publish.gather_timeout must be > 0")
	}
	if c.Runtime.Playback.LoadingTimeout <= 0 {
		return fmt.Errorf("runtime.playback.loading_timeout must be > 0")
	}
	if c.Runtime.Playback.NetworkRetries <= 0 {
		return fmt.Errorf("runtime.playback.network_retries must be > 0")
	}
	if c.Runtime.Playback.EndedThreshold <= 0 {
		return fmt.Errorf("runtime.playback.ended_threshold must be > 0")
	}
	if c.Runtime.Viewer.ActiveInterval <= 0 {
		return fmt.Errorf("runtime.viewer.active_interval must be > 0")
	}
	if c.Runtime.Viewer.RelaxedInterval < c.Runtime.Viewer.ActiveInterval {
		return fmt.Errorf("runtime.viewer.relaxed_interval must be >= active_interval")
	}
	if c.Runtime.MessageBuffer <= 0 {
		return fmt.Errorf("runtime.message_buffer must be > 0")
	}

	// Simulator
	if c.Simulator.Address == "" {
		return fmt.Errorf("simulator.address must not be empty")
	}
	if c.Simulator.ReadTimeout <= 0 {
		return fmt.Errorf("simulator.read_timeout must be > 0")
	}
	if c.Simulator.WriteTimeout <= 0 {
		return fmt.Errorf("simulator.write_timeout must be > 0")
	}
	if c.Simulator.ShutdownTimeout <= 0 {
		return fmt.Errorf("simulator.shutdown_timeout must be > 0")
	}
	if c.Simulator.JWTSecret == "" {
		return fmt.Errorf("simulator.jwt_secret must not be empty")
	}
	if c.Simulator.TokenTTL <= 0 {
		return fmt.Errorf("simulator.token_ttl must be > 0")
	}
	if c.Simulator.SegmentDuration <= 0 {
		return fmt.Errorf("simulator.segment_duration must be > 0")
	}
	if c.Simulator.PlaylistWindow <= 0 {
		return fmt.Errorf("simulator.playlist_window must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Default values
	cfg.Runtime.SignalURL = "ws://localhost:8092"
	cfg.Runtime.APIURL = "http://localhost:8092"

	cfg.Runtime.Reconnect.MaxAttempts = 5
	cfg.Runtime.Reconnect.BaseDelay = 1 * time.Second
	cfg.Runtime.Reconnect.MaxDelay = 5 * time.Second

	cfg.Runtime.Dedup.WindowSize = 200
	cfg.Runtime.Dedup.BodyPrefix = 64
	cfg.Runtime.Dedup.TimeBucket = 2 * time.Second

	cfg.Runtime.Publish.Width = 1280
	cfg.Runtime.Publish.Height = 720
	cfg.Runtime.Publish.FrameRate = 30
	cfg.Runtime.Publish.GatherTimeout = 5 * time.Second

	cfg.Runtime.Playback.LoadingTimeout = 15 * time.Second
	cfg.Runtime.Playback.NetworkRetries = 3
	cfg.Runtime.Playback.EndedThreshold = 3

	cfg.Runtime.Viewer.ActiveInterval = 5 * time.Second
	cfg.Runtime.Viewer.RelaxedInterval = 15 * time.Second

	cfg.Runtime.MessageBuffer = 200

	cfg.Simulator.Address = ":8092"
	cfg.Simulator.ReadTimeout = 30 * time.Second
	cfg.Simulator.WriteTimeout = 30 * time.Second
	cfg.Simulator.ShutdownTimeout = 30 * time.Second
	cfg.Simulator.JWTSecret = "change-me-in-production"
	cfg.Simulator.TokenTTL = 15 * time.Minute
	cfg.Simulator.SegmentDuration = 2 * time.Second
	cfg.Simulator.PlaylistWindow = 6

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if u := os.Getenv("LIVECAST_SIGNAL_URL"); u != "" {
		c.Runtime.SignalURL = u
	}
	if u := os.Getenv("LIVECAST_API_URL"); u != "" {
		c.Runtime.APIURL = u
	}
	if addr := os.Getenv("LIVECAST_SIMULATOR_ADDRESS"); addr != "" {
		c.Simulator.Address = addr
	}
	if level := os.Getenv("LIVECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVECAST_JWT_SECRET"); secret != "" {
		c.Simulator.JWTSecret = secret
	}
}
