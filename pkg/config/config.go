package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path                  string        `yaml:"path"`
		PingInterval          time.Duration `yaml:"ping_interval"`
		PongTimeout           time.Duration `yaml:"pong_timeout"`
		WriteTimeout          time.Duration `yaml:"write_timeout"`
		SendQueueSize         int           `yaml:"send_queue_size"`
		NotifyDeliveryFailure bool          `yaml:"notify_delivery_failure"`
		AllowedOrigins        []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Registry struct {
		RegisterDelay time.Duration `yaml:"register_delay"`
		LookupDelay   time.Duration `yaml:"lookup_delay"`
		// TTL applies to the redis backend only; zero keeps entries forever.
		TTL     time.Duration `yaml:"ttl"`
		Breaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"registry"`

	Discovery struct {
		RelayURL       string        `yaml:"relay_url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
		ICEServers     []ICEServer   `yaml:"ice_servers"`
		PortRange      struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"discovery"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

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
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" || c.Signal.Path[0] != '/' {
		return fmt.Errorf("signal.path must start with /")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}

	// Registry
	if c.Registry.RegisterDelay < 0 || c.Registry.LookupDelay < 0 {
		return fmt.Errorf("registry delays must be >= 0")
	}
	if c.Registry.TTL < 0 {
		return fmt.Errorf("registry.ttl must be >= 0")
	}
	if c.Registry.Breaker.Enabled {
		if c.Registry.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("registry.breaker.failure_threshold must be > 0")
		}
		if c.Registry.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("registry.breaker.open_timeout must be > 0")
		}
	}

	// Discovery
	if c.Discovery.ConnectTimeout <= 0 {
		return fmt.Errorf("discovery.connect_timeout must be > 0")
	}
	if c.Discovery.DialTimeout <= 0 {
		return fmt.Errorf("discovery.dial_timeout must be > 0")
	}
	if c.Discovery.PortRange.Min > 0 || c.Discovery.PortRange.Max > 0 {
		if c.Discovery.PortRange.Min == 0 || c.Discovery.PortRange.Max == 0 {
			return fmt.Errorf("discovery.port_range.min and max must both be set when one is set")
		}
		if c.Discovery.PortRange.Min >= c.Discovery.PortRange.Max {
			return fmt.Errorf("discovery.port_range.min must be < max")
		}
	}
	for i, s := range c.Discovery.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("discovery.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.MetricsPath == "" {
		return fmt.Errorf("monitoring.metrics_path must not be empty when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
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
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	return nil
}

// Load reads a .env file if present, then the YAML config, then applies
// STREAMRELAY_* environment overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8081"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.NotifyDeliveryFailure = false
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Registry.RegisterDelay = 500 * time.Millisecond
	cfg.Registry.LookupDelay = 300 * time.Millisecond
	cfg.Registry.TTL = 0
	cfg.Registry.Breaker.Enabled = true
	cfg.Registry.Breaker.FailureThreshold = 5
	cfg.Registry.Breaker.OpenTimeout = 10 * time.Second

	cfg.Discovery.RelayURL = "ws://localhost:8081/ws"
	cfg.Discovery.ConnectTimeout = 10 * time.Second
	cfg.Discovery.DialTimeout = 30 * time.Second
	cfg.Discovery.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

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

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("STREAMRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if relay := os.Getenv("STREAMRELAY_RELAY_URL"); relay != "" {
		c.Discovery.RelayURL = relay
	}
	if level := os.Getenv("STREAMRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("STREAMRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if pw := os.Getenv("STREAMRELAY_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if v := os.Getenv("STREAMRELAY_NOTIFY_DELIVERY_FAILURE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STREAMRELAY_NOTIFY_DELIVERY_FAILURE: %w", err)
		}
		c.Signal.NotifyDeliveryFailure = enabled
	}
	if url := os.Getenv("STREAMRELAY_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
		c.Tracing.Enabled = true
	}
	return nil
}
