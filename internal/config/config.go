// Package config loads feng's configuration: a baked-in JSON default,
// optionally overridden by a file on disk, with environment variables
// applied last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const defaultConfig = `{
  "server": {
    "host": "0.0.0.0",
    "rtspPort": 8554,
    "monitorPort": 8555,
    "maxAcceptBacklog": 128
  },
  "transport": {
    "enableSCTP": false
  },
  "timeouts": {
    "liveStreamByeSeconds": 6,
    "streamTimeoutSeconds": 12
  },
  "workerPool": {
    "size": 64,
    "queueDepthPerWorker": 32
  },
  "auth": {
    "jwtSecret": "change-me-in-production",
    "tokenExpirationSeconds": 3600,
    "requireAuth": false
  },
  "ingest": {
    "natsURL": "nats://localhost:4222",
    "maxReconnects": 10,
    "reconnectWaitMillis": 1000,
    "reconnectJitterMillis": 200,
    "maxPingsOut": 3,
    "pingIntervalMillis": 10000
  },
  "metrics": {
    "enablePrometheus": true,
    "systemSampleIntervalSeconds": 5
  }
}`

// Config is feng's top-level configuration document.
type Config struct {
	Server struct {
		Host             string `json:"host"`
		RTSPPort         int    `json:"rtspPort"`
		MonitorPort      int    `json:"monitorPort"`
		MaxAcceptBacklog int    `json:"maxAcceptBacklog"`
	} `json:"server"`

	Transport struct {
		EnableSCTP bool `json:"enableSCTP"`
	} `json:"transport"`

	Timeouts struct {
		LiveStreamByeSeconds int `json:"liveStreamByeSeconds"`
		StreamTimeoutSeconds int `json:"streamTimeoutSeconds"`
	} `json:"timeouts"`

	WorkerPool struct {
		Size                int `json:"size"`
		QueueDepthPerWorker int `json:"queueDepthPerWorker"`
	} `json:"workerPool"`

	Auth struct {
		JWTSecret               string `json:"jwtSecret"`
		TokenExpirationSeconds  int    `json:"tokenExpirationSeconds"`
		RequireAuth             bool   `json:"requireAuth"`
	} `json:"auth"`

	Ingest struct {
		NATSURL               string `json:"natsURL"`
		MaxReconnects         int    `json:"maxReconnects"`
		ReconnectWaitMillis   int    `json:"reconnectWaitMillis"`
		ReconnectJitterMillis int    `json:"reconnectJitterMillis"`
		MaxPingsOut           int    `json:"maxPingsOut"`
		PingIntervalMillis    int    `json:"pingIntervalMillis"`
	} `json:"ingest"`

	Metrics struct {
		EnablePrometheus            bool `json:"enablePrometheus"`
		SystemSampleIntervalSeconds int  `json:"systemSampleIntervalSeconds"`
	} `json:"metrics"`
}

// LiveStreamByeTimeout is Timeouts.LiveStreamByeSeconds as a duration.
func (c *Config) LiveStreamByeTimeout() time.Duration {
	return time.Duration(c.Timeouts.LiveStreamByeSeconds) * time.Second
}

// StreamTimeout is Timeouts.StreamTimeoutSeconds as a duration.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Timeouts.StreamTimeoutSeconds) * time.Second
}

// Load reads configuration from path, falling back to the baked-in
// default when path is empty, then applies environment overrides and
// validates the timeout tunables.
func Load(path string) (*Config, error) {
	var raw []byte
	var err error

	if path != "" {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		raw = []byte(defaultConfig)
	}

	raw = []byte(os.ExpandEnv(string(raw)))

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariant that StreamTimeout must be a
// positive integer multiple of LiveStreamByeTimeout, so the soft BYE
// is guaranteed to fire before the hard kick.
func (c *Config) Validate() error {
	bye := c.Timeouts.LiveStreamByeSeconds
	stream := c.Timeouts.StreamTimeoutSeconds
	if bye <= 0 || stream <= 0 {
		return fmt.Errorf("config: timeouts must be positive (bye=%d stream=%d)", bye, stream)
	}
	if stream%bye != 0 {
		return fmt.Errorf("config: streamTimeoutSeconds (%d) must be an integer multiple of liveStreamByeSeconds (%d)", stream, bye)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	if host := os.Getenv("FENG_SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if natsURL := os.Getenv("FENG_NATS_URL"); natsURL != "" {
		c.Ingest.NATSURL = natsURL
	}
	if secret := os.Getenv("FENG_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	switch os.Getenv("FENG_REQUIRE_AUTH") {
	case "true":
		c.Auth.RequireAuth = true
	case "false":
		c.Auth.RequireAuth = false
	}
	switch os.Getenv("FENG_ENABLE_PROMETHEUS") {
	case "true":
		c.Metrics.EnablePrometheus = true
	case "false":
		c.Metrics.EnablePrometheus = false
	}
}
