package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hub       HubConfig       `yaml:"hub"`
	Store     StoreConfig     `yaml:"store"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type HubConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	ReaperInterval    time.Duration `yaml:"reaper_interval"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	ReplayWindow      int           `yaml:"replay_window"`
	PersistRetries    int           `yaml:"persist_retries"`
	PersistRetryDelay time.Duration `yaml:"persist_retry_delay"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TrackerConfig struct {
	ServerURL      string        `yaml:"server_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	QueueBound     int           `yaml:"queue_bound"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	FlushTimeout   time.Duration `yaml:"flush_timeout"`
}

type DashboardConfig struct {
	ServerURL          string        `yaml:"server_url"`
	FeedSize           int           `yaml:"feed_size"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Hub: HubConfig{
			InactivityTimeout: 10 * time.Minute,
			ReaperInterval:    30 * time.Second,
			SubscriberBuffer:  64,
			ReplayWindow:      256,
			PersistRetries:    5,
			PersistRetryDelay: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: "classpulse.db",
		},
		Tracker: TrackerConfig{
			ServerURL:      "http://localhost:8080",
			PollInterval:   time.Second,
			DebounceWindow: 2 * time.Second,
			QueueBound:     1024,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  30 * time.Second,
			SendTimeout:    10 * time.Second,
			FlushTimeout:   15 * time.Second,
		},
		Dashboard: DashboardConfig{
			ServerURL:          "ws://localhost:8080/ws",
			FeedSize:           200,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads the config file if it exists and falls back to the
// built-in defaults when it doesn't. Other errors still propagate.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// GenerateToken returns a random 16-byte hex token for static auth.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
