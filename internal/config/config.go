// Package config loads and validates the deskhook.yml configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deskhook/deskhook/internal/queue"
)

// Config represents the top-level deskhook.yml configuration.
//
// Two options are programmatic rather than file-based and live on the
// dispatcher: the conversation-inclusion predicate (default: include all)
// and the identity-lookup override (default: the messaging platform's
// identity API).
type Config struct {
	Name      string          `yaml:"name,omitempty"` // Integration name; also the remote target/trigger title
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Server    ServerConfig    `yaml:"server"`
	Messaging MessagingConfig `yaml:"messaging"`
	Ticketing TicketingConfig `yaml:"ticketing"`
	Queue     QueueConfig     `yaml:"queue,omitempty"`
}

// RedisConfig locates the Redis server backing the pending store and queue.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"` // Default: localhost:6379
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ServerConfig describes this server's listeners and external address.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"` // Default: :8700
	URL        string `yaml:"url"`                   // Externally reachable base URL for webhook callbacks

	// AltPort, when non-zero, rewrites the ticketing callback URL to plain
	// http on this port, for environments where the platform cannot reach
	// the TLS listener. The alternate listener itself is bound on this port.
	AltPort int `yaml:"alt_port,omitempty"`
}

// MessagingConfig holds messaging-platform settings.
type MessagingConfig struct {
	Path    string `yaml:"path,omitempty"` // Inbound webhook path; default /messaging-event
	BaseURL string `yaml:"base_url"`       // Messaging platform API base URL
	Token   string `yaml:"token,omitempty"`
}

// TicketingConfig holds ticketing-platform settings.
type TicketingConfig struct {
	Subdomain string `yaml:"subdomain"`
	Username  string `yaml:"username"`
	Token     string `yaml:"token"`
	Path      string `yaml:"path,omitempty"` // Inbound webhook path; default /ticketing-event
}

// QueueConfig tunes the retry policy applied to webhook processing jobs.
type QueueConfig struct {
	MaxAttempts int    `yaml:"max_attempts,omitempty"` // Default: 10
	BaseDelay   string `yaml:"base_delay,omitempty"`   // Go duration string; default 10s
}

// JobOptions converts the queue settings into enqueue options.
// Call only after Validate has applied defaults.
func (q QueueConfig) JobOptions() queue.Options {
	opts := queue.DefaultOptions()
	if q.MaxAttempts > 0 {
		opts.MaxAttempts = q.MaxAttempts
	}
	if q.BaseDelay != "" {
		if d, err := time.ParseDuration(q.BaseDelay); err == nil {
			opts.Backoff.BaseDelay = d
		}
	}
	return opts
}

// Validate performs strict validation and applies documented defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = "Deskhook Integration"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8700"
	}
	if c.Server.AltPort < 0 || c.Server.AltPort > 65535 {
		return fmt.Errorf("server.alt_port must be a valid port, got %d", c.Server.AltPort)
	}

	if c.Messaging.BaseURL == "" {
		return fmt.Errorf("messaging.base_url is required")
	}
	if c.Messaging.Path == "" {
		c.Messaging.Path = "/messaging-event"
	}
	if !strings.HasPrefix(c.Messaging.Path, "/") {
		return fmt.Errorf("messaging.path must start with '/', got %q", c.Messaging.Path)
	}

	if c.Ticketing.Subdomain == "" {
		return fmt.Errorf("ticketing.subdomain is required")
	}
	if c.Ticketing.Username == "" {
		return fmt.Errorf("ticketing.username is required")
	}
	if c.Ticketing.Token == "" {
		return fmt.Errorf("ticketing.token is required")
	}
	if c.Ticketing.Path == "" {
		c.Ticketing.Path = "/ticketing-event"
	}
	if !strings.HasPrefix(c.Ticketing.Path, "/") {
		return fmt.Errorf("ticketing.path must start with '/', got %q", c.Ticketing.Path)
	}

	if c.Messaging.Path == c.Ticketing.Path {
		return fmt.Errorf("messaging.path and ticketing.path must differ, both are %q", c.Messaging.Path)
	}

	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.max_attempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BaseDelay != "" {
		d, err := time.ParseDuration(c.Queue.BaseDelay)
		if err != nil {
			return fmt.Errorf("queue.base_delay is not a valid duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("queue.base_delay must be positive, got %v", d)
		}
	}

	return nil
}

// Load reads and validates deskhook.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
