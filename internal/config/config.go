// ABOUTME: Configuration loading and parsing for foyer
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete foyer configuration.
type Config struct {
	Homeserver  HomeserverConfig   `yaml:"homeserver"`
	Guest       GuestConfig        `yaml:"guest"`
	Departments []DepartmentConfig `yaml:"departments"`
	Session     SessionConfig      `yaml:"session"`
	Spaces      SpacesConfig       `yaml:"spaces"`
	Timeline    TimelineConfig     `yaml:"timeline"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// HomeserverConfig holds the Matrix homeserver connection settings.
type HomeserverConfig struct {
	URL        string `yaml:"url"`
	ServerName string `yaml:"server_name"`
}

// GuestConfig holds guest account provisioning settings.
type GuestConfig struct {
	RegistrationSharedSecret string `yaml:"registration_shared_secret"`
}

// DepartmentConfig describes one department a customer can talk to.
// The bot user creates and re-invites into that department's rooms, so its
// access token must belong to an account with invite power on the homeserver.
type DepartmentConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	BotUserID   string   `yaml:"bot_user_id"`
	AccessToken string   `yaml:"access_token"`
	Responders  []string `yaml:"responders"`
}

// SessionConfig holds session record persistence settings.
type SessionConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Key     string      `yaml:"key"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SpacesConfig holds the optional space organization settings.
type SpacesConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotUserID   string `yaml:"bot_user_id"`
	AccessToken string `yaml:"access_token"`
	RootName    string `yaml:"root_name"`
	StatePath   string `yaml:"state_path"`
}

// TimelineConfig holds message timeline settings.
type TimelineConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Session.Backend == "" {
		c.Session.Backend = "file"
	}
	if c.Session.Path == "" {
		switch c.Session.Backend {
		case "file":
			c.Session.Path = "./foyer-session.json"
		case "sqlite":
			c.Session.Path = "./foyer-sessions.db"
		}
	}
	if c.Session.Key == "" {
		c.Session.Key = "default"
	}
	if c.Spaces.RootName == "" {
		c.Spaces.RootName = "Customer Support"
	}
	if c.Spaces.StatePath == "" {
		c.Spaces.StatePath = "./foyer-spaces.json"
	}
	if c.Timeline.HistoryLimit <= 0 {
		c.Timeline.HistoryLimit = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Homeserver.URL == "" {
		return fmt.Errorf("homeserver.url is required")
	}
	if u, err := url.Parse(c.Homeserver.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("homeserver.url %q is not a valid URL", c.Homeserver.URL)
	}
	if c.Homeserver.ServerName == "" {
		return fmt.Errorf("homeserver.server_name is required")
	}

	if c.Guest.RegistrationSharedSecret == "" {
		return fmt.Errorf("guest.registration_shared_secret is required")
	}

	if len(c.Departments) == 0 {
		return fmt.Errorf("at least one department is required")
	}
	seen := make(map[string]bool, len(c.Departments))
	for i, dept := range c.Departments {
		if dept.ID == "" {
			return fmt.Errorf("departments[%d].id is required", i)
		}
		if seen[dept.ID] {
			return fmt.Errorf("departments[%d].id %q is duplicated", i, dept.ID)
		}
		seen[dept.ID] = true
		if dept.Name == "" {
			return fmt.Errorf("department %q: name is required", dept.ID)
		}
		if !strings.HasPrefix(dept.BotUserID, "@") {
			return fmt.Errorf("department %q: bot_user_id must be a full Matrix user id", dept.ID)
		}
		if dept.AccessToken == "" {
			return fmt.Errorf("department %q: access_token is required", dept.ID)
		}
		for _, responder := range dept.Responders {
			if !strings.HasPrefix(responder, "@") {
				return fmt.Errorf("department %q: responder %q must be a full Matrix user id", dept.ID, responder)
			}
		}
	}

	switch c.Session.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the %s backend", c.Session.Backend)
		}
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend %q is not one of memory, file, sqlite, redis", c.Session.Backend)
	}

	if c.Spaces.Enabled {
		if !strings.HasPrefix(c.Spaces.BotUserID, "@") {
			return fmt.Errorf("spaces.bot_user_id must be a full Matrix user id when spaces are enabled")
		}
		if c.Spaces.AccessToken == "" {
			return fmt.Errorf("spaces.access_token is required when spaces are enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// Department returns the department with the given id, or nil when unknown.
func (c *Config) Department(id string) *DepartmentConfig {
	for i := range c.Departments {
		if c.Departments[i].ID == id {
			return &c.Departments[i]
		}
	}
	return nil
}
