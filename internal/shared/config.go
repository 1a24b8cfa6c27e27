package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Platform PlatformConfig `toml:"platform"`
	Token    TokenConfig    `toml:"token"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Session  SessionConfig  `toml:"session"`
	Blast    BlastConfig    `toml:"blast"`
}

// PlatformConfig contains the chat platform's OAuth client and endpoints.
type PlatformConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	APIBaseURL   string   `toml:"api_base_url"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
	// Flow is either "implicit" or "code".
	Flow string `toml:"flow"`
	// WelcomeMessage is sent to the user after a browser login, with {name} replaced. Empty disables it.
	WelcomeMessage string `toml:"welcome_message"`
}

// TokenConfig selects and tunes the durable token store.
type TokenConfig struct {
	// Store is either "file" or "sqlite".
	Store                 string `toml:"store"`
	FilePath              string `toml:"file_path"`
	RefreshBufferSeconds  int    `toml:"refresh_buffer_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string  `toml:"host"`
	Port              int     `toml:"port"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// SessionConfig controls the per-browser session cache.
type SessionConfig struct {
	// Backend is either "memory" or "redis".
	Backend       string `toml:"backend"`
	CookieName    string `toml:"cookie_name"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// BlastConfig holds defaults for bulk dispatch campaigns.
type BlastConfig struct {
	// Store is either "sqlite" or "memory". Campaigns only survive across CLI invocations in sqlite.
	Store                       string  `toml:"store"`
	DefaultIntervalSeconds      float64 `toml:"default_interval_seconds"`
	DefaultMessagesPerRecipient int     `toml:"default_messages_per_recipient"`
	PollIntervalMillis          int     `toml:"poll_interval_millis"`
}

// RefreshBuffer returns the configured expiring-soon window.
func (c TokenConfig) RefreshBuffer() time.Duration {
	return time.Duration(c.RefreshBufferSeconds) * time.Second
}

// RequestTimeout returns the outbound HTTP timeout, defaulting to 30 seconds.
func (c TokenConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TTL returns the session lifetime.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Interval returns the default spacing between sends.
func (c BlastConfig) Interval() time.Duration {
	return time.Duration(c.DefaultIntervalSeconds * float64(time.Second))
}

// PollInterval returns how often blast drivers call advance.
func (c BlastConfig) PollInterval() time.Duration {
	if c.PollIntervalMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults from the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv lets secrets come from the environment instead of config.toml. Empty values are ignored.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"KCX_CLIENT_ID":      &c.Platform.ClientID,
		"KCX_CLIENT_SECRET":  &c.Platform.ClientSecret,
		"KCX_REDIS_PASSWORD": &c.Session.RedisPassword,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// LoadEnvFile adds the variables in a dotenv file to the process environment.
//
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to load %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Platform.Flow {
	case "implicit", "code":
	default:
		return fmt.Errorf("%w: platform.flow must be implicit or code, got %q", ErrInvalidConfig, c.Platform.Flow)
	}
	switch c.Token.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("%w: token.store must be file or sqlite, got %q", ErrInvalidConfig, c.Token.Store)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: session.backend must be memory or redis, got %q", ErrInvalidConfig, c.Session.Backend)
	}
	switch c.Blast.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: blast.store must be sqlite or memory, got %q", ErrInvalidConfig, c.Blast.Store)
	}
	if c.Platform.ClientID == "" {
		return fmt.Errorf("%w: platform.client_id", ErrMissingCredentials)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes the config as TOML and writes it to path, creating parent directories.
func SaveConfig(path string, config *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
