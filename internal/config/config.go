package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Relay    RelayConfig    `yaml:"relay"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	StatusTTL time.Duration `yaml:"status_ttl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

// MQTTConfig represents the optional MQTT republisher
type MQTTConfig struct {
	BrokerURL    string `yaml:"broker_url"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPattern string `yaml:"topic_pattern"`
	QoS          byte   `yaml:"qos"`
	TLS          bool   `yaml:"tls"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthConfig holds the single operator account used by the admin surfaces.
type AuthConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RelayConfig represents the socket relay server configuration
type RelayConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	AcceptPoll      time.Duration `yaml:"accept_poll"`
	MaxBuffer       int           `yaml:"max_buffer"`
	MaxMalformed    int           `yaml:"max_malformed"`
	RealHardwareTag string        `yaml:"real_hardware_tag"`
	VoteType        int           `yaml:"vote_type"`
	VoteConfig      string        `yaml:"vote_config"`
}

// ClientConfig represents the device-side relay client configuration
type ClientConfig struct {
	ServerAddr        string          `yaml:"server_addr"`
	BackendURL        string          `yaml:"backend_url"`
	Mode              string          `yaml:"mode"` // socket | http | both
	HTTPFallback      bool            `yaml:"http_fallback"`
	DialTimeout       time.Duration   `yaml:"dial_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	PostAttempts      int             `yaml:"post_attempts"`
	PostBackoff       time.Duration   `yaml:"post_backoff"`
	PostTimeout       time.Duration   `yaml:"post_timeout"`
	EventType         string          `yaml:"event_type"`
	QueueSize         int             `yaml:"queue_size"`
	SDK               SDKConfig       `yaml:"sdk"`
	Connect           ConnectConfig   `yaml:"connect"`
	AutoStart         AutoStartConfig `yaml:"auto_start"`
}

// SDKConfig describes how the vendor library is located and activated
type SDKConfig struct {
	LibraryPaths []string `yaml:"library_paths"`
	LicenseKind  int      `yaml:"license_kind"`
	LicenseKey   string   `yaml:"license_key"`
	LogLevel     int      `yaml:"log_level"`
}

// ConnectConfig describes the startup connect sequence
type ConnectConfig struct {
	Type         int           `yaml:"type"`          // 2 = network discovery
	FallbackType int           `yaml:"fallback_type"` // 1 = USB
	String       string        `yaml:"string"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`
}

// AutoStartConfig controls the vote auto-start on a ready connect callback
type AutoStartConfig struct {
	Disabled    bool   `yaml:"disabled"`
	TriggerInfo string `yaml:"trigger_info"`
	BaseID      int    `yaml:"base_id"`
	VoteType    int    `yaml:"vote_type"`
	Config      string `yaml:"config"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}

	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		c.Client.ServerAddr = addr
	}

	if url := os.Getenv("BACKEND_URL"); url != "" {
		c.Client.BackendURL = url
	}

	if key := os.Getenv("EASYTEST_LICENSE_KEY"); key != "" {
		c.Client.SDK.LicenseKey = key
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.API.Port == 0 {
		c.API.Port = 8000
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 60
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "keypad.events"
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "keypad"
	}
	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 10 * time.Minute
	}
	if c.Redis.Timeout == 0 {
		c.Redis.Timeout = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "keypad-ingestion"
	}
	if c.MQTT.TopicPattern == "" {
		c.MQTT.TopicPattern = "keypad/{base_id}/{kind}"
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	c.setRelayDefaults()
	c.setClientDefaults()
}

func (c *Config) setRelayDefaults() {
	r := &c.Relay
	if r.Listen == "" {
		r.Listen = "0.0.0.0:8888"
	}
	if r.ReadTimeout == 0 {
		r.ReadTimeout = 30 * time.Second
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = 5 * time.Second
	}
	if r.AcceptPoll == 0 {
		r.AcceptPoll = time.Second
	}
	if r.MaxBuffer == 0 {
		r.MaxBuffer = 10000
	}
	if r.MaxMalformed == 0 {
		r.MaxMalformed = 5
	}
	if r.RealHardwareTag == "" {
		r.RealHardwareTag = "real_hardware"
	}
	if r.VoteType == 0 {
		r.VoteType = 10
	}
	if r.VoteConfig == "" {
		r.VoteConfig = "1,1,0,0,4,1"
	}
}

func (c *Config) setClientDefaults() {
	cl := &c.Client
	if cl.ServerAddr == "" {
		cl.ServerAddr = "127.0.0.1:8888"
	}
	if cl.BackendURL == "" {
		cl.BackendURL = "http://127.0.0.1:8000"
	}
	if cl.Mode == "" {
		cl.Mode = "socket"
	}
	if cl.DialTimeout == 0 {
		cl.DialTimeout = 5 * time.Second
	}
	if cl.WriteTimeout == 0 {
		cl.WriteTimeout = 5 * time.Second
	}
	if cl.PostAttempts == 0 {
		cl.PostAttempts = 3
	}
	if cl.PostBackoff == 0 {
		cl.PostBackoff = time.Second
	}
	if cl.PostTimeout == 0 {
		cl.PostTimeout = 5 * time.Second
	}
	if cl.EventType == "" {
		cl.EventType = "real_hardware"
	}
	if cl.QueueSize == 0 {
		cl.QueueSize = 256
	}

	if len(cl.SDK.LibraryPaths) == 0 {
		cl.SDK.LibraryPaths = []string{
			"./resources/EasyTestSDK_x64.dll",
			"../resources/EasyTestSDK_x64.dll",
			"../../resources/EasyTestSDK_x64.dll",
			"./EasyTestSDK_x64.dll",
			"../EasyTestSDK_x64.dll",
		}
	}
	if cl.SDK.LicenseKind == 0 {
		cl.SDK.LicenseKind = 1
	}

	if cl.Connect.Type == 0 {
		cl.Connect.Type = 2
	}
	if cl.Connect.FallbackType == 0 {
		cl.Connect.FallbackType = 1
	}
	if cl.Connect.MaxAttempts == 0 {
		cl.Connect.MaxAttempts = 5
	}
	if cl.Connect.Backoff == 0 {
		cl.Connect.Backoff = 2 * time.Second
	}

	if cl.AutoStart.TriggerInfo == "" {
		cl.AutoStart.TriggerInfo = "1"
	}
	if cl.AutoStart.VoteType == 0 {
		cl.AutoStart.VoteType = 10
	}
	if cl.AutoStart.Config == "" {
		cl.AutoStart.Config = "1,1,0,0,4,1"
	}
}

func (c *Config) validate() error {
	switch c.Client.Mode {
	case "socket", "http", "both":
	default:
		return fmt.Errorf("client.mode must be socket, http or both, got %q", c.Client.Mode)
	}

	if c.Relay.MaxBuffer < 0 {
		return fmt.Errorf("relay.max_buffer must not be negative")
	}

	if c.Client.Connect.MaxAttempts < 1 {
		return fmt.Errorf("client.connect.max_attempts must be at least 1")
	}

	return nil
}

// PrintConfigSummary logs the effective configuration without secrets
func (c *Config) PrintConfigSummary() {
	log.Info().
		Str("log_level", c.Log.Level).
		Bool("database", c.Database.DSN != "").
		Bool("nats", c.NATS.URL != "").
		Bool("redis", c.Redis.Addr != "").
		Bool("mqtt", c.MQTT.BrokerURL != "").
		Msg("Configuration loaded")

	log.Debug().
		Str("listen", c.Relay.Listen).
		Dur("read_timeout", c.Relay.ReadTimeout).
		Int("max_buffer", c.Relay.MaxBuffer).
		Int("max_malformed", c.Relay.MaxMalformed).
		Msg("Relay settings")

	log.Debug().
		Str("server_addr", c.Client.ServerAddr).
		Str("backend_url", c.Client.BackendURL).
		Str("mode", c.Client.Mode).
		Int("connect_attempts", c.Client.Connect.MaxAttempts).
		Dur("connect_backoff", c.Client.Connect.Backoff).
		Bool("auto_start", !c.Client.AutoStart.Disabled).
		Str("auto_start_trigger", c.Client.AutoStart.TriggerInfo).
		Msg("Client settings")
}
