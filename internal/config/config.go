package config

import "time"

// Config holds configuration for both binaries. Each binary reads its own section.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ServerConfig configures the reference collaborator server.
type ServerConfig struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath       string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret          string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer          string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience        string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL           time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	UploadDir          string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	TranscribeCommand  string        `mapstructure:"transcribe_command" yaml:"transcribe_command"`
	TranscribeTimeout  time.Duration `mapstructure:"transcribe_timeout" yaml:"transcribe_timeout"`
	VectorStoreURL     string        `mapstructure:"vector_store_url" yaml:"vector_store_url"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
}

// ClientConfig configures the sync engine and the chat CLI.
type ClientConfig struct {
	BaseURL              string        `mapstructure:"base_url" yaml:"base_url"`
	SessionFile          string        `mapstructure:"session_file" yaml:"session_file"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
	PageSize             int           `mapstructure:"page_size" yaml:"page_size"`
	SearchDebounce       time.Duration `mapstructure:"search_debounce" yaml:"search_debounce"`
	SearchMinLength      int           `mapstructure:"search_min_length" yaml:"search_min_length"`
	SearchCacheSize      int           `mapstructure:"search_cache_size" yaml:"search_cache_size"`
	SearchCacheTTL       time.Duration `mapstructure:"search_cache_ttl" yaml:"search_cache_ttl"`
	Inbox                bool          `mapstructure:"inbox" yaml:"inbox"`
	LogLevel             string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadHeaderTimeout:  5 * time.Second,
			ShutdownTimeout:    5 * time.Second,
			DatabasePath:       "voicechat.db",
			JWTSecret:          "change-me",
			JWTIssuer:          "voicechat",
			JWTAudience:        "voicechat",
			TokenTTL:           7 * 24 * time.Hour,
			UploadDir:          "./uploads",
			MaxUploadBytes:     25 << 20,
			TranscribeTimeout:  2 * time.Minute,
			RateLimitPerMinute: 120,
			LogLevel:           "info",
		},
		Client: ClientConfig{
			BaseURL:              "http://localhost:8080",
			SessionFile:          "session.yaml",
			RequestTimeout:       15 * time.Second,
			ReconnectBaseDelay:   3 * time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			ReconnectMaxAttempts: 10,
			PageSize:             50,
			SearchDebounce:       300 * time.Millisecond,
			SearchMinLength:      2,
			SearchCacheSize:      64,
			SearchCacheTTL:       30 * time.Second,
			LogLevel:             "warn",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.DatabasePath != "" {
		c.Server.DatabasePath = other.Server.DatabasePath
	}
	if other.Server.JWTSecret != "" {
		c.Server.JWTSecret = other.Server.JWTSecret
	}
	if other.Server.UploadDir != "" {
		c.Server.UploadDir = other.Server.UploadDir
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Client.BaseURL != "" {
		c.Client.BaseURL = other.Client.BaseURL
	}
	if other.Client.SessionFile != "" {
		c.Client.SessionFile = other.Client.SessionFile
	}
	if other.Client.LogLevel != "" {
		c.Client.LogLevel = other.Client.LogLevel
	}
}
