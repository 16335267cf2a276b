package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "VOICECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	// VOICECHAT_SERVER_ADDR overrides server.addr.
	v.SetEnvPrefix("VOICECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	s := cfg.Server
	v.SetDefault("server.addr", s.Addr)
	v.SetDefault("server.read_header_timeout", s.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	v.SetDefault("server.database_path", s.DatabasePath)
	v.SetDefault("server.jwt_secret", s.JWTSecret)
	v.SetDefault("server.jwt_issuer", s.JWTIssuer)
	v.SetDefault("server.jwt_audience", s.JWTAudience)
	v.SetDefault("server.token_ttl", s.TokenTTL)
	v.SetDefault("server.upload_dir", s.UploadDir)
	v.SetDefault("server.max_upload_bytes", s.MaxUploadBytes)
	v.SetDefault("server.transcribe_command", s.TranscribeCommand)
	v.SetDefault("server.transcribe_timeout", s.TranscribeTimeout)
	v.SetDefault("server.vector_store_url", s.VectorStoreURL)
	v.SetDefault("server.rate_limit_per_minute", s.RateLimitPerMinute)
	v.SetDefault("server.log_level", s.LogLevel)

	c := cfg.Client
	v.SetDefault("client.base_url", c.BaseURL)
	v.SetDefault("client.session_file", c.SessionFile)
	v.SetDefault("client.request_timeout", c.RequestTimeout)
	v.SetDefault("client.reconnect_base_delay", c.ReconnectBaseDelay)
	v.SetDefault("client.reconnect_max_delay", c.ReconnectMaxDelay)
	v.SetDefault("client.reconnect_max_attempts", c.ReconnectMaxAttempts)
	v.SetDefault("client.page_size", c.PageSize)
	v.SetDefault("client.search_debounce", c.SearchDebounce)
	v.SetDefault("client.search_min_length", c.SearchMinLength)
	v.SetDefault("client.search_cache_size", c.SearchCacheSize)
	v.SetDefault("client.search_cache_ttl", c.SearchCacheTTL)
	v.SetDefault("client.inbox", c.Inbox)
	v.SetDefault("client.log_level", c.LogLevel)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
