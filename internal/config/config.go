package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Environment variables with defaults
type ServerEnvironment struct {

	// http server settings
	Environment           string        `env:"ENVIRONMENT,default=dev"`
	Host                  string        `env:"HOST,default=0.0.0.0"`
	Port                  int           `env:"PORT,default=8080"`
	LogLevel              string        `env:"LOG_LEVEL,default=debug"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=45s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT,default=40s"`
	RateLimitRPS          int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst        int32         `env:"RATE_LIMIT_BURST,default=200"`

	// envelopes carry base64 text, so the body limit is larger than the 10MB payload limit
	MaxRequestBodyBytes int64 `env:"MAX_REQUEST_BODY_BYTES,default=16777216"`

	// envelope settings
	MaxAge        time.Duration `env:"MAX_AGE,default=5m"`
	Secret        string        `env:"ENCSTREAM_SECRET"`
	SecretKeyPath string        `env:"SECRET_KEY_PATH"`

	// forwarding settings
	AllowedTargetPrefixes []string      `env:"ALLOWED_TARGET_PREFIXES,separator=|"`
	UpstreamURL           string        `env:"UPSTREAM_URL"`
	UpstreamTimeout       time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	SealResponses         bool          `env:"SEAL_RESPONSES,default=false"`

	// replay guard settings
	ReplayStore          string        `env:"REPLAY_STORE,default=memory"`
	ReplayFilterSizeLog2 int           `env:"REPLAY_FILTER_SIZE_LOG2,default=27"`
	ReplayPurgeInterval  time.Duration `env:"REPLAY_PURGE_INTERVAL,default=1m"`

	// database settings (REPLAY_STORE=postgres only)
	DatabaseURL         string        `env:"DATABASE_URL"`
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`
}

// ClientEnvironment configures the encstream CLI when it talks to a sealed proxy.
type ClientEnvironment struct {
	Environment   string        `env:"ENVIRONMENT,default=dev"`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
	Secret        string        `env:"ENCSTREAM_SECRET"`
	SecretKeyPath string        `env:"SECRET_KEY_PATH"`
	ProxyURL      string        `env:"PROXY_URL,default=http://localhost:8080/api/proxy"`
	ClientTimeout time.Duration `env:"CLIENT_TIMEOUT,default=30s"`
	Debug         bool          `env:"DEBUG,default=false"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

var validReplayStores = map[string]bool{
	"memory":   true,
	"postgres": true,
	"none":     true,
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil

}

// NewClientConfig loads the client environment variables.
//
// The secret is not required here: commands that do not seal or open (keygen, check) can run without one.
func NewClientConfig() (*ClientEnvironment, error) {
	var cfg ClientEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if !validEnvs[cfg.Environment] {
		return nil, fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	if cfg.Secret != "" && cfg.SecretKeyPath != "" {
		return nil, fmt.Errorf("set either ENCSTREAM_SECRET or SECRET_KEY_PATH, not both")
	}
	if _, err := parseHTTPURL(cfg.ProxyURL); err != nil {
		return nil, fmt.Errorf("invalid PROXY_URL: %w", err)
	}
	if cfg.ClientTimeout <= 0 {
		return nil, fmt.Errorf("CLIENT_TIMEOUT must be greater than 0")
	}
	return &cfg, nil
}

// validateConfig checks for required env variables
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	// exactly one source for the shared secret
	if cfg.Secret == "" && cfg.SecretKeyPath == "" {
		return fmt.Errorf("one of ENCSTREAM_SECRET or SECRET_KEY_PATH must be set")
	}
	if cfg.Secret != "" && cfg.SecretKeyPath != "" {
		return fmt.Errorf("set either ENCSTREAM_SECRET or SECRET_KEY_PATH, not both")
	}

	if cfg.MaxAge <= 0 {
		return fmt.Errorf("MAX_AGE must be greater than 0")
	}
	if cfg.MaxRequestBodyBytes < 1 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be at least 1")
	}
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be greater than 0")
	}

	for _, prefix := range cfg.AllowedTargetPrefixes {
		if _, err := parseHTTPURL(prefix); err != nil {
			return fmt.Errorf("invalid ALLOWED_TARGET_PREFIXES entry %q: %w", prefix, err)
		}
	}
	if cfg.UpstreamURL != "" {
		if _, err := parseHTTPURL(cfg.UpstreamURL); err != nil {
			return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
		}
	}

	if !validReplayStores[cfg.ReplayStore] {
		return fmt.Errorf("invalid REPLAY_STORE: %s (expected memory, postgres or none)", cfg.ReplayStore)
	}
	if cfg.ReplayFilterSizeLog2 < 10 || cfg.ReplayFilterSizeLog2 > 40 {
		return fmt.Errorf("REPLAY_FILTER_SIZE_LOG2 must be between 10 and 40, got %d", cfg.ReplayFilterSizeLog2)
	}

	if cfg.ReplayStore != "postgres" {
		return nil
	}

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when REPLAY_STORE=postgres")
	}
	if cfg.ReplayPurgeInterval <= 0 {
		return fmt.Errorf("REPLAY_PURGE_INTERVAL must be greater than 0")
	}

	// Validate database pool configuration
	if cfg.DBMaxConnections < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
	}
	if cfg.DBMinConnections < 0 {
		return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
	}
	if cfg.DBMinConnections > cfg.DBMaxConnections {
		return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
			cfg.DBMinConnections, cfg.DBMaxConnections)
	}

	return nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}
