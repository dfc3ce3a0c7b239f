package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "SKYPORTAL"
	defaultLogLevel          = "info"
	defaultHTTPAddress       = "127.0.0.1:5000"
	defaultDatabasePath      = "skyportal-sandbox.db"
	defaultTokenTTLMinutes   = 15
	defaultTokenIssuer       = "skyportal-sandbox"
	defaultTokenAudience     = "skyportal-socket"
	defaultReconnectSeconds  = 5
	websocketPath            = "/websocket"
	minimumSigningSecretSize = 16
)

// ClientConfig captures runtime configuration for the client.
type ClientConfig struct {
	BaseURL           string
	Token             string
	PushURL           string
	LogLevel          string
	FenceResponses    bool
	IncludeAssociated bool
	ReconnectDelay    time.Duration
}

// SandboxConfig captures runtime configuration for the sandbox server.
type SandboxConfig struct {
	HTTPAddress    string
	DatabasePath   string
	SigningSecret  string
	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	AllowedOrigins []string
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cache.fence_responses", false)
	configViper.SetDefault("comments.include_associated", false)
	configViper.SetDefault("push.reconnect_seconds", defaultReconnectSeconds)
	configViper.SetDefault("sandbox.http_address", defaultHTTPAddress)
	configViper.SetDefault("sandbox.database_path", defaultDatabasePath)
	configViper.SetDefault("sandbox.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("sandbox.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("sandbox.token_audience", defaultTokenAudience)
}

// LoadClient parses client configuration from viper. The push URL defaults
// to the websocket endpoint of the API host.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:           strings.TrimSpace(configViper.GetString("api.base_url")),
		Token:             strings.TrimSpace(configViper.GetString("api.token")),
		PushURL:           strings.TrimSpace(configViper.GetString("push.url")),
		LogLevel:          configViper.GetString("log.level"),
		FenceResponses:    configViper.GetBool("cache.fence_responses"),
		IncludeAssociated: configViper.GetBool("comments.include_associated"),
		ReconnectDelay:    time.Duration(configViper.GetInt("push.reconnect_seconds")) * time.Second,
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	if cfg.PushURL == "" {
		pushURL, err := derivePushURL(cfg.BaseURL)
		if err != nil {
			return ClientConfig{}, err
		}
		cfg.PushURL = pushURL
	}
	return cfg, nil
}

// LoadSandbox parses sandbox server configuration from viper.
func LoadSandbox(configViper *viper.Viper) (SandboxConfig, error) {
	cfg := SandboxConfig{
		HTTPAddress:    configViper.GetString("sandbox.http_address"),
		DatabasePath:   configViper.GetString("sandbox.database_path"),
		SigningSecret:  configViper.GetString("sandbox.signing_secret"),
		TokenIssuer:    configViper.GetString("sandbox.token_issuer"),
		TokenAudience:  configViper.GetString("sandbox.token_audience"),
		TokenTTL:       time.Duration(configViper.GetInt("sandbox.token_ttl_minutes")) * time.Minute,
		AllowedOrigins: configViper.GetStringSlice("sandbox.allowed_origins"),
		LogLevel:       configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return SandboxConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("push.reconnect_seconds must be positive")
	}
	return nil
}

func (c SandboxConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("sandbox.signing_secret is required")
	}
	if len(c.SigningSecret) < minimumSigningSecretSize {
		return fmt.Errorf("sandbox.signing_secret must be at least %d bytes", minimumSigningSecretSize)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("sandbox.database_path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("sandbox.http_address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("sandbox.token_ttl_minutes must be positive")
	}
	return nil
}

func derivePushURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("api.base_url %q is not a valid url", baseURL)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("api.base_url %q must use http or https", baseURL)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + websocketPath
	parsed.RawQuery = ""
	return parsed.String(), nil
}
