package config

import (
	"testing"
	"time"
)

func TestLoadClientDerivesPushURL(t *testing.T) {
	testCases := []struct {
		name    string
		baseURL string
		want    string
	}{
		{name: "http", baseURL: "http://localhost:5000", want: "ws://localhost:5000/websocket"},
		{name: "https with path", baseURL: "https://skyportal.example/portal/", want: "wss://skyportal.example/portal/websocket"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("api.base_url", testCase.baseURL)
			configViper.Set("api.token", "token-1")

			cfg, err := LoadClient(configViper)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.PushURL != testCase.want {
				t.Fatalf("expected push url %q, got %q", testCase.want, cfg.PushURL)
			}
			if cfg.ReconnectDelay != 5*time.Second || cfg.FenceResponses || cfg.IncludeAssociated {
				t.Fatalf("unexpected defaults %+v", cfg)
			}
		})
	}
}

func TestLoadClientKeepsExplicitPushURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("api.base_url", "http://localhost:5000")
	configViper.Set("api.token", "token-1")
	configViper.Set("push.url", "ws://push.local/socket")
	configViper.Set("cache.fence_responses", true)

	cfg, err := LoadClient(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PushURL != "ws://push.local/socket" || !cfg.FenceResponses {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadClientReadsEnvironment(t *testing.T) {
	t.Setenv("SKYPORTAL_API_BASE_URL", "https://skyportal.example")
	t.Setenv("SKYPORTAL_API_TOKEN", "env-token")
	t.Setenv("SKYPORTAL_COMMENTS_INCLUDE_ASSOCIATED", "true")

	cfg, err := LoadClient(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Token != "env-token" || !cfg.IncludeAssociated {
		t.Fatalf("expected environment values, got %+v", cfg)
	}
}

func TestLoadClientValidation(t *testing.T) {
	testCases := []struct {
		name   string
		values map[string]any
	}{
		{name: "missing base url", values: map[string]any{"api.token": "t"}},
		{name: "missing token", values: map[string]any{"api.base_url": "http://localhost"}},
		{name: "unsupported scheme", values: map[string]any{"api.base_url": "ftp://localhost", "api.token": "t"}},
		{name: "non-positive reconnect", values: map[string]any{"api.base_url": "http://localhost", "api.token": "t", "push.reconnect_seconds": 0}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			if _, err := LoadClient(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadSandbox(t *testing.T) {
	configViper := NewViper()
	configViper.Set("sandbox.signing_secret", "0123456789abcdef")
	configViper.Set("sandbox.allowed_origins", []string{"http://localhost:3000"})

	cfg, err := LoadSandbox(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TokenTTL != 15*time.Minute || cfg.TokenIssuer != defaultTokenIssuer || cfg.TokenAudience != defaultTokenAudience {
		t.Fatalf("unexpected token settings %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadSandboxRequiresStrongSecret(t *testing.T) {
	for _, secret := range []string{"", "short"} {
		configViper := NewViper()
		configViper.Set("sandbox.signing_secret", secret)
		if _, err := LoadSandbox(configViper); err == nil {
			t.Fatalf("expected error for secret %q", secret)
		}
	}
}
