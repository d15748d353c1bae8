package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLIO_OPENROUTER_API_KEY", "test-key")

	cfg, err := loadWith(newMemBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 64 {
		t.Errorf("Server.MaxConnections = %d, want 64", cfg.Server.MaxConnections)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Resolver.Backend != BackendOpenRouter || cfg.Resolver.Model != "google/gemini-2.0-flash-001" {
		t.Errorf("Resolver = %+v", cfg.Resolver)
	}
	if d, _ := cfg.ResolveTimeout(); d != 60*time.Second {
		t.Errorf("ResolveTimeout = %s, want 60s", d)
	}
	if d, _ := cfg.SyncTimeout(); d != 15*time.Second {
		t.Errorf("SyncTimeout = %s, want 15s", d)
	}
	if !cfg.Publish.UseSSL || cfg.Publish.Bucket != "folio-sites" {
		t.Errorf("Publish = %+v", cfg.Publish)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strs["storage.backend"] = "redis"
	b.strs["resolver.backend"] = "ollama"
	b.strs["resolver.timeout"] = "90s"
	b.strs["publish.use_ssl"] = "false"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendRedis || cfg.Resolver.Backend != BackendOllama {
		t.Errorf("backends = %q, %q", cfg.Storage.Backend, cfg.Resolver.Backend)
	}
	if d, _ := cfg.ResolveTimeout(); d != 90*time.Second {
		t.Errorf("ResolveTimeout = %s", d)
	}
	if cfg.Publish.UseSSL {
		t.Error("Publish.UseSSL should be false")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.ints["server.port"] = 5000
	t.Setenv("FOLIO_SERVER_PORT", "6000")
	t.Setenv("FOLIO_OPENROUTER_API_KEY", "env-key")

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Proxy.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.Proxy.OpenRouterAPIKey)
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.strs["proxy.openrouter_api_key"] = "file-key"

	if _, err := loadWith(b, &mockKeychain{}); err == nil {
		t.Fatal("a key stored in the plain backend must not satisfy the requirement")
	}
}

func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemBackend(), &mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

func TestAPIKeyNotRequiredForOllama(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLIO_RESOLVER_BACKEND", "ollama")

	if _, err := loadWith(newMemBackend(), &mockKeychain{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLIO_PUBLISH_ENDPOINT", "minio.local:9000")
	kc := &mockKeychain{values: map[string]string{
		"folio/openrouter_api_key": "keychain-secret",
		"folio/publish_secret_key": "s3-secret",
	}}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "keychain-secret" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.Proxy.OpenRouterAPIKey)
	}
	if cfg.Publish.SecretKey != "s3-secret" {
		t.Errorf("Publish.SecretKey = %q", cfg.Publish.SecretKey)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad storage backend", map[string]string{"FOLIO_STORAGE_BACKEND": "postgres"}, "storage.backend"},
		{"bad resolver backend", map[string]string{"FOLIO_RESOLVER_BACKEND": "gpt"}, "resolver.backend"},
		{"bad resolve timeout", map[string]string{"FOLIO_RESOLVER_TIMEOUT": "soon"}, "resolver.timeout"},
		{"negative sync timeout", map[string]string{"FOLIO_SYNC_TIMEOUT": "-1s"}, "sync.timeout"},
		{"zero connections", map[string]string{"FOLIO_SERVER_MAX_CONNECTIONS": "0"}, "max_connections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("FOLIO_OPENROUTER_API_KEY", "k")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(newMemBackend(), &mockKeychain{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestGetAPIToken(t *testing.T) {
	kc := &mockKeychain{}
	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64", len(tok))
	}
	again, err := GetAPIToken(kc)
	if err != nil {
		t.Fatal(err)
	}
	if again != tok {
		t.Error("token should be stable once created")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()
	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatal(err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d", b.ints["server.port"])
	}
	if err := setKeyWith(b, "publish.use_ssl", "no"); err == nil {
		t.Error("expected bool parse error")
	}
	if err := setKeyWith(b, "publish.use_ssl", "false"); err != nil || b.strs["publish.use_ssl"] != "false" {
		t.Errorf("publish.use_ssl = %q, %v", b.strs["publish.use_ssl"], err)
	}
	if err := setKeyWith(b, "proxy.openrouter_api_key", "x"); err == nil {
		t.Error("secrets must not be settable")
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMemBackend()
	clearEnv(t)
	b.ints["server.port"] = 4200
	if err := unsetKeyWith(b, "server.port"); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(b, &mockKeychain{values: map[string]string{"folio/openrouter_api_key": "k"}})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want default after unset", cfg.Server.Port)
	}
	if err := unsetKeyWith(b, "proxy.openrouter_api_key"); err == nil {
		t.Error("secrets are not stored in the backend")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Proxy.OpenRouterAPIKey = "hidden"
	for _, k := range ShowAll(cfg) {
		if k.Value == "hidden" {
			t.Errorf("secret leaked via %s", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Error("ValidKeys and ShowAll should list the same keys")
	}
}
