package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Resolver ResolverConfig
	Proxy    ProxyConfig
	Sync     SyncConfig
	Publish  PublishConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Backend  string
	DataDir  string
	RedisURL string
}

type ResolverConfig struct {
	Backend       string
	Model         string
	Timeout       string
	OllamaBaseURL string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
}

type SyncConfig struct {
	Timeout string
}

type PublishConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	BaseURL   string
}

const (
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			MaxConnections: 64,
		},
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend:  BackendSQLite,
			DataDir:  defaultDataDir(),
			RedisURL: "redis://localhost:6379/0",
		},
		Resolver: ResolverConfig{
			Backend:       BackendOpenRouter,
			Model:         "google/gemini-2.0-flash-001",
			Timeout:       "60s",
			OllamaBaseURL: "http://localhost:11434",
		},
		Sync: SyncConfig{Timeout: "15s"},
		Publish: PublishConfig{
			Bucket:  "folio-sites",
			UseSSL:  true,
			BaseURL: "https://folio.example.app/p",
		},
	}
}

// ResolveTimeout parses Resolver.Timeout.
func (c Config) ResolveTimeout() (time.Duration, error) {
	return parseDuration("resolver.timeout", c.Resolver.Timeout)
}

// SyncTimeout parses Sync.Timeout.
func (c Config) SyncTimeout() (time.Duration, error) {
	return parseDuration("sync.timeout", c.Sync.Timeout)
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

// Load reads configuration from the platform-native backend, a local .env
// file, environment variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.folio.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/folio/config.json
// and secrets come from environment variables or the secrets file.
//
// Environment variables (FOLIO_*) override backend values on all platforms.
func Load() (Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const keychainService = "folio"

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.OpenRouterAPIKey == "" {
		if key, err := kc.Get(keychainService, "openrouter_api_key"); err == nil && key != "" {
			cfg.Proxy.OpenRouterAPIKey = key
		}
	}
	if cfg.Publish.SecretKey == "" && cfg.Publish.Endpoint != "" {
		if key, err := kc.Get(keychainService, "publish_secret_key"); err == nil && key != "" {
			cfg.Publish.SecretKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("invalid storage.backend %q: want %q or %q", c.Storage.Backend, BackendSQLite, BackendRedis)
	}

	switch c.Resolver.Backend {
	case BackendOpenRouter:
		if c.Proxy.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. "+
				"Set it via environment variable FOLIO_OPENROUTER_API_KEY%s, "+
				"or set resolver.backend to %q", apiKeyHint(), BackendOllama)
		}
	case BackendOllama:
	default:
		return fmt.Errorf("invalid resolver.backend %q: want %q or %q", c.Resolver.Backend, BackendOpenRouter, BackendOllama)
	}

	if _, err := c.ResolveTimeout(); err != nil {
		return err
	}
	if _, err := c.SyncTimeout(); err != nil {
		return err
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be at least 1, got %d", c.Server.MaxConnections)
	}
	return nil
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the local API, creating and
// storing a random one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, "api_token"); err == nil && tok != "" {
		return tok, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
