package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FOLIO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "FOLIO_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "log.level", typ: kString, env: "FOLIO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.backend", typ: kString, env: "FOLIO_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FOLIO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.redis_url", typ: kString, env: "FOLIO_STORAGE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisURL },
	},
	{
		key: "resolver.backend", typ: kString, env: "FOLIO_RESOLVER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.Backend },
	},
	{
		key: "resolver.model", typ: kString, env: "FOLIO_RESOLVER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.Model },
	},
	{
		key: "resolver.timeout", typ: kString, env: "FOLIO_RESOLVER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.Timeout },
	},
	{
		key: "resolver.ollama_base_url", typ: kString, env: "FOLIO_RESOLVER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Resolver.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.OllamaBaseURL },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "FOLIO_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "sync.timeout", typ: kString, env: "FOLIO_SYNC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Timeout },
	},
	{
		key: "publish.endpoint", typ: kString, env: "FOLIO_PUBLISH_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Publish.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.Endpoint },
	},
	{
		key: "publish.bucket", typ: kString, env: "FOLIO_PUBLISH_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Publish.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.Bucket },
	},
	{
		key: "publish.access_key", typ: kString, env: "FOLIO_PUBLISH_ACCESS_KEY",
		apply:   func(cfg *Config, v any) { cfg.Publish.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.AccessKey },
	},
	{
		key: "publish.secret_key", typ: kString, env: "FOLIO_PUBLISH_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Publish.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.SecretKey },
	},
	{
		key: "publish.use_ssl", typ: kBool, env: "FOLIO_PUBLISH_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.Publish.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.Publish.UseSSL },
	},
	{
		key: "publish.base_url", typ: kString, env: "FOLIO_PUBLISH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Publish.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.BaseURL },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
