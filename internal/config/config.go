// Package config loads the gateway configuration from an optional YAML file
// and from environment variables. Environment variables always win.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	Hub     HubConfig     `mapstructure:"hub"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// RequestTimeout bounds a single request. Zero disables the deadline,
	// which is the default: generation time scales with max_tokens and the
	// client owns the tradeoff.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxBodyBytes caps the request body. Zero means unbounded.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// ModelConfig identifies the model to serve.
type ModelConfig struct {
	// Repo is the Hugging Face repo id, e.g. "Qwen/Qwen2.5-0.5B-Instruct-GGUF".
	Repo string `mapstructure:"repo"`

	// CacheDir is where the snapshot lives on disk. Empty derives
	// "models/<repo with slashes replaced>" relative to the working directory.
	CacheDir string `mapstructure:"cache_dir"`

	// File is a glob selecting which repo files to download and which GGUF
	// weight file to load. Empty downloads everything.
	File string `mapstructure:"file"`

	// Revision is the repo revision to resolve, usually "main".
	Revision string `mapstructure:"revision"`
}

// HubConfig controls access to the Hugging Face hub.
type HubConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// RuntimeConfig controls the llama-server child process.
type RuntimeConfig struct {
	// Binary is the llama-server executable, looked up on PATH when relative.
	Binary string `mapstructure:"binary"`

	// CtxSize is the context window passed to the runtime.
	CtxSize int `mapstructure:"ctx_size"`

	// Threads is the CPU thread count. Zero lets the runtime decide.
	Threads int `mapstructure:"threads"`

	// HealthTimeout bounds how long startup waits for the runtime to
	// finish loading the model.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

// CacheConfig controls the deterministic-reply cache.
type CacheConfig struct {
	// Backend selects the cache implementation: "off", "memory" or "redis".
	Backend string `mapstructure:"backend"`

	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
}

// envBindings maps config keys to the environment variables that set them.
// The variable names are part of the public configuration surface.
var envBindings = map[string]string{
	"server.host":            "HOST",
	"server.port":            "PORT",
	"server.request_timeout": "REQUEST_TIMEOUT",
	"server.max_body_bytes":  "MAX_BODY_BYTES",
	"model.repo":             "MODEL_REPO",
	"model.cache_dir":        "MODEL_CACHE_DIR",
	"model.file":             "MODEL_FILE",
	"model.revision":         "MODEL_REVISION",
	"hub.endpoint":           "HF_ENDPOINT",
	"hub.token":              "HF_TOKEN",
	"runtime.binary":         "LLAMA_SERVER_BIN",
	"runtime.ctx_size":       "RUNTIME_CTX_SIZE",
	"runtime.threads":        "RUNTIME_THREADS",
	"runtime.health_timeout": "RUNTIME_HEALTH_TIMEOUT",
	"cache.backend":          "CACHE_BACKEND",
	"cache.ttl":              "CACHE_TTL",
	"cache.redis_addr":       "REDIS_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", time.Duration(0))
	v.SetDefault("server.max_body_bytes", int64(0))

	v.SetDefault("model.repo", "Qwen/Qwen2.5-0.5B-Instruct-GGUF")
	v.SetDefault("model.cache_dir", "")
	v.SetDefault("model.file", "*q4_k_m.gguf")
	v.SetDefault("model.revision", "main")

	v.SetDefault("hub.endpoint", "https://huggingface.co")
	v.SetDefault("hub.token", "")

	v.SetDefault("runtime.binary", "llama-server")
	v.SetDefault("runtime.ctx_size", 4096)
	v.SetDefault("runtime.threads", 0)
	v.SetDefault("runtime.health_timeout", 2*time.Minute)

	v.SetDefault("cache.backend", "off")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis_addr", "localhost:6379")
}

// Load reads the configuration. When cfgFile is non-empty it must exist;
// otherwise a config.yaml next to the binary is picked up if present, and
// missing files are fine.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Model.Repo == "" {
		return fmt.Errorf("model repo must not be empty")
	}
	switch c.Cache.Backend {
	case "off", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache backend %q, must be off/memory/redis", c.Cache.Backend)
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ModelDir resolves where the model snapshot is stored. An explicit cache
// dir wins; the default mirrors the repo id with slashes flattened so two
// repos never collide on disk.
func (c *Config) ModelDir() string {
	if c.Model.CacheDir != "" {
		return c.Model.CacheDir
	}
	return filepath.Join("models", strings.ReplaceAll(c.Model.Repo, "/", "_"))
}
