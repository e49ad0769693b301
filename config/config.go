// Package config loads memcore settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// environment variables with the MEMCORE_ prefix. Command-line flags are
// applied last by the CLI.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = goerr.New("invalid configuration")

// Config holds all memcore settings.
type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	// LogUserText logs utterances and memory text verbatim instead of their
	// length.
	LogUserText bool `yaml:"log_user_text"`

	Memory    MemoryConfig    `yaml:"memory"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Server    ServerConfig    `yaml:"server"`
	Responder ResponderConfig `yaml:"responder"`
}

// MemoryConfig tunes the store, retrieval and deletion policy.
type MemoryConfig struct {
	// Path is the prefix shared by the two persistence files
	// (Path + ".index" and Path + ".db").
	Path string `yaml:"path"`

	// Dimensions is the vector size used when no embedder is available.
	// With an embedder the embedder's own size wins.
	Dimensions int `yaml:"dimensions"`

	RetrieveTopK      int     `yaml:"retrieve_top_k"`
	RetrieveThreshold float64 `yaml:"retrieve_threshold"`
	DeleteThreshold   float64 `yaml:"delete_threshold"`
	RecentHours       int     `yaml:"recent_hours"`

	// CompactAfter is how many single-id deletions may pile up before the
	// index is rebuilt.
	CompactAfter int `yaml:"compact_after"`

	ListLimit int   `yaml:"list_limit"`
	Seed      int64 `yaml:"seed"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	// Provider is one of "onnx", "ollama", "openai", "mock" or "none".
	Provider string `yaml:"provider"`

	// Model is the remote embedding model. Empty uses the provider default.
	Model string `yaml:"model"`

	// onnx
	ModelPath         string `yaml:"model_path"`
	TokenizerPath     string `yaml:"tokenizer_path"`
	SharedLibraryPath string `yaml:"shared_library_path"`

	// Dimensions is the provider's vector size. Zero lets remote providers
	// report it and onnx use 384.
	Dimensions int `yaml:"dimensions"`

	// ollama / openai
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"-"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// CacheCost is the ristretto budget in bytes of cached vectors. Zero
	// disables the cache.
	CacheCost int64 `yaml:"cache_cost"`
}

// ServerConfig configures the websocket front door.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// AllowedOrigins lists the browser origins accepted on /ws. Requests
	// without an Origin header are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ResponderConfig configures the optional reply generator used by the CLI.
type ResponderConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
	APIKey    string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Memory: MemoryConfig{
			Path:              "chatbot_memory",
			Dimensions:        384,
			RetrieveTopK:      3,
			RetrieveThreshold: 0.6,
			DeleteThreshold:   0.7,
			RecentHours:       24,
			CompactAfter:      10,
			ListLimit:         10,
			Seed:              1,
		},
		Embedder: EmbedderConfig{
			Provider:          "ollama",
			RequestsPerSecond: 10,
			CacheCost:         8 << 20,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Responder: ResponderConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if path is not
// empty) and with environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
			*dst = v
		}
	}

	setString("MEMCORE_LOG_LEVEL", &c.LogLevel)
	setString("MEMCORE_LOG_FORMAT", &c.LogFormat)
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv("MEMCORE_LOG_USER_TEXT"))); err == nil {
		c.LogUserText = v
	}

	setString("MEMCORE_MEMORY_PATH", &c.Memory.Path)
	setInt("MEMCORE_MEMORY_DIMENSIONS", &c.Memory.Dimensions)
	setInt("MEMCORE_RETRIEVE_TOP_K", &c.Memory.RetrieveTopK)
	setFloat("MEMCORE_RETRIEVE_THRESHOLD", &c.Memory.RetrieveThreshold)
	setFloat("MEMCORE_DELETE_THRESHOLD", &c.Memory.DeleteThreshold)
	setInt("MEMCORE_COMPACT_AFTER", &c.Memory.CompactAfter)

	setString("MEMCORE_EMBEDDER_PROVIDER", &c.Embedder.Provider)
	setString("MEMCORE_EMBEDDER_MODEL", &c.Embedder.Model)
	setString("MEMCORE_EMBEDDER_MODEL_PATH", &c.Embedder.ModelPath)
	setString("MEMCORE_EMBEDDER_TOKENIZER_PATH", &c.Embedder.TokenizerPath)
	setString("MEMCORE_ONNXRUNTIME_LIB", &c.Embedder.SharedLibraryPath)
	setString("MEMCORE_EMBEDDER_BASE_URL", &c.Embedder.BaseURL)
	setString("OLLAMA_HOST", &c.Embedder.BaseURL)
	setString("OPENAI_API_KEY", &c.Embedder.APIKey)
	setString("MEMCORE_EMBEDDER_API_KEY", &c.Embedder.APIKey)

	setString("MEMCORE_SERVER_ADDR", &c.Server.Addr)

	setString("MEMCORE_RESPONDER_MODEL", &c.Responder.Model)
	setString("ANTHROPIC_API_KEY", &c.Responder.APIKey)
}

// Validate rejects settings the store cannot run with.
func (c *Config) Validate() error {
	m := c.Memory
	switch {
	case m.Path == "":
		return goerr.Wrap(ErrInvalidConfig, "memory.path is empty")
	case m.Dimensions <= 0:
		return goerr.Wrap(ErrInvalidConfig, "memory.dimensions must be positive", goerr.V("dimensions", m.Dimensions))
	case m.RetrieveTopK <= 0:
		return goerr.Wrap(ErrInvalidConfig, "memory.retrieve_top_k must be positive", goerr.V("top_k", m.RetrieveTopK))
	case m.RetrieveThreshold < -1 || m.RetrieveThreshold > 1:
		return goerr.Wrap(ErrInvalidConfig, "memory.retrieve_threshold out of range", goerr.V("threshold", m.RetrieveThreshold))
	case m.DeleteThreshold < -1 || m.DeleteThreshold > 1:
		return goerr.Wrap(ErrInvalidConfig, "memory.delete_threshold out of range", goerr.V("threshold", m.DeleteThreshold))
	case m.RecentHours <= 0:
		return goerr.Wrap(ErrInvalidConfig, "memory.recent_hours must be positive", goerr.V("hours", m.RecentHours))
	case m.CompactAfter <= 0:
		return goerr.Wrap(ErrInvalidConfig, "memory.compact_after must be positive", goerr.V("compact_after", m.CompactAfter))
	}

	switch strings.ToLower(c.LogFormat) {
	case "console", "json", "":
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown log format", goerr.V("format", c.LogFormat))
	}

	switch c.Embedder.Provider {
	case "onnx", "ollama", "openai", "mock", "none", "":
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown embedder provider", goerr.V("provider", c.Embedder.Provider))
	}
	return nil
}
