// Package config provides application configuration with multi-source
// priority: environment variables override the config file
// (~/.luna/config.yaml), which overrides built-in defaults.
//
// Besides static settings (provider, model, PostgreSQL connection), the
// config file also carries two externally editable maps that the running
// service rewrites: the channel list and the per-topic persona expertise
// fragments. Writes go through SaveChannels under a file lock.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidChannelName indicates a configured channel name is empty.
	ErrInvalidChannelName = errors.New("invalid channel name")
)

// Provider identifiers used in Config.Provider. This is a closed set:
// component construction maps each tag to a concrete plugin in app.Setup,
// and Validate rejects anything else at load time.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
)

// Defaults for generation and retrieval.
const (
	// DefaultTemperature matches the fixed chat sampling temperature.
	DefaultTemperature = 0.4

	// DefaultChunkSize is the maximum passage size in bytes.
	DefaultChunkSize = 3000

	// DefaultCandidateK is the similarity-search candidate count.
	DefaultCandidateK = 20

	// DefaultRerankTopN is the rerank cut-off for streaming responses.
	DefaultRerankTopN = 5

	// DefaultWebSearchSite scopes the web-search directive.
	DefaultWebSearchSite = "arxiv.org"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host"`

	// Rerank (optional; empty API key disables reranking)
	CohereAPIKey string `mapstructure:"cohere_api_key"`
	RerankModel  string `mapstructure:"rerank_model"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Retrieval
	ChunkSize  int `mapstructure:"chunk_size"`
	CandidateK int `mapstructure:"candidate_k"`
	RerankTopN int `mapstructure:"rerank_top_n"`

	// Channels and persona expertise (externally editable)
	Channels string            `mapstructure:"channels"` // comma-separated
	Personas map[string]string `mapstructure:"personas"` // topic -> expertise fragment

	// HTTP server
	Addr string `mapstructure:"addr"`

	// Observability (empty disables trace export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// configFile is the resolved path of the file Load read, used by
	// SaveChannels. Empty when no file existed yet.
	configFile string
	configDir  string
}

// Dir returns the configuration directory (~/.luna).
func (c *Config) Dir() string { return c.configDir }

// ChannelList returns the configured channels in declaration order.
func (c *Config) ChannelList() []string {
	if strings.TrimSpace(c.Channels) == "" {
		return nil
	}
	parts := strings.Split(c.Channels, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Persona returns the expertise fragment for a topic, or "" when none is
// configured.
func (c *Config) Persona(topic string) string {
	return c.Personas[topic]
}

// Load reads configuration from ~/.luna/config.yaml (or ./config.yaml),
// applies LUNA_* environment overrides and defaults, and validates.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".luna")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("LUNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	cfg.configFile = v.ConfigFileUsed()
	cfg.configDir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("model_name", "gemini-2.5-flash")
	// text-embedding-004 produces 768-dim vectors, the dimensionality of
	// the passages.embedding column.
	v.SetDefault("embedder_model", "text-embedding-004")
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("rerank_model", "rerank-multilingual-v3.0")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "luna")
	v.SetDefault("postgres_password", "luna_dev_password")
	v.SetDefault("postgres_db_name", "luna")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("candidate_k", DefaultCandidateK)
	v.SetDefault("rerank_top_n", DefaultRerankTopN)

	v.SetDefault("channels", "general,vrp,python")

	v.SetDefault("addr", "127.0.0.1:5050")
}

// Validate checks configuration consistency. Called by Load; exported for
// callers that build a Config by hand.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGoogleAI, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (supported: googleai, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0, 2])", ErrInvalidTemperature, c.Temperature)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	for _, ch := range c.ChannelList() {
		if strings.TrimSpace(ch) == "" {
			return ErrInvalidChannelName
		}
	}

	return nil
}

// FullModelName returns the provider-qualified model name used by Genkit
// lookups (e.g. "googleai/gemini-2.5-flash").
func (c *Config) FullModelName() string {
	return c.Provider + "/" + c.ModelName
}

// FullEmbedderName returns the provider-qualified embedder name.
func (c *Config) FullEmbedderName() string {
	return c.Provider + "/" + c.EmbedderModel
}
