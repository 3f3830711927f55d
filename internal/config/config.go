package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Graph      GraphConfig      `json:"graph"`
	Memory     MemoryConfig     `json:"memory"`
	Timeouts   TimeoutConfig    `json:"timeouts"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Summarizer SummarizerConfig `json:"summarizer"`
	Database   DatabaseConfig   `json:"database"`
	Events     EventsConfig     `json:"events"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// StorageConfig selects the vector index backing memories and episodes.
type StorageConfig struct {
	Backend           string `json:"backend"` // "chromem" or "qdrant"
	Path              string `json:"path"`
	Collection        string `json:"collection"`
	EpisodeCollection string `json:"episode_collection"`
	Compress          bool   `json:"compress"`
}

// GraphConfig selects where memory links are persisted.
type GraphConfig struct {
	Backend string `json:"backend"` // "file", "neo4j" or "postgres"
	Path    string `json:"path"`
}

type MemoryConfig struct {
	AutoLinkThreshold     float64 `json:"auto_link_threshold"`
	AutoLinkMax           int     `json:"auto_link_max"`
	WorkingMemoryCapacity int     `json:"working_memory_capacity"`
	CacheSize             int     `json:"cache_size"`
}

// TimeoutConfig bounds calls to the embedding and index dependencies, in milliseconds.
type TimeoutConfig struct {
	EmbedMS int `json:"embed_ms"`
	IndexMS int `json:"index_ms"`
}

func (t TimeoutConfig) Embed() time.Duration { return time.Duration(t.EmbedMS) * time.Millisecond }
func (t TimeoutConfig) Index() time.Duration { return time.Duration(t.IndexMS) * time.Millisecond }

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "hashing", "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// SummarizerConfig points at an OpenAI-compatible chat endpoint used for episode summaries.
// An empty endpoint keeps the built-in concatenating summarizer.
type SummarizerConfig struct {
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	TimeoutMS int    `json:"timeout_ms"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig controls the best-effort memory event stream.
type EventsConfig struct {
	Enabled bool   `json:"enabled"`
	Stream  string `json:"stream"`
}

// Default returns a configuration that runs fully offline: embedded chromem index,
// file-backed links and the hashing embedder.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".claude", "memories")
	return &Config{
		Server: ServerConfig{Port: 3210, LogLevel: "debug"},
		Storage: StorageConfig{
			Backend:           "chromem",
			Path:              filepath.Join(base, "chromem"),
			Collection:        "claude_memories",
			EpisodeCollection: "episodes",
		},
		Graph: GraphConfig{
			Backend: "file",
			Path:    filepath.Join(base, "links.jsonl"),
		},
		Memory: MemoryConfig{
			AutoLinkThreshold:     0.8,
			AutoLinkMax:           5,
			WorkingMemoryCapacity: 20,
			CacheSize:             1000,
		},
		Timeouts:  TimeoutConfig{EmbedMS: 10000, IndexMS: 5000},
		Embedding: EmbeddingConfig{Provider: "hashing", Dimension: 256},
		Summarizer: SummarizerConfig{
			TimeoutMS: 30000,
		},
		Database: DatabaseConfig{
			Redis:  RedisConfig{URL: "redis://localhost:6379"},
			Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		},
		Events: EventsConfig{Stream: "memory:events"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over Default() and substitutes environment variable
// references. A missing file is not an error: defaults plus MEMORY_* overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := json.Unmarshal([]byte(substituteEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Graph.Path = expandHome(cfg.Graph.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// substituteEnv replaces ${VAR} and ${VAR:default} with environment values.
func substituteEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// applyEnv honours the environment variables the memory server has always read.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MEMORY_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MEMORY_COLLECTION_NAME"); v != "" {
		cfg.Storage.Collection = v
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate rejects settings the memory subsystem cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.Collection == "" || c.Storage.EpisodeCollection == "" {
		errs = append(errs, errors.New("storage collections must be named"))
	}
	if c.Storage.Collection == c.Storage.EpisodeCollection {
		errs = append(errs, errors.New("memory and episode collections must differ"))
	}
	switch c.Graph.Backend {
	case "file":
		if c.Graph.Path == "" {
			errs = append(errs, errors.New("graph.path is required for the file backend"))
		}
	case "neo4j":
		if c.Database.Neo4j.URI == "" {
			errs = append(errs, errors.New("database.neo4j.uri is required for the neo4j graph backend"))
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("database.postgres.dsn is required for the postgres graph backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown graph backend %q", c.Graph.Backend))
	}
	if c.Memory.AutoLinkThreshold <= 0 || c.Memory.AutoLinkThreshold > 2 {
		errs = append(errs, fmt.Errorf("auto_link_threshold %.3f outside (0, 2]", c.Memory.AutoLinkThreshold))
	}
	if c.Memory.AutoLinkMax < 1 {
		errs = append(errs, errors.New("auto_link_max must be at least 1"))
	}
	if c.Memory.WorkingMemoryCapacity < 1 {
		errs = append(errs, errors.New("working_memory_capacity must be at least 1"))
	}
	if c.Timeouts.EmbedMS <= 0 || c.Timeouts.IndexMS <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	switch c.Embedding.Provider {
	case "hashing", "api", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	return errors.Join(errs...)
}
