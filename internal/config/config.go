package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "ragsync/internal/errors"
)

// SourcesConfig names where documents come from.
type SourcesConfig struct {
	PDFDir   string `yaml:"pdf_dir"`
	Pattern  string `yaml:"pattern"`
	URLsFile string `yaml:"urls_file"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions,omitempty"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type HashingEmbedderConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

type OpenAILLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// LLMConfig selects the answer generator. "extractive" answers offline
// by picking sentences from the retrieved context.
type LLMConfig struct {
	Type         string           `yaml:"type"`
	Prompt       string           `yaml:"prompt,omitempty"`
	MaxSentences int              `yaml:"max_sentences,omitempty"`
	OpenAI       *OpenAILLMConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PineconeConfig contains connection details for a serverless Pinecone index.
type PineconeConfig struct {
	APIKeyEnv   string `yaml:"api_key_env"`
	Index       string `yaml:"index"`
	Host        string `yaml:"host,omitempty"`
	Cloud       string `yaml:"cloud"`
	Region      string `yaml:"region"`
	Namespace   string `yaml:"namespace,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SyncConfig tunes reconciliation runs.
type SyncConfig struct {
	ReplaceOnUpdate bool   `yaml:"replace_on_update"`
	Parallelism     int    `yaml:"parallelism"`
	CallTimeoutSecs int    `yaml:"call_timeout_secs"`
	ScanLimit       int    `yaml:"scan_limit"`
	LockFile        string `yaml:"lock_file"`
	WatchDebounceMS int    `yaml:"watch_debounce_ms"`
}

type QueryConfig struct {
	TopK      int `yaml:"top_k"`
	CacheSize int `yaml:"cache_size"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Sources     SourcesConfig     `yaml:"sources"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Sync        SyncConfig        `yaml:"sync"`
	Query       QueryConfig       `yaml:"query"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "reading config", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "parsing config "+path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./ragsync.yaml first, then ~/.config/ragsync/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragsync/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "ragsync.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadEnv loads .env from the working directory. A missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return apperrors.New(apperrors.ErrCodeConfigInvalid, "loading "+f, err)
		}
	}
	return nil
}

// Credential reads the secret held in the named environment variable.
func Credential(envName string) (string, error) {
	if envName == "" {
		return "", nil
	}
	v := strings.TrimSpace(os.Getenv(envName))
	if v == "" {
		return "", apperrors.New(apperrors.ErrCodeMissingCredential,
			fmt.Sprintf("environment variable %s is not set", envName), nil)
	}
	return v, nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragsync", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Sources:     SourcesConfig{PDFDir: "./pdfs", Pattern: "*.pdf", URLsFile: "urls.txt"},
		Chunker:     ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Embedder:    EmbedderConfig{Type: "openai"},
		LLM:         LLMConfig{Type: "openai"},
		VectorStore: VectorStoreConfig{Type: "pinecone"},
		Sync:        SyncConfig{ReplaceOnUpdate: true},
		Server:      ServerConfig{Addr: ":3000"},
		Logging:     LoggingConfig{Level: "info", Format: "auto"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Sources.Pattern == "" {
		cfg.Sources.Pattern = "*.pdf"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	switch cfg.Embedder.Type {
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-large"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 64
		}
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimensions == 0 {
			cfg.Embedder.Hashing.Dimensions = 384
		}
	}
	switch cfg.LLM.Type {
	case "openai":
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAILLMConfig{}
		}
		o := cfg.LLM.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	case "extractive":
		if cfg.LLM.MaxSentences == 0 {
			cfg.LLM.MaxSentences = 3
		}
	}
	switch cfg.VectorStore.Type {
	case "sqlite":
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = filepath.Join(".ragsync", "index.db")
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "marketo"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	case "pinecone":
		if cfg.VectorStore.Pinecone == nil {
			cfg.VectorStore.Pinecone = &PineconeConfig{}
		}
		p := cfg.VectorStore.Pinecone
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "PINECONE_API_KEY"
		}
		if p.Index == "" {
			p.Index = "marketo"
		}
		if p.Cloud == "" {
			p.Cloud = "aws"
		}
		if p.Region == "" {
			p.Region = "us-east-1"
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = 30
		}
	}
	if cfg.Sync.Parallelism == 0 {
		cfg.Sync.Parallelism = 4
	}
	if cfg.Sync.CallTimeoutSecs == 0 {
		cfg.Sync.CallTimeoutSecs = 60
	}
	if cfg.Sync.ScanLimit == 0 {
		cfg.Sync.ScanLimit = 10000
	}
	if cfg.Sync.LockFile == "" {
		cfg.Sync.LockFile = filepath.Join(".ragsync", "sync.lock")
	}
	if cfg.Sync.WatchDebounceMS == 0 {
		cfg.Sync.WatchDebounceMS = 500
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 1
	}
	if cfg.Query.CacheSize == 0 {
		cfg.Query.CacheSize = 256
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
}

// Validate reports every setting that cannot produce a working pipeline.
func (c *AppConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, apperrors.New(apperrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil))
	}
	if strings.TrimSpace(c.Sources.PDFDir) == "" {
		bad("sources.pdf_dir must be set")
	}
	if c.Chunker.ChunkSize <= 0 {
		bad("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		bad("chunker.chunk_overlap must be in [0, chunk_size), got %d", c.Chunker.ChunkOverlap)
	}
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		bad("unknown embedder type %q", c.Embedder.Type)
	}
	switch c.LLM.Type {
	case "openai", "extractive":
	default:
		bad("unknown llm type %q", c.LLM.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite", "qdrant", "pinecone":
	default:
		bad("unknown vector store type %q", c.VectorStore.Type)
	}
	if c.Sync.Parallelism < 0 {
		bad("sync.parallelism must not be negative")
	}
	if c.Query.TopK < 0 {
		bad("query.top_k must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "text", "json":
	default:
		bad("unknown logging format %q", c.Logging.Format)
	}
	return errors.Join(errs...)
}
