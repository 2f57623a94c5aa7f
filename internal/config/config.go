package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the orchestration daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Memory   MemoryConfig   `yaml:"memory" mapstructure:"memory"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Agent    AgentConfig    `yaml:"agent" mapstructure:"agent"`
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// StorageConfig selects and configures the snapshot store backend.
type StorageConfig struct {
	Mode     string                `yaml:"mode" mapstructure:"mode"`
	Local    LocalStorageConfig    `yaml:"local" mapstructure:"local"`
	Postgres PostgresStorageConfig `yaml:"postgres" mapstructure:"postgres"`
}

// LocalStorageConfig configures the SQLite snapshot store.
type LocalStorageConfig struct {
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
}

// PostgresStorageConfig configures the PostgreSQL snapshot store.
type PostgresStorageConfig struct {
	DSN             string   `yaml:"dsn" mapstructure:"dsn"`
	Host            string   `yaml:"host" mapstructure:"host"`
	Port            int      `yaml:"port" mapstructure:"port"`
	Database        string   `yaml:"database" mapstructure:"database"`
	User            string   `yaml:"user" mapstructure:"user"`
	Password        string   `yaml:"password" mapstructure:"password"`
	SSLMode         string   `yaml:"sslmode" mapstructure:"sslmode"`
	MaxOpenConns    int      `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// MemoryConfig configures the observation/memory collaborator.
type MemoryConfig struct {
	// Persistent selects the Bolt-backed store; false selects the
	// in-process ephemeral store.
	Persistent       bool   `yaml:"persistent" mapstructure:"persistent"`
	Path             string `yaml:"path" mapstructure:"path"`
	MaxSearchResults int    `yaml:"max_search_results" mapstructure:"max_search_results"`
}

// LLMConfig configures the model provider client.
type LLMConfig struct {
	OllamaURL      string   `yaml:"ollama_url" mapstructure:"ollama_url"`
	TextModel      string   `yaml:"text_model" mapstructure:"text_model"`
	EmbeddingModel string   `yaml:"embedding_model" mapstructure:"embedding_model"`
	MaxTokens      int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64  `yaml:"temperature" mapstructure:"temperature"`
	Timeout        Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AgentConfig holds agent behavior settings.
type AgentConfig struct {
	Name             string `yaml:"name" mapstructure:"name"`
	SystemPrompt     string `yaml:"system_prompt" mapstructure:"system_prompt"`
	UseMemory        bool   `yaml:"use_memory" mapstructure:"use_memory"`
	UseTools         bool   `yaml:"use_tools" mapstructure:"use_tools"`
	MaxThinkingSteps int    `yaml:"max_thinking_steps" mapstructure:"max_thinking_steps"`
	MaxHistoryLength int    `yaml:"max_history_length" mapstructure:"max_history_length"`
}

// WorkflowConfig holds workflow engine settings.
type WorkflowConfig struct {
	EnableSuspendResume   bool `yaml:"enable_suspend_resume" mapstructure:"enable_suspend_resume"`
	AutoCheckpoint        bool `yaml:"auto_checkpoint" mapstructure:"auto_checkpoint"`
	CheckpointInterval    int  `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	MaxSnapshots          int  `yaml:"max_snapshots" mapstructure:"max_snapshots"`
	SnapshotRetentionDays int  `yaml:"snapshot_retention_days" mapstructure:"snapshot_retention_days"`
}

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the daemon's built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: Duration(time.Hour),
		},
		Storage: StorageConfig{
			Mode: "local",
			Local: LocalStorageConfig{
				DatabasePath: "data/agent.db",
			},
		},
		Memory: MemoryConfig{
			Persistent:       true,
			Path:             "data/memory.db",
			MaxSearchResults: 5,
		},
		LLM: LLMConfig{
			OllamaURL:      "http://localhost:11434",
			TextModel:      "llama3.2",
			EmbeddingModel: "nomic-embed-text",
			MaxTokens:      2048,
			Temperature:    0.7,
			Timeout:        Duration(60 * time.Second),
		},
		Agent: AgentConfig{
			Name:             "agent",
			SystemPrompt:     "You are a helpful AI assistant.",
			UseMemory:        true,
			UseTools:         true,
			MaxThinkingSteps: 10,
			MaxHistoryLength: 50,
		},
		Workflow: WorkflowConfig{
			EnableSuspendResume:   true,
			AutoCheckpoint:        false,
			CheckpointInterval:    5,
			MaxSnapshots:          100,
			SnapshotRetentionDays: 7,
		},
	}
}

// Load reads configuration from the given YAML file, layered over defaults
// and then over environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides mirrors the env override points supported in deployment.
func applyEnvOverrides(cfg *Config) {
	if mode := os.Getenv("AGENT_STORAGE_MODE"); mode != "" {
		cfg.Storage.Mode = mode
	}
	if url := os.Getenv("AGENT_OLLAMA_URL"); url != "" {
		cfg.LLM.OllamaURL = url
	}
	if port := os.Getenv("AGENT_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if dsn := os.Getenv("AGENT_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Storage.Mode {
	case "memory", "local", "postgres":
	default:
		return fmt.Errorf("unsupported storage mode: %s (supported modes: memory, local, postgres)", c.Storage.Mode)
	}
	if c.Storage.Mode == "local" && c.Storage.Local.DatabasePath == "" {
		return fmt.Errorf("storage.local.database_path is required in local mode")
	}
	if c.Agent.MaxThinkingSteps <= 0 {
		return fmt.Errorf("agent.max_thinking_steps must be positive, got %d", c.Agent.MaxThinkingSteps)
	}
	if c.Memory.Persistent && c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required when memory.persistent is true")
	}
	if c.Workflow.AutoCheckpoint && c.Workflow.CheckpointInterval <= 0 {
		return fmt.Errorf("workflow.checkpoint_interval must be positive when auto_checkpoint is enabled")
	}
	return nil
}
