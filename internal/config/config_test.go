package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "local", cfg.Storage.Mode)
	require.Equal(t, 10, cfg.Agent.MaxThinkingSteps)
	require.True(t, cfg.Workflow.EnableSuspendResume)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
  request_timeout: 30s
storage:
  mode: memory
llm:
  text_model: mistral
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Mode)
	require.Equal(t, "mistral", cfg.LLM.TextModel)
	require.Equal(t, 30*time.Second, cfg.Server.RequestTimeout.Std())
	// Untouched sections keep their defaults.
	require.Equal(t, "nomic-embed-text", cfg.LLM.EmbeddingModel)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  mode: local
server:
  port: 9090
`)
	t.Setenv("AGENT_STORAGE_MODE", "memory")
	t.Setenv("AGENT_PORT", "7070")
	t.Setenv("AGENT_OLLAMA_URL", "http://ollama:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Mode)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "http://ollama:11434", cfg.LLM.OllamaURL)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown storage mode", func(c *Config) { c.Storage.Mode = "redis" }},
		{"local mode without path", func(c *Config) {
			c.Storage.Mode = "local"
			c.Storage.Local.DatabasePath = ""
		}},
		{"non-positive thinking budget", func(c *Config) { c.Agent.MaxThinkingSteps = 0 }},
		{"persistent memory without path", func(c *Config) {
			c.Memory.Persistent = true
			c.Memory.Path = ""
		}},
		{"auto checkpoint without interval", func(c *Config) {
			c.Workflow.AutoCheckpoint = true
			c.Workflow.CheckpointInterval = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`1m30s`), &d))
	require.Equal(t, 90*time.Second, d.Std())

	out, err := yaml.Marshal(Duration(45 * time.Second))
	require.NoError(t, err)
	require.Equal(t, "45s\n", string(out))
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	require.Error(t, yaml.Unmarshal([]byte(`soon`), &d))
}
