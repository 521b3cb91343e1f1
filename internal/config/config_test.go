package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadFrom("", envMap(nil))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Server.Addr != ":4000" {
		t.Errorf("Addr = %q, want :4000", cfg.Server.Addr)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Auth.Tokens == nil {
		t.Error("Tokens map is nil")
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel())
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[server]
addr = ":9999"

[ollama]
chat_model = "llama3.1"

[auth]
tokens = { "secret-1" = "alice" }

[log]
level = "debug"
`)

	cfg, err := loadFrom(path, envMap(nil))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Ollama.ChatModel != "llama3.1" {
		t.Errorf("ChatModel = %q, want llama3.1", cfg.Ollama.ChatModel)
	}
	// Untouched fields keep their defaults.
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("EmbedModel = %q, want default", cfg.Ollama.EmbedModel)
	}
	if cfg.Auth.Tokens["secret-1"] != "alice" {
		t.Errorf("Tokens = %v, want secret-1 -> alice", cfg.Auth.Tokens)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
addr = ":9999"
`)

	cfg, err := loadFrom(path, envMap(map[string]string{
		"DOCCHAT_ADDR":       ":5000",
		"DOCCHAT_OLLAMA_URL": "http://model-host:11434",
	}))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Server.Addr != ":5000" {
		t.Errorf("Addr = %q, want env override :5000", cfg.Server.Addr)
	}
	if cfg.Ollama.BaseURL != "http://model-host:11434" {
		t.Errorf("BaseURL = %q, want env override", cfg.Ollama.BaseURL)
	}
}

func TestEnvTokenRegistersUser(t *testing.T) {
	cfg, err := loadFrom("", envMap(map[string]string{
		"DOCCHAT_TOKEN": "env-secret",
	}))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Client.Token != "env-secret" {
		t.Errorf("Client.Token = %q", cfg.Client.Token)
	}
	if cfg.Auth.Tokens["env-secret"] != "local" {
		t.Errorf("Tokens[env-secret] = %q, want local", cfg.Auth.Tokens["env-secret"])
	}

	cfg, err = loadFrom("", envMap(map[string]string{
		"DOCCHAT_TOKEN": "env-secret",
		"DOCCHAT_USER":  "alice",
	}))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Auth.Tokens["env-secret"] != "alice" {
		t.Errorf("Tokens[env-secret] = %q, want alice", cfg.Auth.Tokens["env-secret"])
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadFrom(filepath.Join(t.TempDir(), "nope.toml"), envMap(nil))
	if err != nil {
		t.Fatalf("loadFrom with missing file: %v", err)
	}
	if cfg.Server.Addr != ":4000" {
		t.Errorf("Addr = %q, want default", cfg.Server.Addr)
	}
}

func TestMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `this is not toml = = =`)
	if _, err := loadFrom(path, envMap(nil)); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}
