// Package config loads service configuration from defaults, a TOML config
// file, and DOCCHAT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ollama  OllamaConfig  `toml:"ollama"`
	Storage StorageConfig `toml:"storage"`
	Auth    AuthConfig    `toml:"auth"`
	Client  ClientConfig  `toml:"client"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type OllamaConfig struct {
	BaseURL    string `toml:"base_url"`
	ChatModel  string `toml:"chat_model"`
	EmbedModel string `toml:"embed_model"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
	BlobDir string `toml:"blob_dir"`
}

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string `toml:"tokens"`
}

// ClientConfig is what the CLI client commands use to reach a server.
type ClientConfig struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Addr: ":4000",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			BlobDir: filepath.Join(dataDir, "blobs"),
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:4000",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory (if
// present), the TOML file at $XDG_CONFIG_HOME/docchat/config.toml, and
// DOCCHAT_* environment variables. Environment overrides the file.
func Load() (Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()
	return loadFrom(configPath(), os.Getenv)
}

func loadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg, getenv)

	if cfg.Auth.Tokens == nil {
		cfg.Auth.Tokens = map[string]string{}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("DOCCHAT_ADDR", &cfg.Server.Addr)
	set("DOCCHAT_OLLAMA_URL", &cfg.Ollama.BaseURL)
	set("DOCCHAT_CHAT_MODEL", &cfg.Ollama.ChatModel)
	set("DOCCHAT_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	set("DOCCHAT_DATA_DIR", &cfg.Storage.DataDir)
	set("DOCCHAT_BLOB_DIR", &cfg.Storage.BlobDir)
	set("DOCCHAT_SERVER_URL", &cfg.Client.ServerURL)
	set("DOCCHAT_TOKEN", &cfg.Client.Token)
	set("DOCCHAT_LOG_LEVEL", &cfg.Log.Level)

	// A token provided through the environment also authenticates against
	// this server instance, as the user named by DOCCHAT_USER.
	if token := getenv("DOCCHAT_TOKEN"); token != "" {
		user := getenv("DOCCHAT_USER")
		if user == "" {
			user = "local"
		}
		if cfg.Auth.Tokens == nil {
			cfg.Auth.Tokens = map[string]string{}
		}
		cfg.Auth.Tokens[token] = user
	}
}

// configPath resolves $XDG_CONFIG_HOME/docchat/config.toml, falling back
// to ~/.config.
func configPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "docchat", "config.toml")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "docchat-data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "docchat")
}

// LogLevel parses the configured level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
