package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Provider names accepted in Config.Provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// OpenAIConfig holds settings for OpenAI-compatible backends (LocalAI,
// LM Studio, vLLM and friends expose the same chat completions surface).
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// Config represents application configuration
type Config struct {
	ListenAddr   string       `json:"listen_addr"`
	RedisURL     string       `json:"redis_url"`
	Provider     string       `json:"provider"`
	OllamaURL    string       `json:"ollama_url"`
	Model        string       `json:"model"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	OpenAI       OpenAIConfig `json:"openai,omitempty"`
	PprofAddr    string       `json:"pprof_addr,omitempty"`
	PidFile      string       `json:"pid_file,omitempty"`
	LogLevel     string       `json:"log_level"` // debug, info, warn, error, none
	LogPath      string       `json:"-"`
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "chatrelay")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "chatrelay")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "chatrelay")
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(defaultStateDir(), "config.json")
	}
	return filepath.Join(dir, "chatrelay", "config.json")
}

// DefaultConfig returns a config populated with working local defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "localhost:8000",
		RedisURL:   "redis://localhost:6379/0",
		Provider:   ProviderOllama,
		OllamaURL:  "http://localhost:11434",
		Model:      "llama2",
		LogLevel:   "info",
	}
}

// Load reads configuration from path, overlaying it on DefaultConfig and then
// applying environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		// Unmarshal into default config (overrides only provided fields)
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "chatrelay.log")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides lets deploy environments override file settings.
func applyEnvOverrides(config *Config) {
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_ADDR")); v != "" {
		config.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_REDIS_URL")); v != "" {
		config.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_PROVIDER")); v != "" {
		config.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_OLLAMA_URL")); v != "" {
		config.OllamaURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_MODEL")); v != "" {
		config.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_PPROF_ADDR")); v != "" {
		config.PprofAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_PID_FILE")); v != "" {
		config.PidFile = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_LOG_LEVEL")); v != "" {
		config.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_LOG_PATH")); v != "" {
		config.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_OPENAI_API_KEY")); v != "" {
		config.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_OPENAI_BASE_URL")); v != "" {
		config.OpenAI.BaseURL = v
	}
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q (expected %q or %q)", c.Provider, ProviderOllama, ProviderOpenAI)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
