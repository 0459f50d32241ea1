package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Database DatabaseConfig `toml:"database"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Policy   PolicyConfig   `toml:"policy"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	// RPM and TPM bound the request and token rate against the backend.
	// Zero disables the corresponding limit.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"` // "sqlite" or "postgres"
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type RuntimeConfig struct {
	SystemPrompt     string `toml:"system_prompt"`
	MaxIterations    int    `toml:"max_iterations"`
	ParallelDispatch bool   `toml:"parallel_dispatch"`
	ApprovalTTLSecs  int    `toml:"approval_ttl_secs"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
	RetryBaseDelayMS int    `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int    `toml:"retry_max_delay_ms"`
}

type PolicyConfig struct {
	Autonomy string   `toml:"autonomy"` // "L0".."L3"
	DenyList []string `toml:"deny_list"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:      LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "steward.db"},
		Runtime:  RuntimeConfig{MaxIterations: 5},
		Policy:   PolicyConfig{Autonomy: "L1"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "steward.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("STEWARD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("STEWARD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("STEWARD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("STEWARD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STEWARD_POSTGRES_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("STEWARD_AUTONOMY"); v != "" {
		cfg.Policy.Autonomy = v
	}
	if v := os.Getenv("STEWARD_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.MaxIterations = n
		}
	}
	if os.Getenv("STEWARD_OBSERVER_ENABLED") == "true" || os.Getenv("STEWARD_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	if cfg.Runtime.MaxIterations <= 0 {
		cfg.Runtime.MaxIterations = 5
	}

	return cfg
}
