// Package config loads nerovaagent configuration from an optional YAML or
// JSON5 file, overlays the recognized environment variables, and resolves
// the critic/assistant API key fallback chains.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// Config is the main configuration structure for nerovaagent.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Agent     AgentConfig     `yaml:"agent"`
	Critic    CriticConfig    `yaml:"critic"`
	Assistant AssistantConfig `yaml:"assistant"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the brain HTTP service and the in-process client
// the control loop uses to reach it.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BrainURL is where the control loop sends bootstrap/critic/assistant
	// requests. Empty means the local server on Host:Port.
	BrainURL string `yaml:"brain_url"`

	// SessionTTL expires idle brain sessions; SessionSweep is the reaper
	// interval.
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SessionSweep time.Duration `yaml:"session_sweep"`
}

// AgentConfig configures run execution and the browser worker.
type AgentConfig struct {
	MaxSteps          int           `yaml:"max_steps"`
	ClickRadius       float64       `yaml:"click_radius"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
	Headless          bool          `yaml:"headless"`
	KeepBrowser       bool          `yaml:"keep_browser"`
	BootURL           string        `yaml:"boot_url"`
}

// CriticConfig configures the Critic model client.
type CriticConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AssistantConfig configures the Assistant disambiguator client.
type AssistantConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	AssistantID string        `yaml:"assistant_id"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	BaseURL     string        `yaml:"base_url"`
}

// JournalConfig configures run artifact persistence.
type JournalConfig struct {
	// Dir is the runs root. Empty means $HOME/.nerovaagent/runs.
	Dir string `yaml:"dir"`

	// Retention prunes run directories older than this age. Zero disables
	// the sweeper.
	Retention time.Duration `yaml:"retention"`

	// Sweep is the cron schedule for the retention sweeper.
	Sweep string `yaml:"sweep"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
	Insecure   bool    `yaml:"insecure"`
}

// Load reads the configuration file at path (YAML, JSON, or JSON5 by
// extension; `$include` directives resolved), fills defaults, then overlays
// the recognized environment variables. An empty path yields the pure
// defaults+environment configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = 30 * time.Minute
	}
	if cfg.Server.SessionSweep == 0 {
		cfg.Server.SessionSweep = 5 * time.Minute
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.ClickRadius == 0 {
		cfg.Agent.ClickRadius = 120
	}
	if cfg.Agent.ScreenshotTimeout == 0 {
		cfg.Agent.ScreenshotTimeout = 20 * time.Second
	}
	if cfg.Critic.Model == "" {
		cfg.Critic.Model = "gpt-5"
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = "gpt-5-nano"
	}
	if cfg.Assistant.PollTimeout == 0 {
		cfg.Assistant.PollTimeout = 30 * time.Second
	}
	if cfg.Journal.Sweep == "" {
		cfg.Journal.Sweep = "@hourly"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
}

// RunsDir resolves the runs root, defaulting under the home directory.
func (c *Config) RunsDir() string {
	if c.Journal.Dir != "" {
		return c.Journal.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".nerovaagent", "runs")
}

// ProfileDir resolves the browser profile directory.
func (c *Config) ProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".nerovaagent", "browser")
}

// ResolveCriticKey resolves the Critic API key: explicit override, then the
// configured key, then CRITIC_OPENAI_KEY, OPENAI_API_KEY,
// NEROVA_AGENT_CRITIC_KEY.
func (c *Config) ResolveCriticKey(override string) (string, error) {
	chain := []string{
		override,
		c.Critic.APIKey,
		os.Getenv("CRITIC_OPENAI_KEY"),
		os.Getenv("OPENAI_API_KEY"),
		os.Getenv("NEROVA_AGENT_CRITIC_KEY"),
	}
	for _, key := range chain {
		if key != "" {
			return key, nil
		}
	}
	return "", models.NewError(models.CodeCriticKeyMissing)
}

// ResolveAssistantKey resolves the Assistant API key: explicit override, the
// configured key, then RETRIEVER_OPENAI_KEY, NANO_OPENAI_KEY,
// NEROVA_AGENT_ASSISTANT_KEY, OPENAI_API_KEY.
func (c *Config) ResolveAssistantKey(override string) (string, error) {
	chain := []string{
		override,
		c.Assistant.APIKey,
		os.Getenv("RETRIEVER_OPENAI_KEY"),
		os.Getenv("NANO_OPENAI_KEY"),
		os.Getenv("NEROVA_AGENT_ASSISTANT_KEY"),
		os.Getenv("OPENAI_API_KEY"),
	}
	for _, key := range chain {
		if key != "" {
			return key, nil
		}
	}
	return "", models.NewError(models.CodeAssistantKeyMissing)
}
