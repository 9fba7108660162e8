package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overlays the recognized environment variables onto cfg. The
// environment wins over file values so deployments can tune a shared file
// per process.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if n, ok := envInt("PORT"); ok {
		cfg.Server.Port = n
	}
	if v := os.Getenv("NEROVA_BRAIN_URL"); v != "" {
		cfg.Server.BrainURL = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Journal.Dir = v
	}

	// NEROVA_MAX_STEPS wins over the older AGENT_MAX_STEPS spelling.
	if n, ok := envInt("AGENT_MAX_STEPS"); ok {
		cfg.Agent.MaxSteps = n
	}
	if n, ok := envInt("NEROVA_MAX_STEPS"); ok {
		cfg.Agent.MaxSteps = n
	}
	if f, ok := envFloat("AGENT_CLICK_RADIUS"); ok {
		cfg.Agent.ClickRadius = f
	}
	if n, ok := envInt("AGENT_SCREENSHOT_TIMEOUT_MS"); ok {
		cfg.Agent.ScreenshotTimeout = time.Duration(n) * time.Millisecond
	}
	if os.Getenv("NEROVA_HEADLESS") == "1" {
		cfg.Agent.Headless = true
	}
	if envBool("NEROVA_KEEP_BROWSER") {
		cfg.Agent.KeepBrowser = true
	}
	if v := os.Getenv("NEROVA_BOOT_URL"); v != "" {
		cfg.Agent.BootURL = v
	}

	if v := os.Getenv("CRITIC_MODEL"); v != "" {
		cfg.Critic.Model = v
	}
	if v := os.Getenv("ASSISTANT_MODEL"); v != "" {
		cfg.Assistant.Model = v
	}
	if v := os.Getenv("ASSISTANT_ID2"); v != "" {
		cfg.Assistant.AssistantID = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func envBool(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}
