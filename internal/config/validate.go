package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables that supply secrets when the file leaves them empty.
const (
	EnvTelegramToken = "ROOMBOT_TELEGRAM_TOKEN"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

// ApplyEnv fills empty secrets from the process environment.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(getenv(key))
		}
	}
	fill(&cfg.Transport.Token, EnvTelegramToken)
	switch cfg.AIProvider() {
	case "anthropic":
		fill(&cfg.AI.APIKey, EnvAnthropicKey)
	case "openai":
		fill(&cfg.AI.APIKey, EnvOpenAIKey)
	}
	if cfg.TranscriptionProvider() == "openai" {
		fill(&cfg.Transcription.APIKey, EnvOpenAIKey)
	}
}

func (c *Config) AIProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if p == "" {
		return "anthropic"
	}
	return p
}

func (c *Config) TranscriptionProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Transcription.Provider))
	if p == "" {
		return "openai"
	}
	return p
}

// Validate checks the fields whose bad values would otherwise surface late.
// Missing secrets are not checked here; the components that need them fail
// at startup.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)); d {
	case "", "telegram":
	default:
		errs = append(errs, fmt.Errorf("transport.driver: unknown driver %q", d))
	}
	if cfg.Transport.HistorySize < 0 {
		errs = append(errs, errors.New("transport.history_size must be >= 0"))
	}

	switch cfg.AIProvider() {
	case "anthropic", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("ai.provider: unknown provider %q", cfg.AI.Provider))
	}
	if cfg.AI.MaxTokens < 0 {
		errs = append(errs, errors.New("ai.max_tokens must be >= 0"))
	}
	switch cfg.TranscriptionProvider() {
	case "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("transcription.provider: unknown provider %q", cfg.Transcription.Provider))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	switch p := strings.ToLower(strings.TrimSpace(cfg.Dedup.Policy)); p {
	case "", "reset", "lru":
	default:
		errs = append(errs, fmt.Errorf("dedup.policy: unknown policy %q", p))
	}
	if cfg.Dedup.Capacity < 0 {
		errs = append(errs, errors.New("dedup.capacity must be >= 0"))
	}
	if cfg.Outbox.RatePerSec < 0 || cfg.Outbox.Burst < 0 {
		errs = append(errs, errors.New("outbox.rate_per_sec and outbox.burst must be >= 0"))
	}
	if cfg.Logging.Room.Enabled && strings.TrimSpace(cfg.Logging.Room.RoomID) == "" {
		errs = append(errs, errors.New("logging.room.room_id is required when logging.room.enabled"))
	}

	for path, raw := range map[string]string{
		"transport.poll_timeout": cfg.Transport.PollTimeout,
		"ai.timeout":             cfg.AI.Timeout,
		"transcription.timeout":  cfg.Transcription.Timeout,
		"storage.busy_timeout":   cfg.Storage.BusyTimeout,
		"scheduler.tick":         cfg.Scheduler.Tick,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
