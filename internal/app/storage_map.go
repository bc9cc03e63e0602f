package app

import (
	"strings"
	"time"

	"roombot/internal/ai"
	"roombot/internal/bot"
	"roombot/internal/config"
	"roombot/internal/scheduler"
	"roombot/internal/storage"
	"roombot/internal/transcribe"
	"roombot/internal/transport/telegram"
)

// Config sections are validated by config.Validate before they reach these
// mappers, so durations fall back to defaults instead of failing.

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: sc.BusyTimeoutDuration(),
	}
}

func mapTransportConfig(cfg *config.Config) telegram.Config {
	tc := cfg.Transport
	return telegram.Config{
		Token:       tc.Token,
		PollTimeout: tc.PollTimeoutDuration(),
		Handle:      tc.Handle,
		HistorySize: tc.HistorySize,
	}
}

func mapAIConfig(cfg *config.Config) ai.Config {
	return ai.Config{
		Provider:  cfg.AIProvider(),
		Model:     cfg.AI.Model,
		APIKey:    cfg.AI.APIKey,
		BaseURL:   cfg.AI.BaseURL,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.TimeoutDuration(),
	}
}

func mapTranscribeConfig(cfg *config.Config) transcribe.Config {
	return transcribe.Config{
		Provider: cfg.TranscriptionProvider(),
		APIKey:   cfg.Transcription.APIKey,
		BaseURL:  cfg.Transcription.BaseURL,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		Timeout:  cfg.Transcription.TimeoutDuration(),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Tick: cfg.Scheduler.TickDuration()}
}

func mapOutboxConfig(cfg *config.Config) bot.OutboxConfig {
	return bot.OutboxConfig{RatePerSec: cfg.Outbox.RatePerSec, Burst: cfg.Outbox.Burst}
}

// commandTimeout bounds one command: long enough for the slower of the two
// collaborators plus a margin for sends.
func commandTimeout(cfg *config.Config) time.Duration {
	return max(cfg.AI.TimeoutDuration(), cfg.Transcription.TimeoutDuration()) + 30*time.Second
}
