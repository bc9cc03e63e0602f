package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "transport": {"driver": "telegram", "token": "t0k", "poll_timeout": "5s", "rooms_to_join": ["-100"]},
  "ai": {"provider": "anthropic", "model": "claude-3-5-haiku-latest", "max_tokens": 512},
  "transcription": {"provider": "openai", "model": "whisper-1"},
  "storage": {"driver": "file", "path": "./data/roombot.json"},
  "scheduler": {"tick": "2s"},
  "dedup": {"capacity": 1000, "policy": "reset"},
  "logging": {"level": "debug", "console": true}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.PollTimeoutDuration() != 5*time.Second {
		t.Fatalf("poll timeout %v", cfg.Transport.PollTimeoutDuration())
	}
	if cfg.Scheduler.TickDuration() != 2*time.Second {
		t.Fatalf("tick %v", cfg.Scheduler.TickDuration())
	}
	if m.Get() != cfg {
		t.Fatalf("Load must commit")
	}
}

func TestParseYAML(t *testing.T) {
	yml := `
transport:
  driver: telegram
  token: abc
storage:
  driver: sqlite
  path: ./data/roombot.db
  busy_timeout: 3s
dedup:
  policy: lru
  capacity: 50
`
	cfg, err := NewManager(writeFile(t, "config.yaml", yml)).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeoutDuration() != 3*time.Second {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Dedup.Policy != "lru" || cfg.Dedup.Capacity != 50 {
		t.Fatalf("dedup: %+v", cfg.Dedup)
	}
	if cfg.Scheduler.TickDuration() != time.Second {
		t.Fatalf("default tick should be 1s")
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"storage":{"path":"x"},"bogus":1}`,
		"trailing data": `{"storage":{"path":"x"}}{}`,
		"bad duration":  `{"storage":{"path":"x"},"scheduler":{"tick":"soon"}}`,
		"bad policy":    `{"storage":{"path":"x"},"dedup":{"policy":"fifo"}}`,
		"no path":       `{"storage":{"driver":"file"}}`,
		"room log":      `{"storage":{"path":"x"},"logging":{"room":{"enabled":true}}}`,
		"ai provider":   `{"storage":{"path":"x"},"ai":{"provider":"llama"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewManager(writeFile(t, "config.json", body)).Parse(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestApplyEnvFillsOnlyEmptySecrets(t *testing.T) {
	env := map[string]string{
		EnvTelegramToken: "from-env",
		EnvAnthropicKey:  "sk-ant",
		EnvOpenAIKey:     "sk-oai",
	}
	cfg := &Config{Transport: TransportConfig{Token: "from-file"}}
	applyEnv(cfg, func(k string) string { return env[k] })
	if cfg.Transport.Token != "from-file" {
		t.Fatalf("file value must win, got %q", cfg.Transport.Token)
	}
	if cfg.AI.APIKey != "sk-ant" || cfg.Transcription.APIKey != "sk-oai" {
		t.Fatalf("keys: ai=%q stt=%q", cfg.AI.APIKey, cfg.Transcription.APIKey)
	}

	cfg = &Config{AI: AIConfig{Provider: "openai"}, Transcription: TranscriptionConfig{Provider: "none"}}
	applyEnv(cfg, func(k string) string { return env[k] })
	if cfg.AI.APIKey != "sk-oai" || cfg.Transcription.APIKey != "" {
		t.Fatalf("keys: ai=%q stt=%q", cfg.AI.APIKey, cfg.Transcription.APIKey)
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, Scheduler: SchedulerConfig{Tick: "1s"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Scheduler: SchedulerConfig{Tick: "5s"}}
	live, restart, attrs := SummarizeChange(a, b)
	if strings.Join(live, ",") != "logging" || strings.Join(restart, ",") != "scheduler" || len(attrs) == 0 {
		t.Fatalf("live=%v restart=%v attrs=%d", live, restart, len(attrs))
	}
	live, restart, _ = SummarizeChange(a, a)
	if len(live)+len(restart) != 0 {
		t.Fatalf("identical configs reported changes")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", sampleJSON)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(sampleJSON, `"level": "debug"`, `"level": "warn"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	cancel()
	<-done
}
