package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roombot/internal/config"
	"roombot/internal/dedup"
	"roombot/internal/storage"
	logx "roombot/pkg/logx"
)

func TestConfigMapping(t *testing.T) {
	cfg := &config.Config{
		Transport:     config.TransportConfig{Token: "t", PollTimeout: "3s", HistorySize: 40},
		AI:            config.AIConfig{Timeout: "20s"},
		Transcription: config.TranscriptionConfig{Timeout: "90s"},
		Storage:       config.StorageConfig{Driver: " SQLite ", Path: " ./x.db ", BusyTimeout: "2s"},
		Scheduler:     config.SchedulerConfig{Tick: "500ms"},
		Outbox:        config.OutboxConfig{RatePerSec: 5},
	}

	sc := mapStorageConfig(cfg)
	if sc.Driver != "sqlite" || sc.Path != "./x.db" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage=%+v", sc)
	}
	if tc := mapTransportConfig(cfg); tc.PollTimeout != 3*time.Second || tc.HistorySize != 40 {
		t.Fatalf("transport=%+v", tc)
	}
	if ac := mapAIConfig(cfg); ac.Provider != "anthropic" || ac.Timeout != 20*time.Second {
		t.Fatalf("ai=%+v", ac)
	}
	if tc := mapTranscribeConfig(cfg); tc.Provider != "openai" || tc.Timeout != 90*time.Second {
		t.Fatalf("transcribe=%+v", tc)
	}
	if s := mapSchedulerConfig(cfg); s.Tick != 500*time.Millisecond {
		t.Fatalf("scheduler=%+v", s)
	}
	if got := commandTimeout(cfg); got != 120*time.Second {
		t.Fatalf("command timeout=%s", got)
	}
}

func TestNewDeduplicatorPolicy(t *testing.T) {
	d, err := newDeduplicator(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*dedup.Window); !ok {
		t.Fatalf("default policy should be the reset window, got %T", d)
	}
	if _, err := newDeduplicator(&config.Config{Dedup: config.DedupConfig{Policy: "fifo"}}); err == nil {
		t.Fatalf("unknown policy accepted")
	}
}

func TestLoadConfigAndOpenStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"transport":{"driver":"telegram","token":"x"},"ai":{"provider":"none"},"transcription":{"provider":"none"},` +
		`"storage":{"driver":"file","path":"` + filepath.ToSlash(filepath.Join(dir, "doc.json")) + `"},"logging":{"level":"warn"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	_, cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	st, err := OpenStore(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if st.MessageCount() != 0 {
		t.Fatalf("fresh store has %d messages", st.MessageCount())
	}
	if _, err := os.Stat(filepath.Join(dir, "doc.json")); err != nil {
		t.Fatalf("document not created: %v", err)
	}

	// While st owns the document an offline writer is refused, a reader is not.
	if other, err := OpenStore(context.Background(), cfg, logx.Nop()); !errors.Is(err, storage.ErrLocked) {
		if other != nil {
			_ = other.Close()
		}
		t.Fatalf("want ErrLocked, got %v", err)
	}
	ro, err := OpenStoreReadOnly(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("read-only open: %v", err)
	}
	_ = ro.Close()
}

func TestApplyConfigUpdatesLogging(t *testing.T) {
	svc, _ := logx.New(logx.Config{Level: "error"})
	t.Cleanup(func() { _ = svc.Close() })
	a := &App{log: logx.Nop(), logs: svc}
	oldCfg := &config.Config{Logging: config.LoggingConfig{Level: "info"}}
	newCfg := &config.Config{Logging: config.LoggingConfig{Level: "debug"}, Scheduler: config.SchedulerConfig{Tick: "2s"}}
	a.applyConfig(oldCfg, newCfg)
	a.applyConfig(newCfg, newCfg)
}
