package config

import (
	"reflect"

	logx "roombot/pkg/logx"
)

// Sections that can change without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeChange lists the top-level sections that differ between oldCfg and
// newCfg, split into those applied live and those that need a restart. The
// returned log fields never include secrets.
func SummarizeChange(oldCfg, newCfg *Config) (live, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"transport", oldCfg.Transport, newCfg.Transport},
		{"ai", oldCfg.AI, newCfg.AI},
		{"transcription", oldCfg.Transcription, newCfg.Transcription},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"dedup", oldCfg.Dedup, newCfg.Dedup},
		{"outbox", oldCfg.Outbox, newCfg.Outbox},
		{"logging", oldCfg.Logging, newCfg.Logging},
	}
	for _, s := range sections {
		if reflect.DeepEqual(s.old, s.new) {
			continue
		}
		if liveSections[s.name] {
			live = append(live, s.name)
		} else {
			restart = append(restart, s.name)
		}
	}

	if len(live) > 0 {
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.room", newCfg.Logging.Room.Enabled),
		)
	}
	return live, restart, attrs
}

// LogConfig maps the logging section onto logx.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Room: logx.RoomConfig{
			Enabled:    c.Room.Enabled,
			RoomID:     c.Room.RoomID,
			MinLevel:   c.Room.MinLevel,
			RatePerSec: c.Room.RatePerSec,
		},
	}
}
