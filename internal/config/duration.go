package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// mustDuration is for values that already passed Validate.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c TransportConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(c.PollTimeout, 10*time.Second)
}

func (c AIConfig) TimeoutDuration() time.Duration { return mustDuration(c.Timeout, 60*time.Second) }

func (c TranscriptionConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout, 120*time.Second)
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	return mustDuration(c.BusyTimeout, 5*time.Second)
}

func (c SchedulerConfig) TickDuration() time.Duration { return mustDuration(c.Tick, time.Second) }
