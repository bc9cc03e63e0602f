// Package ai provides the completion collaborator: prompt in, text out.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "roombot/pkg/logx"
)

// ErrDisabled is returned by the no-op completer.
var ErrDisabled = errors.New("ai: no provider configured")

const (
	defaultMaxTokens = 1000
	defaultTimeout   = 60 * time.Second
)

// Completer turns a prompt into a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Provider  string // "anthropic" | "openai" | "none"
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// New builds the configured provider. A missing API key is a startup error
// for real providers.
func New(cfg Config, log logx.Logger) (Completer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "none" {
		return disabled{}, nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ai: api key is empty for provider %q", cfg.Provider)
	}
	switch provider {
	case "", "anthropic":
		return NewAnthropic(cfg, log), nil
	case "openai":
		return NewOpenAI(cfg, log), nil
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", cfg.Provider)
	}
}

type disabled struct{}

func (disabled) Complete(context.Context, string) (string, error) { return "", ErrDisabled }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
