// Package transcribe provides the speech-to-text collaborator: it downloads
// an audio URL and sends it to a Whisper-compatible API.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "roombot/pkg/logx"
)

var ErrDisabled = errors.New("transcribe: no provider configured")

// maxAudioBytes caps downloads; Whisper rejects files above 25 MB.
const maxAudioBytes = 25 << 20

type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

type Config struct {
	Provider string // "openai" | "none"
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

func New(cfg Config, log logx.Logger) (Transcriber, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "none":
		return disabled{}, nil
	case "", "openai", "whisper":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("transcribe: api key is empty")
		}
		return NewWhisper(cfg, log), nil
	default:
		return nil, fmt.Errorf("transcribe: unknown provider %q", cfg.Provider)
	}
}

type disabled struct{}

func (disabled) Transcribe(context.Context, string) (string, error) { return "", ErrDisabled }

type Whisper struct {
	client   *openai.Client
	http     *http.Client
	model    string
	language string
	timeout  time.Duration
	log      logx.Logger
}

func NewWhisper(cfg Config, log logx.Logger) *Whisper {
	oc := openai.DefaultConfig(cfg.APIKey)
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		oc.BaseURL = u
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.Whisper1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(oc),
		http:     &http.Client{},
		model:    model,
		language: strings.TrimSpace(cfg.Language),
		timeout:  timeout,
		log:      log,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if strings.TrimSpace(audioURL) == "" {
		return "", errors.New("transcribe: empty audio url")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	start := time.Now()
	out, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: fileName(audioURL),
		Reader:   io.LimitReader(resp.Body, maxAudioBytes),
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	w.log.Debug("audio transcribed", logx.String("model", w.model), logx.Int("chars", len(out.Text)), logx.Duration("took", time.Since(start)))
	return strings.TrimSpace(out.Text), nil
}

// fileName keeps the URL's base name so the API can infer the format.
func fileName(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	name := path.Base(u)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "audio.ogg"
	}
	if strings.EqualFold(path.Ext(name), ".oga") {
		return strings.TrimSuffix(name, path.Ext(name)) + ".ogg"
	}
	return name
}
