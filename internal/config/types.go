package config

// Config is the process configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Transport     TransportConfig     `json:"transport"`
	AI            AIConfig            `json:"ai"`
	Transcription TranscriptionConfig `json:"transcription"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Dedup         DedupConfig         `json:"dedup"`
	Outbox        OutboxConfig        `json:"outbox"`
	Logging       LoggingConfig       `json:"logging"`
}

// TransportConfig selects and configures the chat transport.
//
// Token may be left empty and supplied via ROOMBOT_TELEGRAM_TOKEN.
type TransportConfig struct {
	Driver      string   `json:"driver"` // "telegram"
	Token       string   `json:"token,omitempty"`
	PollTimeout string   `json:"poll_timeout,omitempty"`
	Handle      string   `json:"handle,omitempty"`       // mention prefix; default "@" + bot username
	HistorySize int      `json:"history_size,omitempty"` // per-room ring, default 100
	RoomsToJoin []string `json:"rooms_to_join,omitempty"`
}

// AIConfig configures the completion collaborator.
//
// Provider values: "anthropic" (default), "openai", "none".
type AIConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// TranscriptionConfig configures the speech-to-text collaborator.
//
// Provider values: "openai" (Whisper-compatible, default), "none".
type TranscriptionConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StorageConfig controls where the job document lives.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/roombot.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	Tick string `json:"tick,omitempty"` // default "1s"
}

// DedupConfig controls duplicate event suppression.
//
// Policy values: "reset" (clear the whole window at capacity, default) or "lru".
type DedupConfig struct {
	Capacity int    `json:"capacity,omitempty"`
	Policy   string `json:"policy,omitempty"`
}

// OutboxConfig rate limits outbound sends across all rooms.
type OutboxConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 20
	Burst      int `json:"burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Room    LoggingRoom `json:"room"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRoom mirrors WARN+ log lines into a chat room.
type LoggingRoom struct {
	Enabled    bool   `json:"enabled"`
	RoomID     string `json:"room_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
