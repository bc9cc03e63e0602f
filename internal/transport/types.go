// Package transport defines the chat transport the bot consumes. Concrete
// adapters live in subpackages.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownRoom is returned by Join when the room cannot be resolved.
var ErrUnknownRoom = errors.New("transport: unknown room")

type EventKind string

const (
	EventText   EventKind = "text"
	EventAudio  EventKind = "audio"
	EventInvite EventKind = "invite"
)

// Event is one inbound room event.
type Event struct {
	// ID is unique per transport and stable across redelivery.
	ID         string
	Kind       EventKind
	RoomID     string
	Sender     string // stable sender id
	SenderName string // short display name, used in AI context lines
	Text       string
	MediaRef   string // transport-specific locator for audio payloads
	At         time.Time
}

// Room is a live handle to a joined room.
type Room interface {
	ID() string
	Send(ctx context.Context, text string) error
	// FetchRecent returns up to limit events, newest first.
	FetchRecent(ctx context.Context, limit int) ([]Event, error)
}

// Transport is the chat connection.
type Transport interface {
	// Start begins delivering events to out. It returns once delivery is running.
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	// SelfID is the bot's own sender id; events from it are ignored.
	SelfID() string
	// Handle is the mention prefix addressed to the bot, e.g. "@roombot".
	Handle() string

	Join(ctx context.Context, roomID string) (Room, error)
	ResolveMediaURL(ctx context.Context, ref string) (string, error)
}
