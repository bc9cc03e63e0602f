package bot

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"roombot/internal/apperr"
	"roombot/internal/storage"
	logx "roombot/pkg/logx"
)

// Prefix marks the origin of an outbound message.
type Prefix string

const (
	PrefixNone       Prefix = ""
	PrefixScheduled  Prefix = "[Scheduled Message] "
	PrefixAI         Prefix = "AI Response: "
	PrefixTranscript Prefix = "Transcription: "
)

const sendTimeout = 15 * time.Second

type OutboxConfig struct {
	RatePerSec int
	Burst      int
}

// Outbox is the only path to a room. It applies the origin prefix and a
// global rate limit.
type Outbox struct {
	rooms *Rooms
	lim   *rate.Limiter
	log   logx.Logger
}

func NewOutbox(rooms *Rooms, cfg OutboxConfig, log logx.Logger) *Outbox {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Outbox{
		rooms: rooms,
		lim:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:   log,
	}
}

func (o *Outbox) Send(ctx context.Context, roomID string, p Prefix, text string) error {
	room, err := o.rooms.Get(ctx, roomID)
	if err != nil {
		return apperr.Collaborator("transport", err)
	}
	if err := o.lim.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := room.Send(cctx, string(p)+text); err != nil {
		o.log.Debug("send failed", logx.String("room", roomID), logx.Err(err))
		return apperr.Collaborator("transport", err)
	}
	return nil
}

// SendText sends unprefixed text. It lets the log service mirror lines into a room.
func (o *Outbox) SendText(ctx context.Context, roomID, text string) error {
	return o.Send(ctx, roomID, PrefixNone, text)
}

// DeliverScheduled sends a fired job to its room.
func (o *Outbox) DeliverScheduled(ctx context.Context, m storage.ScheduledMessage) error {
	return o.Send(ctx, m.RoomID, PrefixScheduled, m.Message)
}
