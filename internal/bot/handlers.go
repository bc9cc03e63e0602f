package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"roombot/internal/apperr"
	"roombot/internal/command"
	"roombot/internal/storage"
	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

// transcribeScan is how far back !transcribe looks for a voice message.
const transcribeScan = 50

func (b *Bot) registerBuiltins() error {
	cmds := []command.Command{
		{Route: "help", Usage: "!help", Description: "Show this help", Handle: b.cmdHelp},
		{Route: "ai", Usage: "!ai <question>", Description: "Ask the AI, with the recent conversation as context", Handle: b.cmdAI},
		{Route: "transcribe", Usage: "!transcribe", Description: "Transcribe the latest voice message", Handle: b.cmdTranscribe},
		{Route: "status", Usage: "!status", Description: "Show bot status", Handle: b.cmdStatus},
		{Route: "schedule list", Usage: "!schedule list", Description: "List scheduled messages in this room", Handle: b.cmdScheduleList},
		{Route: "schedule remove", Usage: "!schedule remove <id>", Description: "Remove a scheduled message", Handle: b.cmdScheduleRemove},
		{Route: "schedule add", Usage: "!schedule add HH:MM <message>", Description: "Send a message once", Handle: b.scheduleWith(storage.RepeatNone)},
		{Route: "schedule daily", Usage: "!schedule daily HH:MM <message>", Description: "Send a message every day", Handle: b.scheduleWith(storage.RepeatDaily)},
		{Route: "schedule weekly", Usage: "!schedule weekly HH:MM <message>", Description: "Send a message every week on today's weekday", Handle: b.scheduleWith(storage.RepeatWeekly)},
		{Route: "schedule weekdays", Usage: "!schedule weekdays HH:MM <message>", Description: "Send a message Monday to Friday", Handle: b.scheduleWith(storage.RepeatWeekdays)},
		{Route: "autotranscribe on", Usage: "!autotranscribe on|off", Description: "Transcribe every voice message in this room", Handle: b.autoTranscribe(true)},
		{Route: "autotranscribe off", Handle: b.autoTranscribe(false)},
	}
	for _, c := range cmds {
		if err := b.router.Register(c); err != nil {
			return err
		}
	}
	if err := b.router.Group("schedule", "Use !help to see the schedule commands."); err != nil {
		return err
	}
	return b.router.Group("autotranscribe", "Usage: !autotranscribe on|off")
}

func (b *Bot) cmdHelp(ctx context.Context, req *command.Request) error {
	var sb strings.Builder
	sb.WriteString("Available commands:")
	for _, c := range b.router.Commands() {
		if c.Usage == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n%s - %s", c.Usage, c.Description)
	}
	if h := b.tr.Handle(); h != "" {
		fmt.Fprintf(&sb, "\n\nYou can also mention me (%s <question>) to ask the AI directly.", h)
	}
	return req.Reply(ctx, sb.String())
}

func (b *Bot) cmdStatus(ctx context.Context, req *command.Request) error {
	up := b.now().Sub(b.started).Truncate(time.Second)
	h := int(up.Hours())
	m := int(up.Minutes()) % 60
	s := int(up.Seconds()) % 60
	return req.Reply(ctx, fmt.Sprintf(
		"Bot active for: %dh %dm %ds\nActive rooms: %d\nScheduled messages: %d\nArmed rules: %d",
		h, m, s, b.rooms.Len(), b.store.MessageCount(), b.sched.Len(),
	))
}

// ---- AI ----

func (b *Bot) cmdAI(ctx context.Context, req *command.Request) error {
	if req.Args == "" {
		return apperr.Validation("Please provide a question. Usage: !ai <question>")
	}
	prompt, err := b.contextPrompt(ctx, req)
	if err != nil {
		req.Logger.Warn("conversation context unavailable", logx.Err(err))
		if err := req.Reply(ctx, "Asking AI... (without conversation context)"); err != nil {
			return err
		}
		prompt = req.Args
	} else if err := req.Reply(ctx, askNotice); err != nil {
		return err
	}
	return b.ask(ctx, req.RoomID, prompt)
}

func (b *Bot) ask(ctx context.Context, roomID, prompt string) error {
	if b.ai == nil {
		return apperr.Collaborator("ai", errors.New("not configured"))
	}
	reply, err := b.ai.Complete(ctx, prompt)
	if err != nil {
		return apperr.Collaborator("ai", err)
	}
	return b.out.Send(ctx, roomID, PrefixAI, reply)
}

// ---- transcription ----

func (b *Bot) cmdTranscribe(ctx context.Context, req *command.Request) error {
	if err := req.Reply(ctx, "Searching for the latest voice message..."); err != nil {
		return err
	}
	room, err := b.rooms.Get(ctx, req.RoomID)
	if err != nil {
		return apperr.Collaborator("transport", err)
	}
	recent, err := room.FetchRecent(ctx, transcribeScan)
	if err != nil {
		return apperr.Collaborator("transport", err)
	}

	var found *transport.Event
	for i := range recent {
		if recent[i].Kind == transport.EventAudio {
			found = &recent[i]
			break
		}
	}
	if found == nil {
		return req.Reply(ctx, fmt.Sprintf("No voice messages found in the last %d messages.", transcribeScan))
	}
	if found.MediaRef == "" {
		return req.Reply(ctx, "Error: the voice message has no media locator.")
	}
	if err := req.Reply(ctx, "Transcribing voice message..."); err != nil {
		return err
	}
	return b.transcribe(ctx, req.RoomID, found.MediaRef)
}

func (b *Bot) transcribe(ctx context.Context, roomID, ref string) error {
	if b.stt == nil {
		return apperr.Collaborator("transcription", errors.New("not configured"))
	}
	url, err := b.tr.ResolveMediaURL(ctx, ref)
	if err != nil {
		return apperr.Collaborator("transport", err)
	}
	text, err := b.stt.Transcribe(ctx, url)
	if err != nil {
		return apperr.Collaborator("transcription", err)
	}
	return b.out.Send(ctx, roomID, PrefixTranscript, text)
}

func (b *Bot) autoTranscribe(on bool) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) error {
		changed, err := b.store.SetAutoTranscribe(ctx, req.RoomID, on)
		if err != nil {
			return err
		}
		state := "disabled"
		if on {
			state = "enabled"
		}
		if !changed {
			return req.Reply(ctx, "Automatic transcription is already "+state+" in this room.")
		}
		return req.Reply(ctx, "Automatic transcription "+state+" for this room.")
	}
}

// ---- schedule ----

func (b *Bot) cmdScheduleList(ctx context.Context, req *command.Request) error {
	msgs := b.store.MessagesForRoom(req.RoomID)
	if len(msgs) == 0 {
		return req.Reply(ctx, "No scheduled messages in this room.")
	}
	var sb strings.Builder
	sb.WriteString("Scheduled messages:")
	for _, m := range msgs {
		fmt.Fprintf(&sb, "\nID %d: %s - %s", m.ID, m.At, m.Preview())
	}
	return req.Reply(ctx, sb.String())
}

func (b *Bot) cmdScheduleRemove(ctx context.Context, req *command.Request) error {
	id, err := strconv.ParseInt(strings.TrimSpace(req.Args), 10, 64)
	if err != nil {
		return req.Reply(ctx, "Please provide a valid ID.")
	}
	// A job owned by another room is reported like a missing one.
	if _, err := b.store.RemoveMessage(ctx, id, req.RoomID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrForbidden) {
			return req.Reply(ctx, fmt.Sprintf("No scheduled message with ID %d found in this room.", id))
		}
		return err
	}
	n := b.sched.Retract(id)
	req.Logger.Debug("scheduled message removed", logx.Int64("id", id), logx.Int("rules", n))
	return req.Reply(ctx, fmt.Sprintf("Scheduled message with ID %d removed.", id))
}

func (b *Bot) scheduleWith(r storage.Repeat) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) error {
		at, text, err := parseScheduleArgs(req.Path, req.Args)
		if err != nil {
			return err
		}
		m, err := b.store.AddMessage(ctx, storage.ScheduledMessage{
			RoomID:  req.RoomID,
			Message: text,
			At:      at,
			Repeat:  r,
		})
		if err != nil {
			return err
		}
		if err := b.sched.Arm(m); err != nil {
			if _, rerr := b.store.RemoveMessage(ctx, m.ID, ""); rerr != nil {
				req.Logger.Error("rollback of unarmed message failed", logx.Int64("id", m.ID), logx.Err(rerr))
			}
			return apperr.Validation("Could not schedule the message: %v", err)
		}
		return req.Reply(ctx, fmt.Sprintf("%s message scheduled for %s. ID: %d", r.Label(), at, m.ID))
	}
}

// parseScheduleArgs splits "HH:MM message".
func parseScheduleArgs(path []string, args string) (storage.TimeOfDay, string, error) {
	usage := "!" + strings.Join(path, " ") + " HH:MM <message>"
	raw, text := command.Parse(args)
	if raw == "" {
		return storage.TimeOfDay{}, "", apperr.Validation("Usage: %s", usage)
	}
	at, err := storage.ParseTimeOfDay(raw)
	if err != nil {
		return storage.TimeOfDay{}, "", err
	}
	if text == "" {
		return storage.TimeOfDay{}, "", apperr.Validation("Please provide a message. Usage: %s", usage)
	}
	return at, text, nil
}
