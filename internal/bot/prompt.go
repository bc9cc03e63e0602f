package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"roombot/internal/command"
	"roombot/internal/transport"
)

const (
	contextLines = 5
	contextScan  = 10
)

// contextPrompt wraps the request in the room's recent conversation: the last
// few non-command text lines (never the bot's own), plus the last other
// speaker so the model can mimic their style.
func (b *Bot) contextPrompt(ctx context.Context, req *command.Request) (string, error) {
	room, err := b.rooms.Get(ctx, req.RoomID)
	if err != nil {
		return "", err
	}
	recent, err := room.FetchRecent(ctx, contextScan)
	if err != nil {
		return "", err
	}
	return buildPrompt(recent, b.tr.SelfID(), req), nil
}

func buildPrompt(recent []transport.Event, self string, req *command.Request) string {
	var lines []transport.Event
	for _, ev := range recent {
		if len(lines) == contextLines {
			break
		}
		if ev.Kind != transport.EventText || ev.Sender == self || (req.Event.ID != "" && ev.ID == req.Event.ID) {
			continue
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" || strings.HasPrefix(text, command.DefaultPrefix) {
			continue
		}
		lines = append(lines, ev)
	}
	if len(lines) == 0 {
		return req.Args
	}
	// recent is newest first; the prompt reads oldest first.
	slices.Reverse(lines)

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, ev := range lines {
		fmt.Fprintf(&sb, "%s: %s\n", speaker(ev), strings.TrimSpace(ev.Text))
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Sender != req.Sender {
			who := speaker(lines[i])
			fmt.Fprintf(&sb, "\nThe last message from someone else was by %s: %q\n", who, strings.TrimSpace(lines[i].Text))
			fmt.Fprintf(&sb, "Answer in the context of this conversation and mimic the writing style of %s.\n", who)
			break
		}
	}
	fmt.Fprintf(&sb, "\nRequest: %s", req.Args)
	return sb.String()
}

func speaker(ev transport.Event) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.Sender
}
