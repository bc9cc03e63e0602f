package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"roombot/internal/app"
	"roombot/internal/apperr"
	"roombot/internal/storage"
	logx "roombot/pkg/logx"
)

// jobsCmd inspects the job document without connecting to the transport.
// list is read-only and safe next to a running bot; remove needs the bot
// stopped because the bot owns the document while it runs.
func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled messages offline",
	}

	var listRoom string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), true, func(st *storage.ConfigStore) error {
				msgs := st.Messages()
				if listRoom != "" {
					msgs = st.MessagesForRoom(listRoom)
				}
				if len(msgs) == 0 {
					fmt.Println("no scheduled messages")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tROOM\tTIME\tREPEAT\tMESSAGE")
				for _, m := range msgs {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.RoomID, m.At, m.Repeat.Label(), m.Preview())
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&listRoom, "room", "", "only show messages of this room")

	var removeRoom string
	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled message (bot must be stopped)",
		Long: "Remove a scheduled message from the job document.\n\n" +
			"The running bot owns the document, so this fails while it runs.\n" +
			"Stop the bot first, or use \"!schedule remove <id>\" in the room.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withStore(cmd.Context(), false, func(st *storage.ConfigStore) error {
				m, err := st.RemoveMessage(cmd.Context(), id, removeRoom)
				switch {
				case errors.Is(err, apperr.ErrForbidden):
					return fmt.Errorf("message %d belongs to another room", id)
				case errors.Is(err, apperr.ErrNotFound):
					return fmt.Errorf("message %d not found", id)
				case err != nil:
					return err
				}
				fmt.Printf("removed %d (%s %s in %s)\n", m.ID, m.Repeat.Label(), m.At, m.RoomID)
				return nil
			})
		},
	}
	remove.Flags().StringVar(&removeRoom, "room", "", "only remove the message if it belongs to this room")

	jobs.AddCommand(list, remove)
	return jobs
}

func withStore(ctx context.Context, readOnly bool, fn func(st *storage.ConfigStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, cfg, err := app.LoadConfig(configPath())
	if err != nil {
		return err
	}
	open := app.OpenStore
	if readOnly {
		open = app.OpenStoreReadOnly
	}
	st, err := open(ctx, cfg, logx.NewConsole("WARN"))
	if errors.Is(err, storage.ErrLocked) {
		return errors.New("the bot is running and owns the job document; stop it first or use !schedule remove in the room")
	}
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
