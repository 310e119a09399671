package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"car-assistant/internal/app"
	"car-assistant/internal/chat"
	"car-assistant/internal/history"
	"car-assistant/internal/sessions"
	"car-assistant/internal/ui"
)

// watchDebounce coalesces the create/rename events of one atomic write
const watchDebounce = 200 * time.Millisecond

func newSessionsCommand(opts *options) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show and delete saved chats",
	}

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, display, err := opts.openScope(cmd)
			if err != nil {
				return err
			}
			defer scope.Close()

			list, err := loadSessions(cmd.Context(), scope, display)
			if err != nil {
				return fmt.Errorf("failed to load saved chats: %w", err)
			}
			display.PrintSessions(list)
			return nil
		},
	})

	var imagesDir string
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, display, err := opts.openScope(cmd)
			if err != nil {
				return err
			}
			defer scope.Close()

			session, err := scope.Sessions.Get(cmd.Context(), args[0])
			if q := scope.Sessions.TakeQuarantine(); q != nil {
				printRecovery(display, q)
			}
			if err != nil {
				return err
			}
			display.PrintSession(session)

			if imagesDir != "" {
				paths, err := ui.WriteImages(imagesDir, session)
				if err != nil {
					return fmt.Errorf("failed to export images: %w", err)
				}
				display.PrintInfo(fmt.Sprintf("Wrote %d image(s) to %s", len(paths), imagesDir))
			}
			return nil
		},
	}
	showCmd.Flags().StringVar(&imagesDir, "images-dir", "", "write the chat's answer images as PNG files to this directory")
	sessionsCmd.AddCommand(showCmd)

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete saved chats on this device and in remote storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, display, err := opts.openScope(cmd)
			if err != nil {
				return err
			}
			defer scope.Close()

			for _, id := range args {
				err := scope.Sessions.DeleteSession(cmd.Context(), id)
				if q := scope.Sessions.TakeQuarantine(); q != nil {
					printRecovery(display, q)
				}
				if err != nil {
					display.PrintAlert(chat.Alert{Kind: chat.AlertDelete, Err: err})
					return err
				}
				display.PrintSuccess(fmt.Sprintf("%s (%s)", chat.DeletedMessage, id))
			}
			return nil
		},
	})

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print the saved-chat list and reprint it whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, display, err := opts.openScope(cmd)
			if err != nil {
				return err
			}
			defer scope.Close()

			ctx := cmd.Context()
			refresh := func() {
				list, err := loadSessions(ctx, scope, display)
				if err != nil {
					display.PrintAlert(chat.Alert{Kind: chat.AlertLoad, Err: err})
					return
				}
				display.PrintSessions(list)
			}

			refresh()
			return scope.Local.Watch(ctx, watchDebounce, refresh)
		},
	})

	return sessionsCmd
}

// loadSessions loads the saved-chat list. A document recovered from
// corruption is reported and its readable chats are returned.
func loadSessions(ctx context.Context, scope *app.Scope, display *ui.Display) ([]history.Session, error) {
	list, err := scope.Sessions.LoadList(ctx)
	var recovered *sessions.QuarantineError
	if errors.As(err, &recovered) {
		printRecovery(display, recovered)
		return list, nil
	}
	return list, err
}

func printRecovery(display *ui.Display, q *sessions.QuarantineError) {
	display.PrintAlert(chat.Alert{Kind: chat.AlertRecovered, Err: q})
	display.PrintWarning(fmt.Sprintf("Kept %d readable chat(s). The damaged file was saved to %s", q.Kept, q.Backup))
}
