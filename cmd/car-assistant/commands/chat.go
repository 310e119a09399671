package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"car-assistant/internal/app"
	"car-assistant/internal/chat"
	"car-assistant/internal/terminal"
	"car-assistant/internal/ui"
)

func runChat(cmd *cobra.Command, opts *options) error {
	scope, display, err := opts.openScope(cmd)
	if err != nil {
		return err
	}
	defer scope.Close()

	r := &repl{
		scope:   scope,
		display: display,
		input:   terminal.NewReader(cmd.InOrStdin()),
	}
	return r.run(cmd.Context())
}

// repl is the interactive chat loop
type repl struct {
	scope   *app.Scope
	display *ui.Display
	input   *terminal.Reader
}

func (r *repl) run(ctx context.Context) error {
	uid, _ := r.scope.Identity.UserID()
	r.display.PrintWelcome(uid)

	// Load saved chats up front so a corrupt document is reported early
	if _, err := loadSessions(ctx, r.scope, r.display); err != nil {
		r.scope.Chat.ReportError(chat.AlertLoad, err)
		r.showAlert()
	}

	for {
		if ctx.Err() != nil {
			break
		}

		r.display.PrintPrompt()
		line, err := r.input.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if quit := r.handle(ctx, line); quit {
			break
		}
	}

	r.display.PrintGoodbye()
	return nil
}

// handle processes one line of input and reports whether to quit
func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if _, _, editing := r.scope.Chat.Editing(); editing {
			r.scope.Chat.SetEditText(line)
			r.display.PrintInfo("Edit staged; /commit to apply or /cancel")
			return false
		}
		r.ask(ctx, line)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/exit", "/quit":
		return true
	case "/save":
		r.save(ctx)
	case "/reset":
		r.scope.Chat.Reset()
		r.display.PrintInfo("Started a new conversation")
	case "/show":
		r.display.PrintTranscript(r.scope.Chat.Transcript())
	case "/edit":
		r.edit(arg)
	case "/commit":
		if r.scope.Chat.CommitEdit() {
			r.display.PrintTranscript(r.scope.Chat.Transcript())
		} else {
			r.display.PrintWarning("Nothing is being edited")
		}
	case "/cancel":
		r.scope.Chat.CancelEdit()
		r.display.PrintInfo("Edit discarded")
	case "/history":
		r.history(ctx)
	case "/open":
		r.open(ctx, arg)
	case "/delete":
		r.delete(ctx, arg)
	default:
		r.display.PrintWarning(fmt.Sprintf("Unknown command %s", command))
	}
	return false
}

func (r *repl) ask(ctx context.Context, question string) {
	r.display.PrintPending()

	err := r.scope.Chat.Ask(ctx, question)
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion), errors.Is(err, chat.ErrBusy):
		return
	case err != nil:
		r.showAlert()
		return
	}

	transcript := r.scope.Chat.Transcript()
	last := len(transcript) - 1
	r.display.PrintTurn(last, transcript[last])
}

func (r *repl) save(ctx context.Context) {
	session, err := r.scope.Chat.Save(ctx)
	r.showRecovery()
	if err != nil {
		r.showAlert()
		return
	}
	r.display.PrintSuccess(fmt.Sprintf("%s (%s)", chat.SavedMessage, session.ID))
}

func (r *repl) edit(arg string) {
	index, err := strconv.Atoi(arg)
	if err != nil || !r.scope.Chat.EditTurn(index) {
		r.display.PrintWarning("Usage: /edit N, where N is the number of one of your questions")
		return
	}
	_, text, _ := r.scope.Chat.Editing()
	r.display.PrintEditPrompt(index, text)
}

func (r *repl) history(ctx context.Context) {
	list, err := loadSessions(ctx, r.scope, r.display)
	if err != nil {
		r.scope.Chat.ReportError(chat.AlertLoad, err)
		r.showAlert()
		return
	}
	r.display.PrintSessions(list)
}

func (r *repl) open(ctx context.Context, id string) {
	session, err := r.scope.Sessions.Get(ctx, id)
	r.showRecovery()
	if err != nil {
		r.display.PrintError(err)
		return
	}
	r.scope.Chat.Open(session)
	r.display.PrintSession(session)
}

func (r *repl) delete(ctx context.Context, id string) {
	if id == "" {
		r.display.PrintWarning("Usage: /delete ID")
		return
	}
	err := r.scope.Sessions.DeleteSession(ctx, id)
	r.showRecovery()
	if err != nil {
		r.scope.Chat.ReportError(chat.AlertDelete, err)
		r.showAlert()
		return
	}
	r.display.PrintSuccess(chat.DeletedMessage)
}

// showRecovery reports a corrupt document found while saving or deleting
func (r *repl) showRecovery() {
	if q := r.scope.Sessions.TakeQuarantine(); q != nil {
		printRecovery(r.display, q)
	}
}

func (r *repl) showAlert() {
	if alert, ok := r.scope.Chat.Alert(); ok {
		r.display.PrintAlert(alert)
		r.scope.Chat.DismissAlert()
	}
}
