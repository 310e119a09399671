package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"car-assistant/internal/chat"
	"car-assistant/internal/history"
	"car-assistant/internal/terminal"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	answerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	idStyle       = lipgloss.NewStyle().Width(26)
	whenStyle     = lipgloss.NewStyle().Width(22)
)

// Display renders the chat and the saved-chat list to a terminal
type Display struct {
	out      io.Writer
	width    int
	location *time.Location
	renderer *glamour.TermRenderer
}

// NewDisplay creates a display writing to out. With renderMarkdown set,
// answers are rendered as markdown.
func NewDisplay(out io.Writer, renderMarkdown bool) *Display {
	width := terminal.Width(out)

	d := &Display{
		out:      out,
		width:    width,
		location: time.Local,
	}

	if renderMarkdown {
		style := glamour.WithStandardStyle("notty")
		if f, ok := out.(*os.File); ok && terminal.IsTTY(f) {
			style = glamour.WithAutoStyle()
		}
		// Create markdown renderer; plain text is used if this fails
		renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width-4))
		if err == nil {
			d.renderer = renderer
		}
	}
	return d
}

// SetLocation sets the zone used to show timestamps
func (d *Display) SetLocation(loc *time.Location) {
	d.location = loc
}

// PrintWelcome displays the welcome message
func (d *Display) PrintWelcome(userID string) {
	fmt.Fprintln(d.out, titleStyle.Render("car-assistant · ask your owner's manual"))
	if userID != "" {
		fmt.Fprintln(d.out, dimStyle.Render("Signed in as "+userID))
	} else {
		fmt.Fprintln(d.out, dimStyle.Render("Not signed in; chats are saved on this device only"))
	}
	fmt.Fprintln(d.out, dimStyle.Render("Commands: /save | /reset | /show | /edit N | /commit | /cancel | /history | /open ID | /delete ID | /exit"))
	fmt.Fprintln(d.out)
}

// PrintPrompt displays the input prompt
func (d *Display) PrintPrompt() {
	fmt.Fprint(d.out, questionStyle.Render("❯")+" ")
}

// PrintEditPrompt shows the question being edited
func (d *Display) PrintEditPrompt(index int, text string) {
	fmt.Fprintf(d.out, "%s %s\n", dimStyle.Render(fmt.Sprintf("editing #%d:", index)), text)
	fmt.Fprintln(d.out, dimStyle.Render("Type the new text, then /commit or /cancel"))
}

// PrintPending shows that an answer is being fetched
func (d *Display) PrintPending() {
	fmt.Fprintln(d.out, dimStyle.Render("Fetching answer..."))
}

// PrintTranscript renders every turn, numbered so turns can be edited
func (d *Display) PrintTranscript(transcript history.Transcript) {
	if len(transcript) == 0 {
		fmt.Fprintln(d.out, dimStyle.Render("(empty conversation)"))
		return
	}
	for i, turn := range transcript {
		d.PrintTurn(i, turn)
	}
}

// PrintTurn renders one turn
func (d *Display) PrintTurn(index int, turn history.Turn) {
	switch turn.Kind {
	case history.Question:
		fmt.Fprintf(d.out, "%s %s\n", questionStyle.Render(fmt.Sprintf("[%d] You:", index)), turn.Text)
	default:
		fmt.Fprintln(d.out, answerStyle.Render(fmt.Sprintf("[%d] Assistant:", index)))
		fmt.Fprintln(d.out, d.renderAnswer(turn.Text))
		if n := len(turn.Images); n > 0 {
			fmt.Fprintln(d.out, dimStyle.Render(pluralize(n, "image", "images")+" attached"))
		}
	}
}

// PrintSessions renders the saved-chat list, newest first
func (d *Display) PrintSessions(sessions []history.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(d.out, dimStyle.Render("No saved chats"))
		return
	}
	fmt.Fprintln(d.out, titleStyle.Render(fmt.Sprintf("Saved chats (%d)", len(sessions))))
	for _, s := range sessions {
		fmt.Fprintf(d.out, "%s%s%s\n",
			idStyle.Render(s.ID),
			whenStyle.Render(d.FormatTimestamp(s.Timestamp)),
			s.Name)
	}
}

// PrintSession renders one saved chat with its header
func (d *Display) PrintSession(s history.Session) {
	fmt.Fprintln(d.out, titleStyle.Render(s.Name))
	fmt.Fprintln(d.out, dimStyle.Render(fmt.Sprintf("%s · %s", d.FormatTimestamp(s.Timestamp), pluralize(len(s.Conversation), "turn", "turns"))))
	fmt.Fprintln(d.out)
	d.PrintTranscript(s.Conversation)
}

// FormatTimestamp shows a session timestamp in the display's time zone.
// Unparseable values are shown as stored.
func (d *Display) FormatTimestamp(ts string) string {
	t, err := history.ParseID(ts)
	if err != nil {
		return ts
	}
	return t.In(d.location).Format("2006-01-02 15:04:05")
}

// PrintAlert displays a user-visible failure
func (d *Display) PrintAlert(alert chat.Alert) {
	fmt.Fprintln(d.out, errorStyle.Render("✗ "+alert.Message()))
}

// PrintInfo displays info message
func (d *Display) PrintInfo(msg string) {
	fmt.Fprintln(d.out, infoStyle.Render("ℹ "+msg))
}

// PrintWarning displays warning message
func (d *Display) PrintWarning(msg string) {
	fmt.Fprintln(d.out, warnStyle.Render("⚠ "+msg))
}

// PrintError displays error message
func (d *Display) PrintError(err error) {
	fmt.Fprintln(d.out, errorStyle.Render(fmt.Sprintf("✗ Error: %v", err)))
}

// PrintSuccess displays success message
func (d *Display) PrintSuccess(msg string) {
	fmt.Fprintln(d.out, successStyle.Render("✓ "+msg))
}

// PrintGoodbye displays goodbye message
func (d *Display) PrintGoodbye() {
	fmt.Fprintln(d.out, titleStyle.Render("Drive safe!"))
}

func (d *Display) renderAnswer(text string) string {
	if d.renderer == nil {
		return text
	}
	rendered, err := d.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
