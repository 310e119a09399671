// Package chat holds the live conversation: it sends questions to the
// assistant, keeps the transcript, and hands finished transcripts to the
// session manager.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"car-assistant/internal/assistant"
	"car-assistant/internal/history"
)

var (
	// ErrBusy is returned by Ask while another question is in flight or
	// a save is running, and by Save while another save is running
	ErrBusy = errors.New("the conversation is busy")

	// ErrEmptyQuestion is returned by Ask for blank input
	ErrEmptyQuestion = errors.New("question is empty")
)

// Asker answers questions
type Asker interface {
	Ask(ctx context.Context, question string) (assistant.Answer, error)
}

// Saver persists transcripts
type Saver interface {
	SaveSession(ctx context.Context, transcript history.Transcript) (history.Session, error)
}

// Controller manages one live transcript. It is safe for concurrent use;
// the UI may render while an ask is in flight.
type Controller struct {
	asker   Asker
	saver   Saver
	timeout time.Duration
	logger  *log.Logger

	mu         sync.Mutex
	transcript history.Transcript
	inFlight   bool
	saving     bool
	epoch      int // bumped by Reset and Open to drop answers for a cleared transcript
	revision   int // bumped by every transcript change
	alert      *Alert
	editIndex  int
	editText   string
}

// NewController creates a controller. timeout bounds each ask; zero
// leaves it to the caller's context.
func NewController(asker Asker, saver Saver, timeout time.Duration, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		asker:      asker,
		saver:      saver,
		timeout:    timeout,
		logger:     logger,
		transcript: history.Transcript{},
		editIndex:  -1,
	}
}

// Ask appends question to the transcript right away, then asks the
// assistant and appends its answer. On failure the question stays and an
// alert is raised. Blank input and calls made while another ask is
// pending change nothing and return ErrEmptyQuestion or ErrBusy.
func (c *Controller) Ask(ctx context.Context, question string) error {
	c.mu.Lock()
	if c.inFlight || c.saving {
		c.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(question) == "" {
		c.mu.Unlock()
		return ErrEmptyQuestion
	}
	c.transcript = append(c.transcript, history.Turn{Kind: history.Question, Text: question})
	c.revision++
	c.inFlight = true
	c.alert = nil
	epoch := c.epoch
	c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	answer, err := c.asker.Ask(ctx, question)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if epoch != c.epoch {
		// The transcript was reset or replaced while waiting.
		return err
	}
	if err != nil {
		c.logger.Printf("ASK_ALERT | error=%v", err)
		c.alert = &Alert{Kind: AlertAsk, Err: err}
		return err
	}

	turn := history.Turn{Kind: history.Answer, Text: answer.Text, Images: answer.Images}
	c.transcript = append(c.transcript, turn.Clone())
	c.revision++
	return nil
}

// EditTurn stages the question at index for editing, replacing any edit
// already staged. It returns false, changing nothing, when index is not a
// question.
func (c *Controller) EditTurn(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.transcript) || c.transcript[index].Kind != history.Question {
		return false
	}
	c.editIndex = index
	c.editText = c.transcript[index].Text
	return true
}

// SetEditText replaces the staged text
func (c *Controller) SetEditText(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.editIndex < 0 {
		return false
	}
	c.editText = text
	return true
}

// Editing reports the staged edit, if any
func (c *Controller) Editing() (index int, text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editIndex, c.editText, c.editIndex >= 0
}

// CommitEdit writes the staged text over the question in place. The answer
// that follows it is left as it was.
func (c *Controller) CommitEdit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.editIndex < 0 || c.editIndex >= len(c.transcript) {
		return false
	}
	c.transcript[c.editIndex].Text = c.editText
	c.revision++
	c.clearEditLocked()
	return true
}

// CancelEdit discards the staged edit
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearEditLocked()
}

// Reset empties the transcript and clears alert and edit state
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(history.Transcript{})
}

// Open replaces the transcript with a copy of a saved session so it can be
// continued. Saving it again creates a new session.
func (c *Controller) Open(session history.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(session.Conversation.Clone())
}

// Save hands a copy of the transcript to the saver and resets the
// controller if, and only if, the save succeeded. Questions are refused
// while the save runs. If the transcript changed anyway, by an answer or an
// edit landing meanwhile, it is kept so nothing unsaved is lost.
func (c *Controller) Save(ctx context.Context) (history.Session, error) {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return history.Session{}, ErrBusy
	}
	c.saving = true
	snapshot := c.transcript.Clone()
	revision := c.revision
	c.mu.Unlock()

	session, err := c.saver.SaveSession(ctx, snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving = false

	if err != nil {
		c.logger.Printf("ALERT | kind=%d error=%v", AlertSave, err)
		c.alert = &Alert{Kind: AlertSave, Err: err}
		return history.Session{}, err
	}
	if c.revision == revision {
		c.resetLocked(history.Transcript{})
	}
	return session, nil
}

// Transcript returns a copy of the live transcript
func (c *Controller) Transcript() history.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Clone()
}

// Busy reports whether an ask or a save is pending
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight || c.saving
}

// Alert returns the current alert, if any
func (c *Controller) Alert() (Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alert == nil {
		return Alert{}, false
	}
	return *c.alert, true
}

// DismissAlert clears the current alert
func (c *Controller) DismissAlert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alert = nil
}

// ReportError raises an alert for a failure outside the controller, such
// as a failed delete from the saved-chat list. The transcript is not touched.
func (c *Controller) ReportError(kind AlertKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Printf("ALERT | kind=%d error=%v", kind, err)
	c.alert = &Alert{Kind: kind, Err: err}
}

func (c *Controller) resetLocked(transcript history.Transcript) {
	c.transcript = transcript
	c.alert = nil
	c.clearEditLocked()
	c.epoch++
	c.revision++
}

func (c *Controller) clearEditLocked() {
	c.editIndex = -1
	c.editText = ""
}
