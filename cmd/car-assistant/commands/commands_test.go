package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"car-assistant/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	dataDir string
	blobDir string
	apiURL  string
}

func newHarness(t *testing.T, answer string) *harness {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if answer == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(answer))
	}))
	t.Cleanup(server.Close)

	root := t.TempDir()
	return &harness{
		dataDir: filepath.Join(root, "data"),
		blobDir: filepath.Join(root, "mirror"),
		apiURL:  server.URL,
	}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))

	// Later flags win, so per-test args can override these
	base := []string{
		"--config=" + filepath.Join(h.dataDir, "missing.toml"),
		"--data-dir=" + h.dataDir,
		"--api-url=" + h.apiURL,
		"--user=user-42",
		"--backend=dir",
		"--blob-dir=" + h.blobDir,
		"--no-markdown",
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) saved(t *testing.T) []history.Session {
	t.Helper()
	list, err := history.NewStore(filepath.Join(h.dataDir, history.DefaultFileName)).Read()
	require.NoError(t, err)
	return list
}

func TestChat_AskAndSave(t *testing.T) {
	h := newHarness(t, `{"answer":"32 psi","images":["aGVsbG8="]}`)

	out, err := h.run(t, "What is the tire pressure?\n/save\n/exit\n")
	require.NoError(t, err)

	assert.Contains(t, out, "32 psi")
	assert.Contains(t, out, "1 image attached")
	assert.Contains(t, out, "Chat saved successfully!")

	list := h.saved(t)
	require.Len(t, list, 1)
	assert.Equal(t, "What is the tire pre...", list[0].Name)
	assert.FileExists(t, filepath.Join(h.blobDir, "user-42", "chats", list[0].ID+".json"))
}

func TestChat_AskFailureShowsAlert(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.run(t, "hello\n/show\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Failed to fetch the answer. Please try again.")
	assert.Contains(t, out, "[0] You:")
	assert.Contains(t, out, "hello")
	assert.Empty(t, h.saved(t))
}

func TestChat_EditCommit(t *testing.T) {
	h := newHarness(t, `{"answer":"32 psi"}`)

	out, err := h.run(t, "tire presure\n/edit 0\ntire pressure\n/commit\n/edit 1\n/save\n")
	require.NoError(t, err)

	assert.Contains(t, out, "editing #0:")
	assert.Contains(t, out, "Usage: /edit N")

	list := h.saved(t)
	require.Len(t, list, 1)
	assert.Equal(t, "tire pressure", list[0].Conversation[0].Text)
	assert.Equal(t, "32 psi", list[0].Conversation[1].Text)
}

func TestChat_OpenAndDelete(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "first question\n/save\n")
	require.NoError(t, err)
	id := h.saved(t)[0].ID

	out, err := h.run(t, "/history\n/open "+id+"\n/delete "+id+"\n/delete "+id+"\n/open nope\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Saved chats (1)")
	assert.Contains(t, out, "first question")
	assert.Equal(t, 2, strings.Count(out, "Chat deleted successfully!"), "deleting twice is a no-op, not a failure")
	assert.Contains(t, out, "session not found")
	assert.Empty(t, h.saved(t))
	assert.NoFileExists(t, filepath.Join(h.blobDir, "user-42", "chats", id+".json"))
}

func TestSessionsCommands(t *testing.T) {
	h := newHarness(t, `{"answer":"see page 12","images":["aGVsbG8="]}`)

	_, err := h.run(t, "where is the jack\n/save\n")
	require.NoError(t, err)
	id := h.saved(t)[0].ID

	out, err := h.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "where is the jack...")

	imagesDir := filepath.Join(t.TempDir(), "img")
	out, err = h.run(t, "", "sessions", "show", id, "--images-dir", imagesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "see page 12")
	entries, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = h.run(t, "", "sessions", "show", "missing")
	assert.Error(t, err)

	out, err = h.run(t, "", "sessions", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Chat deleted successfully!")
	assert.Empty(t, h.saved(t))
}

func TestReconcileCommand(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "q\n/save\n")
	require.NoError(t, err)
	id := h.saved(t)[0].ID

	// Saved from another device, so this one never listed it.
	elsewhere := filepath.Join(h.blobDir, "user-42", "chats", "2020-01-01T00:00:00.000Z.json")
	require.NoError(t, os.WriteFile(elsewhere, []byte(`{}`), 0o600))
	require.NoError(t, os.Remove(filepath.Join(h.blobDir, "user-42", "chats", id+".json")))

	out, err := h.run(t, "", "reconcile")
	require.NoError(t, err)

	assert.Contains(t, out, "uploaded "+id)
	assert.Contains(t, out, "kept remote-only 2020-01-01T00:00:00.000Z")
	assert.FileExists(t, elsewhere)
	assert.FileExists(t, filepath.Join(h.blobDir, "user-42", "chats", id+".json"))

	out, err = h.run(t, "", "reconcile", "--prune")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted orphan 2020-01-01T00:00:00.000Z")
	assert.NoFileExists(t, elsewhere)
}

func TestReconcileCommand_NoRemote(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "", "reconcile", "--backend=none")
	assert.ErrorContains(t, err, "remote storage unavailable")
}

// corruptHistory appends an entry with an unknown turn type to the saved
// chats document
func (h *harness) corruptHistory(t *testing.T) {
	t.Helper()
	path := filepath.Join(h.dataDir, history.DefaultFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &entries))
	entries = append(entries, json.RawMessage(`{"id":"2020-01-01T00:00:00.000Z","timestamp":"2020-01-01T00:00:00.000Z","name":"n","conversation":[{"type":"transcription","text":"x"}]}`))
	data, err = json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func backups(t *testing.T, h *harness) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dataDir, history.DefaultFileName+".corrupt-*"))
	require.NoError(t, err)
	return matches
}

func TestChat_CorruptHistoryIsReported(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "first question\n/save\n")
	require.NoError(t, err)
	id := h.saved(t)[0].ID
	h.corruptHistory(t)

	out, err := h.run(t, "/history\n")
	require.NoError(t, err)

	found := backups(t, h)
	require.Len(t, found, 1)
	assert.Contains(t, out, "Saved chats were damaged. Unreadable chats were set aside.")
	assert.Contains(t, out, "Kept 1 readable chat(s). The damaged file was saved to "+found[0])
	assert.Equal(t, 1, strings.Count(out, "Saved chats were damaged"), "reported once")
	assert.Contains(t, out, "Saved chats (1)")
	assert.Contains(t, out, id)
}

func TestSessionsList_CorruptHistoryIsReported(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "where is the jack\n/save\n")
	require.NoError(t, err)
	id := h.saved(t)[0].ID
	h.corruptHistory(t)

	out, err := h.run(t, "", "sessions", "list")
	require.NoError(t, err)

	found := backups(t, h)
	require.Len(t, found, 1)
	assert.Contains(t, out, "Saved chats were damaged.")
	assert.Contains(t, out, found[0])
	assert.Contains(t, out, id)

	list := h.saved(t)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t, `{"answer":"a"}`)

	_, err := h.run(t, "", "sessions", "list", "--backend=s3")
	assert.ErrorContains(t, err, "configuration error")
}
