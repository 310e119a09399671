package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ask", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req AskRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestAsk_Success(t *testing.T) {
	var gotQuestion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotQuestion = req.Question
		w.Write([]byte(`{"answer":"32 psi","images":["aGVsbG8=","d29ybGQ="]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second, 0, nil)
	answer, err := client.Ask(context.Background(), "What is the tire pressure?")
	require.NoError(t, err)

	assert.Equal(t, "What is the tire pressure?", gotQuestion)
	assert.Equal(t, "32 psi", answer.Text)
	assert.Equal(t, []string{"aGVsbG8=", "d29ybGQ="}, answer.Images)
}

func TestAsk_NoImages(t *testing.T) {
	for _, body := range []string{`{"answer":"Hello"}`, `{"answer":"Hello","images":[]}`} {
		server, _ := newTestServer(t, http.StatusOK, body)
		answer, err := NewClient(server.URL, time.Second, 0, nil).Ask(context.Background(), "hello")
		require.NoError(t, err, body)
		assert.Equal(t, "Hello", answer.Text)
		assert.Nil(t, answer.Images, body)
	}
}

func TestAsk_EmptyAnswerIsValid(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK, `{"answer":""}`)
	answer, err := NewClient(server.URL, time.Second, 0, nil).Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "", answer.Text)
}

func TestAsk_BadStatus(t *testing.T) {
	server, _ := newTestServer(t, http.StatusBadRequest, `{"error":"No question provided"}`)

	_, err := NewClient(server.URL, time.Second, 0, nil).Ask(context.Background(), "q")
	require.ErrorIs(t, err, ErrBadStatus)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Contains(t, statusErr.Body, "No question provided")
}

func TestAsk_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>502 Bad Gateway</html>`},
		{"missing answer", `{"images":[]}`},
		{"null answer", `{"answer":null}`},
		{"answer not a string", `{"answer":42}`},
		{"images not a list", `{"answer":"a","images":"aGVsbG8="}`},
		{"image not base64", `{"answer":"a","images":["not base64!"]}`},
		{"array body", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, http.StatusOK, tt.body)
			_, err := NewClient(server.URL, time.Second, 0, nil).Ask(context.Background(), "q")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestAsk_EmptyQuestionNeverSent(t *testing.T) {
	server, calls := newTestServer(t, http.StatusOK, `{"answer":"a"}`)

	_, err := NewClient(server.URL, time.Second, 0, nil).Ask(context.Background(), "   ")
	assert.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestAsk_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(server.URL, 50*time.Millisecond, 0, nil).Ask(context.Background(), "q")
	assert.Error(t, err)
}

func TestAsk_ContextCanceledBeforeRateLimit(t *testing.T) {
	server, calls := newTestServer(t, http.StatusOK, `{"answer":"a"}`)
	client := NewClient(server.URL, time.Second, 1, nil)

	_, err := client.Ask(context.Background(), "first")
	require.NoError(t, err)

	// The second request would have to wait a minute for a token.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Ask(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusError_Message(t *testing.T) {
	assert.Equal(t, "assistant returned status 503", (&StatusError{Status: 503}).Error())
	assert.Equal(t, "assistant returned status 500: boom", (&StatusError{Status: 500, Body: "boom"}).Error())
}
