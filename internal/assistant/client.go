// Package assistant talks to the car-manual question answering service.
package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the hosted question answering service
	DefaultBaseURL = "https://manual-final.onrender.com"

	// DefaultTimeout bounds one ask round trip
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps the response body; answers carry inline images
	MaxResponseSize = 32 * 1024 * 1024
)

var (
	// ErrBadStatus is matched by StatusError
	ErrBadStatus = errors.New("unexpected status from assistant")

	// ErrMalformedResponse means the body did not match the answer schema
	ErrMalformedResponse = errors.New("malformed assistant response")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("assistant returned status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("assistant returned status %d", e.Status)
}

// Is lets errors.Is(err, ErrBadStatus) match any StatusError
func (e *StatusError) Is(target error) bool {
	return target == ErrBadStatus
}

// Client handles communication with the question answering service
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates a client. requestsPerMinute <= 0 disables pacing.
func NewClient(baseURL string, timeout time.Duration, requestsPerMinute int, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// Ask sends one question and returns the validated answer. Failures are
// never retried.
func (c *Client) Ask(ctx context.Context, question string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("question cannot be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Answer{}, fmt.Errorf("request not sent: %w", err)
	}

	jsonData, err := json.Marshal(AskRequest{Question: question})
	if err != nil {
		return Answer{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/ask", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return Answer{}, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Printf("ASK_FAILED | request=%s error=%v", requestID, err)
		return Answer{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		c.logger.Printf("ASK_FAILED | request=%s status=%d error=%v", requestID, resp.StatusCode, err)
		return Answer{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("ASK_FAILED | request=%s status=%d duration=%v", requestID, resp.StatusCode, time.Since(start))
		return Answer{}, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	if len(body) > MaxResponseSize {
		return Answer{}, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, MaxResponseSize)
	}

	answer, err := decodeAnswer(body)
	if err != nil {
		c.logger.Printf("ASK_FAILED | request=%s status=%d error=%v", requestID, resp.StatusCode, err)
		return Answer{}, err
	}

	c.logger.Printf("ASK | request=%s status=%d duration=%v images=%d", requestID, resp.StatusCode, time.Since(start), len(answer.Images))
	return answer, nil
}

// decodeAnswer validates the body against the answer schema
func decodeAnswer(body []byte) (Answer, error) {
	var raw askResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Answer == nil {
		return Answer{}, fmt.Errorf("%w: missing answer", ErrMalformedResponse)
	}

	for i, img := range raw.Images {
		if _, err := base64.StdEncoding.DecodeString(img); err != nil {
			return Answer{}, fmt.Errorf("%w: image %d is not base64: %v", ErrMalformedResponse, i, err)
		}
	}

	answer := Answer{Text: *raw.Answer}
	if len(raw.Images) > 0 {
		answer.Images = raw.Images
	}
	return answer, nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
