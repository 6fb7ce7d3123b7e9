// Package openai is a minimal client for the Responses API: one blocking
// call, no streaming, no retries.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const maxErrorBody = 64 << 10

type Reasoning struct {
	Effort string `json:"effort,omitempty"`
}

type TextOptions struct {
	Verbosity string `json:"verbosity,omitempty"`
}

type Request struct {
	Model           string       `json:"model"`
	Instructions    string       `json:"instructions,omitempty"`
	Input           string       `json:"input"`
	Reasoning       *Reasoning   `json:"reasoning,omitempty"`
	Text            *TextOptions `json:"text,omitempty"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type OutputItem struct {
	Type    string        `json:"type"`
	Content []ContentPart `json:"content"`
}

// Response keeps only the fields needed to recover the answer text.
type Response struct {
	ID         string       `json:"id"`
	OutputText string       `json:"output_text"`
	Output     []OutputItem `json:"output"`
}

// Text returns the trimmed top-level output_text when present, otherwise the
// trimmed output_text parts of message items joined by newlines.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	if t := strings.TrimSpace(r.OutputText); t != "" {
		return t
	}
	var chunks []string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type != "output_text" {
				continue
			}
			if t := strings.TrimSpace(part.Text); t != "" {
				chunks = append(chunks, t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d", e.StatusCode)
}

// ErrTimeout marks a call that ran past its deadline.
var ErrTimeout = errors.New("openai: request timed out")

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) CreateResponse(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
