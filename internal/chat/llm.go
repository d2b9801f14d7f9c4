package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrLLMUnavailable wraps transport failures against the LLM backend.
var ErrLLMUnavailable = errors.New("LLM backend unavailable")

// ErrBadChunk marks a malformed upstream chunk. The stream continues past
// these; they are logged and skipped.
var ErrBadChunk = errors.New("malformed stream chunk")

// ChatMessage is one turn in the prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is the normalized form of one upstream chunk.
type StreamChunk struct {
	Content  string
	Thinking string
	Done     bool
}

// ModelInfo describes one model the backend can serve.
type ModelInfo struct {
	Name string `json:"name"`
}

// LLMClient talks to an Ollama-compatible backend: NDJSON streaming chat at
// /api/chat and the model list at /api/tags.
type LLMClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

func NewLLMClient(baseURL, defaultModel string) *LLMClient {
	return &LLMClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		// Streams may be long-lived; no client-level timeout. Cancellation
		// comes from the request context.
		httpClient: &http.Client{},
	}
}

// Model resolves an optional requested model to a concrete one.
func (c *LLMClient) Model(requested string) string {
	if requested != "" {
		return requested
	}
	return c.defaultModel
}

// Stream opens a streaming chat completion. The caller must Close the
// returned stream.
func (c *LLMClient) Stream(ctx context.Context, model string, messages []ChatMessage, temperature *float64) (*LLMStream, error) {
	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	if temperature != nil {
		body["options"] = map[string]any{"temperature": *temperature}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrLLMUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LLMStream{body: resp.Body, scanner: scanner}, nil
}

// ListModels fetches the models the backend currently serves.
func (c *LLMClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLLMUnavailable, resp.StatusCode)
	}

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	return out.Models, nil
}

// LLMStream reads newline-delimited JSON chunks from an open completion.
type LLMStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

type upstreamChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Recv returns the next chunk, io.EOF at upstream end, or ErrBadChunk for a
// line that did not parse (the stream remains usable).
func (s *LLMStream) Recv() (*StreamChunk, error) {
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk upstreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadChunk, err)
		}
		return &StreamChunk{
			Content:  chunk.Message.Content,
			Thinking: chunk.Message.Thinking,
			Done:     chunk.Done,
		}, nil
	}
}

func (s *LLMStream) Close() error {
	return s.body.Close()
}
