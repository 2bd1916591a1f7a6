package opencode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/logging"
)

// Client is the upstream runtime collaborator the bridge consumes.
type Client interface {
	CreateSession(ctx context.Context, directory string) (*Session, error)
	Prompt(ctx context.Context, sessionID string, parts []TextPartInput, opts PromptOptions) (*Message, error)
	Abort(ctx context.Context, sessionID string) error
	Shell(ctx context.Context, sessionID, command string) (*Message, error)
	Messages(ctx context.Context, sessionID string) ([]MessageWithParts, error)
	Command(ctx context.Context, sessionID, name, args string) (*Message, error)
	GetConfig(ctx context.Context) (*Config, error)
	Providers(ctx context.Context) ([]Provider, error)

	// Subscribe opens the single ordered event feed and yields raw event
	// payloads. It reconnects with exponential backoff; the channel closes
	// only when ctx is cancelled or reconnection gives up.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// HTTPClient talks to an OpenCode server over HTTP and SSE.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: prompt requests stay open for a full turn.
		http: &http.Client{},
		log:  logging.Component("opencode"),
	}
}

// CreateSession creates a new session rooted at directory.
func (c *HTTPClient) CreateSession(ctx context.Context, directory string) (*Session, error) {
	var sess Session
	body := map[string]string{"directory": directory}
	if err := c.do(ctx, http.MethodPost, "/session", body, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// Prompt sends user parts and blocks until the assistant message completes.
func (c *HTTPClient) Prompt(ctx context.Context, sessionID string, parts []TextPartInput, opts PromptOptions) (*Message, error) {
	body := map[string]any{"parts": parts}
	if opts.Agent != "" {
		body["agent"] = opts.Agent
	}
	if opts.Model != nil {
		body["model"] = opts.Model
	}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/message", body, &msg); err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return &msg, nil
}

// Abort interrupts the session's in-flight work.
func (c *HTTPClient) Abort(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

// Shell runs a command in the session and returns its message handle.
func (c *HTTPClient) Shell(ctx context.Context, sessionID, command string) (*Message, error) {
	var msg Message
	body := map[string]string{"command": command}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/shell", body, &msg); err != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}
	return &msg, nil
}

// Messages lists the session transcript.
func (c *HTTPClient) Messages(ctx context.Context, sessionID string) ([]MessageWithParts, error) {
	var msgs []MessageWithParts
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Command executes a named server-side command with arguments.
func (c *HTTPClient) Command(ctx context.Context, sessionID, name, args string) (*Message, error) {
	var msg Message
	body := map[string]string{"command": name, "arguments": args}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/command", body, &msg); err != nil {
		return nil, fmt.Errorf("command %s: %w", name, err)
	}
	return &msg, nil
}

// GetConfig fetches the server configuration.
func (c *HTTPClient) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.do(ctx, http.MethodGet, "/config", nil, &cfg); err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &cfg, nil
}

// Providers lists configured model providers.
func (c *HTTPClient) Providers(ctx context.Context) ([]Provider, error) {
	var resp struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/providers", nil, &resp); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return resp.Providers, nil
}

// Subscribe opens the SSE event feed.
func (c *HTTPClient) Subscribe(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go c.streamEvents(ctx, out)
	return out, nil
}

// streamEvents keeps the SSE connection alive, reconnecting with
// exponential backoff until ctx is cancelled or retries are exhausted.
func (c *HTTPClient) streamEvents(ctx context.Context, out chan<- []byte) {
	defer close(out)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0 // retry until cancelled
	policy := backoff.WithContext(b, ctx)

	for {
		err := c.readEventStream(ctx, out, func() { b.Reset() })
		if ctx.Err() != nil {
			return
		}
		next := policy.NextBackOff()
		if next == backoff.Stop {
			c.log.Error().Err(err).Msg("event feed reconnection gave up")
			return
		}
		c.log.Warn().Err(err).Dur("retryIn", next).Msg("event feed disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// readEventStream consumes one SSE connection until it fails.
func (c *HTTPClient) readEventStream(ctx context.Context, out chan<- []byte, onConnect func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}
	onConnect()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			continue // comments, event names, blank keep-alives
		}
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case out <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// do performs one JSON request/response cycle.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
