// Package ollama talks to a local Ollama server's generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crunchypi/crunchypi/internal/stream"
)

const (
	// DefaultBaseURL is the default Ollama API endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultGeneratePath is appended to the base URL for every call.
	DefaultGeneratePath = "/api/generate"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "qwen2-math:1.5b"

	// maxErrorBody caps how much of a failed response is kept for diagnostics.
	maxErrorBody = 4096
)

// ErrEmptyPrompt is returned before any request is made for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Client issues generate requests. It holds no per-request state, so one
// Client may serve concurrent calls; each call decodes into its own state.
type Client struct {
	endpoint   string
	model      string
	readSize   int
	httpClient *http.Client
}

// Option is a functional option for configuring Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	path       string
	model      string
	readSize   int
	httpClient *http.Client
}

// WithBaseURL sets the server base URL, e.g. http://localhost:11434.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithGeneratePath overrides the generation path.
func WithGeneratePath(path string) Option {
	return func(o *clientOptions) {
		o.path = path
	}
}

// WithModel sets the model name sent with every request.
func WithModel(model string) Option {
	return func(o *clientOptions) {
		o.model = model
	}
}

// WithReadSize sets the largest chunk read from the response at once.
func WithReadSize(n int) Option {
	return func(o *clientOptions) {
		o.readSize = n
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// New builds a client. It fails when the base URL is not an absolute
// http(s) URL.
func New(opts ...Option) (*Client, error) {
	o := clientOptions{
		baseURL:  DefaultBaseURL,
		path:     DefaultGeneratePath,
		model:    DefaultModel,
		readSize: stream.DefaultReadSize,
		// No timeout: generation can stream for minutes. Callers bound the
		// call with a context deadline instead.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint, err := buildEndpoint(o.baseURL, o.path)
	if err != nil {
		return nil, err
	}

	return &Client{
		endpoint:   endpoint,
		model:      o.model,
		readSize:   o.readSize,
		httpClient: o.httpClient,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Run streams a completion for prompt, handing each token to l as it
// arrives, and returns the full text.
func (c *Client) Run(ctx context.Context, prompt string, l stream.Listener) (string, error) {
	res, err := c.Stream(ctx, prompt, l)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Stream is Run with the terminal record and counters kept.
func (c *Client) Stream(ctx context.Context, prompt string, l stream.Listener) (stream.Result, error) {
	resp, err := c.post(ctx, prompt, true)
	if err != nil {
		return stream.Result{}, err
	}
	defer resp.Body.Close()

	return stream.Decode(ctx, resp.Body, l, c.readSize)
}

// Generate asks for a non-streamed completion and returns its text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &stream.TransportError{Op: "read", Err: err}
	}

	var rec stream.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return rec.Token, nil
}

func (c *Client) post(ctx context.Context, prompt string, streaming bool) (*http.Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	body, err := json.Marshal(stream.Request{
		Model:  c.model,
		Prompt: prompt,
		Stream: streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &stream.TransportError{Op: "connect", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &stream.TransportError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	return resp, nil
}
