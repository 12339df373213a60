// Package worker is an HTTP client for the image worker API.
//
// Endpoints used:
//
//	GET  /system_stats   readiness and device info
//	POST /prompt         submit a node graph
//	GET  /queue          running and pending prompt ids
//	GET  /history/{id}   execution record of a prompt
//	POST /interrupt      abort the running prompt
//
// Submit is never retried: the worker does not deduplicate submissions, so a
// second POST after an ambiguous failure could render the job twice.
// Read-only calls are safe to retry and WaitForCompletion does so.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	rgerrors "github.com/randalmurphal/rendergraph/pkg/rendergraph/errors"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response ends up in messages.
const maxErrorBody = 512

// Client talks to one worker.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClientID sets the client_id sent with submissions. Defaults to a
// random UUID.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the worker at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
		clientID: uuid.NewString(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the worker root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the id sent with submissions.
func (c *Client) ClientID() string { return c.clientID }

// Ping succeeds when the worker answers /system_stats with 200.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SystemStats(ctx)
	return err
}

// SystemStats fetches the worker's system and device description.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

type promptRequest struct {
	Prompt   *nodegraph.Graph `json:"prompt"`
	ClientID string           `json:"client_id"`
}

type rejection struct {
	Error      json.RawMessage      `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

// Submit posts g for execution. A 4xx answer is a *GraphValidationError; any
// other failure is returned as is. Submit does not retry.
func (c *Client) Submit(ctx context.Context, g *nodegraph.Graph) (*Submission, error) {
	body, err := json.Marshal(promptRequest{Prompt: g, ClientID: c.clientID})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	status, data, err := c.do(ctx, http.MethodPost, "/prompt", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return nil, parseRejection(status, data)
	}
	if status != http.StatusOK {
		return nil, c.httpError(status, http.MethodPost, "/prompt", "", data)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	if sub.PromptID == "" {
		return nil, fmt.Errorf("decode submission: missing prompt_id")
	}
	c.logger.Debug("prompt submitted",
		slog.String("prompt_id", sub.PromptID),
		slog.Int("number", sub.Number),
		slog.Int("nodes", g.Len()),
	)
	return &sub, nil
}

func parseRejection(status int, data []byte) *GraphValidationError {
	gve := &GraphValidationError{StatusCode: status}

	var r rejection
	if err := json.Unmarshal(data, &r); err != nil {
		gve.Message = truncate(string(data))
		return gve
	}
	gve.NodeErrors = r.NodeErrors

	// "error" is an object in current workers and a plain string in old ones.
	var detail ErrorDetail
	var text string
	switch {
	case json.Unmarshal(r.Error, &detail) == nil && (detail.Message != "" || detail.Type != ""):
		gve.Type = detail.Type
		gve.Message = detail.Message
	case json.Unmarshal(r.Error, &text) == nil:
		gve.Message = text
	}
	return gve
}

type queueResponse struct {
	Running [][]json.RawMessage `json:"queue_running"`
	Pending [][]json.RawMessage `json:"queue_pending"`
}

// Queue lists the running and pending prompt ids.
func (c *Client) Queue(ctx context.Context) (*Queue, error) {
	var resp queueResponse
	if err := c.getJSON(ctx, "/queue", "", &resp); err != nil {
		return nil, err
	}
	return &Queue{Running: promptIDs(resp.Running), Pending: promptIDs(resp.Pending)}, nil
}

// Queue items are [number, prompt_id, prompt, extra_data, outputs].
func promptIDs(items [][]json.RawMessage) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if len(item) < 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(item[1], &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// History returns the execution record of promptID, or ErrNotInHistory if
// the worker has none yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	var resp map[string]*HistoryEntry
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), promptID, &resp); err != nil {
		return nil, err
	}
	entry, ok := resp[promptID]
	if !ok || entry == nil {
		return nil, ErrNotInHistory
	}
	entry.PromptID = promptID
	return entry, nil
}

// Interrupt aborts whatever the worker is currently executing.
func (c *Client) Interrupt(ctx context.Context) error {
	status, data, err := c.do(ctx, http.MethodPost, "/interrupt", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.httpError(status, http.MethodPost, "/interrupt", "", data)
	}
	return nil
}

// WaitForCompletion polls history every poll until promptID has a record.
//
// A record with status "error" is an *ExecutionError. Transient HTTP
// failures are retried; permanent ones end the wait. A positive timeout
// bounds the wait and yields a *errors.TimeoutError when exceeded.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string, poll, timeout time.Duration) (*HistoryEntry, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var entry *HistoryEntry
	op := func() error {
		e, err := c.History(waitCtx, promptID)
		switch {
		case errors.Is(err, ErrNotInHistory):
			return err
		case err != nil && rgerrors.IsRetryable(err):
			return err
		case err != nil:
			return backoff.Permanent(err)
		case e.Status.Failed():
			return backoff.Permanent(&ExecutionError{PromptID: promptID, Message: e.Status.ErrorMessage()})
		}
		entry = e
		return nil
	}
	notify := func(err error, next time.Duration) {
		if !errors.Is(err, ErrNotInHistory) {
			c.logger.Debug("history poll failed",
				slog.String("prompt_id", promptID),
				slog.String("error", err.Error()),
				slog.Duration("next", next),
			)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(poll), waitCtx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &rgerrors.TimeoutError{Operation: "wait for completion", PromptID: promptID, Duration: timeout}
		}
		return nil, err
	}
	return entry, nil
}

// getJSON fetches path. promptID, if set, names the job in errors.
func (c *Client) getJSON(ctx context.Context, path, promptID string, out any) error {
	status, data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.httpError(status, http.MethodGet, path, promptID, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) httpError(status int, method, path, promptID string, data []byte) error {
	msg := truncate(strings.TrimSpace(string(data)))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &rgerrors.HTTPError{
		StatusCode: status,
		Method:     method,
		Endpoint:   path,
		PromptID:   promptID,
		Message:    msg,
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
