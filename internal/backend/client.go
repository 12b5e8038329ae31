// Package backend is the HTTP client for the script backend: it starts and
// stops runs and fetches the script catalog and device list.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

const defaultRequestTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

var errBadResponse = errors.New("unexpected backend response")

// Client talks to the backend API rooted at baseURL (e.g.
// http://localhost:8080/api).
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// New creates a Client with its own http.Client.
func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

// NewWithClient creates a Client that sends requests through client.
func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: defaultRequestTimeout,
	}
}

// WithTimeout returns a copy whose requests are bounded by timeout. Zero
// leaves requests bounded only by the caller's context.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.timeout = timeout
	return &clone
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestError is a non-2xx answer from the backend.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

type runRequest struct {
	ScriptID string `json:"scriptId"`
	Params   string `json:"params"`
}

type runResponse struct {
	RunID string `json:"runId"`
}

type stopRequest struct {
	RunID string `json:"runId"`
}

// StartRun asks the backend to run scriptRef. Params travel as a
// JSON-encoded string, the form the backend's run endpoint expects.
func (c *Client) StartRun(ctx context.Context, scriptRef string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", errors.NewRunError("params are not JSON encodable", errors.ErrInvalidInput).
			WithScript(scriptRef)
	}

	var resp runResponse
	err = c.request(ctx, http.MethodPost, "/run", runRequest{ScriptID: scriptRef, Params: string(encoded)}, &resp)
	if err != nil {
		return "", c.failure(err, errors.ErrRunStartFailed).WithScript(scriptRef)
	}
	if resp.RunID == "" {
		return "", errors.NewRunError("backend returned no run id", errors.ErrRunStartFailed).
			WithScript(scriptRef)
	}
	return resp.RunID, nil
}

// StopRun asks the backend to stop runID.
func (c *Client) StopRun(ctx context.Context, runID string) error {
	if err := c.request(ctx, http.MethodPost, "/stop", stopRequest{RunID: runID}, nil); err != nil {
		return c.failure(err, errors.ErrRunStopFailed).WithRunID(runID)
	}
	return nil
}

// ListScripts fetches the script catalog.
func (c *Client) ListScripts(ctx context.Context) ([]catalog.Script, error) {
	var scripts []catalog.Script
	if err := c.request(ctx, http.MethodGet, "/scripts", nil, &scripts); err != nil {
		return nil, c.failure(err, errors.ErrBackendUnavailable)
	}
	return scripts, nil
}

// ListDevices fetches the serials of attached devices.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	var devices []string
	if err := c.request(ctx, http.MethodGet, "/devices", nil, &devices); err != nil {
		return nil, c.failure(err, errors.ErrBackendUnavailable)
	}
	if devices == nil {
		devices = []string{}
	}
	return devices, nil
}

// failure turns a transport or HTTP error into a RunError whose message
// is fit to show the operator.
func (c *Client) failure(err error, sentinel error) *errors.RunError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Message
		if msg == "" {
			msg = http.StatusText(reqErr.StatusCode)
		}
		return errors.NewRunError(msg, errors.Join(sentinel, reqErr)).WithStatusCode(reqErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		timeout := errors.NewTimeoutError("backend request", c.timeout).WithCause(err)
		return errors.NewRunError("backend did not answer in time", errors.Join(sentinel, timeout)).
			WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return errors.NewRunError("request canceled", errors.Join(sentinel, errors.ErrCanceled, err)).
			WithSeverity(errors.SeverityInfo)
	}
	if errors.Is(err, errBadResponse) {
		return errors.NewRunError(err.Error(), errors.Join(sentinel, err)).WithUserFacing(false)
	}
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		cause = urlErr.Err
	}
	return errors.NewRunError("backend unreachable: "+cause.Error(), errors.Join(sentinel, errors.ErrBackendUnavailable, err)).
		WithRetryable(true)
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	reqCtx := ctx
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestError{StatusCode: resp.StatusCode, Message: errorMessage(payload)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", errBadResponse, path, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or falls back to the trimmed body.
func errorMessage(payload []byte) string {
	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(payload))
}
