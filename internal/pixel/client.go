package pixel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	userAgent = "insight-bridge/0.1"

	newInsightPath = "/api/insight/new"
	runPixelPath   = "/api/engine/runPixel"
	partialPath    = "/api/engine/partial"
)

// InsightState is the session handle returned by the vendor on insight open.
type InsightState struct {
	InsightID   string `json:"insightId"`
	Initialized bool   `json:"initialized"`
	Authorized  bool   `json:"authorized"`
}

// RunResult is the vendor's pixel execution envelope.
type RunResult struct {
	InsightID   string        `json:"insightID"`
	PixelReturn []PixelReturn `json:"pixelReturn"`
	Errors      []string      `json:"errors"`
}

// PixelReturn carries one pixel's output. Output is left raw: the vendor
// returns either an object ({response, numberOfTokensInResponse}), a bare
// string, or nothing at all, and the caller decides how to read it.
type PixelReturn struct {
	Output        json.RawMessage `json:"output"`
	OperationType []string        `json:"operationType"`
}

// PartialResult is the cumulative in-flight output for a running pixel.
type PartialResult struct {
	Message PartialMessage `json:"message"`
}

// PartialMessage holds the text materialized so far. Total is cumulative;
// New is the vendor's own delta and is not consumed here.
type PartialMessage struct {
	Total string `json:"total"`
	New   string `json:"new"`
}

// Client talks to the vendor insight/pixel HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// New creates a vendor client. The http client must not be nil.
func New(baseURL, apiKey string, headers map[string]string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		headers: headers,
		client:  client,
	}, nil
}

// OpenInsight creates and initializes a new insight session.
func (c *Client) OpenInsight(ctx context.Context) (InsightState, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+newInsightPath, nil)
	if err != nil {
		return InsightState{}, err
	}

	var state InsightState
	if err := c.do(req, &state); err != nil {
		return InsightState{}, fmt.Errorf("open insight: %w", err)
	}
	return state, nil
}

// RunPixel executes a pixel expression against the given insight and returns
// the vendor's result envelope.
func (c *Client) RunPixel(ctx context.Context, expression, insightID string) (RunResult, error) {
	form := url.Values{}
	form.Set("expression", expression)
	form.Set("insightId", insightID)

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+runPixelPath, strings.NewReader(form.Encode()))
	if err != nil {
		return RunResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result RunResult
	if err := c.do(req, &result); err != nil {
		return RunResult{}, fmt.Errorf("run pixel: %w", err)
	}
	return result, nil
}

// Partial fetches the cumulative output generated so far for an in-flight
// pixel on the given insight.
func (c *Client) Partial(ctx context.Context, insightID string) (PartialResult, error) {
	endpoint := c.baseURL + partialPath + "?jobId=" + url.QueryEscape(insightID)
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PartialResult{}, err
	}

	var result PartialResult
	if err := c.do(req, &result); err != nil {
		return PartialResult{}, fmt.Errorf("fetch partial: %w", err)
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vendor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}
	return decodeJSON(resp.Body, target)
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("vendor returned status %d (unreadable body: %v)", resp.StatusCode, err)
	}

	var payload struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorMessage != "" {
		return fmt.Errorf("vendor returned status %d: %s", resp.StatusCode, payload.ErrorMessage)
	}
	return fmt.Errorf("vendor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func decodeJSON(r io.Reader, target any) error {
	if err := json.NewDecoder(r).Decode(target); err != nil {
		return fmt.Errorf("decode vendor response: %w", err)
	}
	return nil
}
