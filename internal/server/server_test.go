package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"insight-bridge/internal/adapter"
	"insight-bridge/internal/config"
	"insight-bridge/internal/models"
)

type fakeStream struct {
	chunks []models.StreamChunk
	next   int
	err    error
	closed bool
}

func (f *fakeStream) Recv() (models.StreamChunk, error) {
	if f.err != nil {
		return models.StreamChunk{}, f.err
	}
	if f.next >= len(f.chunks) {
		return models.StreamChunk{}, io.EOF
	}
	chunk := f.chunks[f.next]
	f.next++
	return chunk, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeCore struct {
	resp      *models.ChatResponse
	createErr error
	stream    *fakeStream
	streamErr error
}

func (f *fakeCore) Models() []string {
	return []string{"gpt-4o", "gpt-4o-mini"}
}

func (f *fakeCore) CreateChatCompletion(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	return f.resp, f.createErr
}

func (f *fakeCore) StreamChatCompletion(ctx context.Context, req models.ChatRequest) (Streamer, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Vendor: config.VendorConfig{BaseURL: "http://insight.local"},
	}
}

func newTestServer(t *testing.T, core Completer) *Server {
	t.Helper()
	srv, err := New(testConfig(), core)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeCore{})
	rec := doRequest(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCore{})
	rec := doRequest(srv, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Errorf("list = %+v", list)
	}
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	core := &fakeCore{
		resp: &models.ChatResponse{
			ID:           "chatcmpl-1",
			Model:        "gpt-4o",
			Created:      1700000000,
			Message:      models.Message{Role: "assistant", Content: "hi"},
			FinishReason: "stop",
			Usage:        models.Usage{CompletionTokens: 3, TotalTokens: 3},
		},
	}
	srv := newTestServer(t, core)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi" {
		t.Errorf("choices = %+v", resp.Choices)
	}
}

func TestChatCompletionsBadPayloads(t *testing.T) {
	srv := newTestServer(t, &fakeCore{})

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "hello"},
		{"no messages", `{"model":"m","messages":[]}`},
		{"trailing garbage", `{"messages":[{"role":"user","content":"x"}]} extra`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/v1/chat/completions", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), "invalid_request_error") {
				t.Errorf("body = %s", rec.Body)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", fmt.Errorf("%w: no user message", adapter.ErrValidation), http.StatusBadRequest, "invalid_request_error"},
		{"initialization", fmt.Errorf("%w: not authorized", adapter.ErrInitialization), http.StatusBadGateway, "upstream_error"},
		{"upstream", fmt.Errorf("API Error: %w: engine offline", adapter.ErrUpstream), http.StatusBadGateway, "upstream_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeCore{createErr: tc.err})
			rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
				`{"messages":[{"role":"user","content":"Hi"}]}`)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tc.wantType) {
				t.Errorf("body = %s, want type %q", rec.Body, tc.wantType)
			}
		})
	}
}

func TestChatCompletionsStreamingSSE(t *testing.T) {
	stream := &fakeStream{
		chunks: []models.StreamChunk{
			{ID: "c1", Model: "gpt-4o", Role: "assistant", Delta: "He"},
			{ID: "c1", Model: "gpt-4o", Delta: "llo"},
			{ID: "c1", Model: "gpt-4o", FinishReason: "stop"},
		},
	}
	srv := newTestServer(t, &fakeCore{stream: stream})

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	body := rec.Body.String()
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(events) != 4 {
		t.Fatalf("got %d SSE events, want 4: %q", len(events), body)
	}
	if events[3] != "data: [DONE]" {
		t.Errorf("last event = %q", events[3])
	}
	if !strings.Contains(events[0], `"role":"assistant"`) || !strings.Contains(events[0], `"content":"He"`) {
		t.Errorf("first event = %q", events[0])
	}
	if !strings.Contains(events[2], `"finish_reason":"stop"`) {
		t.Errorf("terminal event = %q", events[2])
	}
	if !stream.closed {
		t.Error("stream was not closed after drain")
	}
}

func TestStreamingSetupErrorUsesJSONBody(t *testing.T) {
	srv := newTestServer(t, &fakeCore{streamErr: fmt.Errorf("%w: messages must not be empty", adapter.ErrValidation)})
	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"assistant","content":"x"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Errorf("body = %s", rec.Body)
	}
}
