package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeOllamaBaseURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "http://localhost:11434"},
		{"localhost:11434", "http://localhost:11434"},
		{"http://localhost:11434/", "http://localhost:11434"},
		{"https://ollama.example.com/api", "https://ollama.example.com/api"},
	}

	for _, tc := range tests {
		if got := normalizeOllamaBaseURL(tc.input); got != tc.expected {
			t.Fatalf("normalizeOllamaBaseURL(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestOllamaStreamDeliversChunksInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Fatalf("expected stream:true in request")
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`not json at all`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "llama2")
	if err != nil {
		t.Fatalf("NewOllamaClient returned error: %v", err)
	}

	var chunks []string
	err = client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	// The malformed line is skipped, not fatal.
	if got := strings.Join(chunks, "|"); got != "Hel|lo" {
		t.Fatalf("expected chunks Hel|lo, got %q", got)
	}
}

func TestOllamaStreamCallbackErrorAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i := 0; i < 100; i++ {
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"x"},"done":false}` + "\n"))
		}
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "llama2")
	if err != nil {
		t.Fatalf("NewOllamaClient returned error: %v", err)
	}

	calls := 0
	err = client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}, func(chunk string) error {
		calls++
		if calls == 2 {
			return context.Canceled
		}
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 callback invocations, got %d", calls)
	}
}

func TestOllamaStreamNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "llama2")
	if err != nil {
		t.Fatalf("NewOllamaClient returned error: %v", err)
	}

	err = client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOllamaCompleteRequiresMessages(t *testing.T) {
	client, err := NewOllamaClient("", "llama2")
	if err != nil {
		t.Fatalf("NewOllamaClient returned error: %v", err)
	}

	_, err = client.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatalf("expected error for empty message list")
	}
}

func TestOllamaCompleteReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hello there"},"done":true,"done_reason":"stop"}`))
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "llama2")
	if err != nil {
		t.Fatalf("NewOllamaClient returned error: %v", err)
	}

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("expected content %q, got %q", "hello there", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("expected stop reason stop, got %q", resp.StopReason)
	}
}
