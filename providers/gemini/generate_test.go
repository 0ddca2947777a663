package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"studyshelf/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&config.Config{
		GeminiAPIKey:  "test-key",
		GeminiBaseURL: baseURL,
		GeminiModel:   "gemini-1.5-flash",
	}, zap.NewNop())
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-1.5-flash:generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"A "},{"text":"summary."}]}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "A summary." {
		t.Errorf("output = %q", out)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected the upstream message to surface, got %v", err)
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected an error for an empty candidate list")
	}
}

func TestGenerateMissingKey(t *testing.T) {
	c := NewClient(&config.Config{}, zap.NewNop())
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected an error without an api key")
	}
}
