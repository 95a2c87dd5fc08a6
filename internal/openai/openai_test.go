package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sangwookny/wagner/internal/providers"
)

func TestExtractText(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"korean\":\"안녕\"}"}}]}`))
	}))
	defer server.Close()

	o := New("sk-test")
	o.URL = server.URL
	out, err := o.ExtractText(context.Background(), providers.Config{
		Model:  "gpt-4o",
		Prompt: "Übersetze.",
		Images: []providers.Image{{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if out != `{"korean":"안녕"}` {
		t.Errorf("Unexpected content: %q", out)
	}

	if got["response_format"] == nil {
		t.Error("Expected response_format in JSON mode")
	}
	messages := got["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %d", len(parts))
	}
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("Unexpected image url: %q", url)
	}
}

func TestExtractTextErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	o := New("sk-test")
	o.URL = server.URL
	_, err := o.ExtractText(context.Background(), providers.Config{Model: "gpt-4o", Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestExtractTextWithoutKey(t *testing.T) {
	if _, err := New("").ExtractText(context.Background(), providers.Config{}); err == nil {
		t.Error("Expected error without API key")
	}
}
