package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/provider"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestBuildPayload(t *testing.T) {
	p := New("")

	req := domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi", Name: "alice"},
			{Role: "tool", Content: "42", ToolCallID: "call_1"},
		},
		Temperature: 0.2,
		MaxTokens:   intPtr(50),
		TopP:        floatPtr(0.9),
		SessionID:   "s-1",
		Metadata:    map[string]any{"trace": "x"},
	}

	body, err := p.BuildPayload(req, true)
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", got["model"], DefaultModel)
	}
	if got["stream"] != true {
		t.Errorf("stream = %v, want true", got["stream"])
	}
	if got["max_tokens"] != float64(50) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
	if got["top_p"] != 0.9 {
		t.Errorf("top_p = %v", got["top_p"])
	}
	for _, absent := range []string{"frequency_penalty", "presence_penalty", "session_id", "metadata"} {
		if _, ok := got[absent]; ok {
			t.Errorf("%s should be omitted", absent)
		}
	}

	messages := got["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(messages))
	}
	second := messages[1].(map[string]any)
	if second["name"] != "alice" {
		t.Errorf("messages[1].name = %v", second["name"])
	}
	third := messages[2].(map[string]any)
	if third["tool_call_id"] != "call_1" {
		t.Errorf("messages[2].tool_call_id = %v", third["tool_call_id"])
	}
}

func TestBuildPayload_KeepsModel(t *testing.T) {
	body, _ := New("").BuildPayload(domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
	}, false)

	var got struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	json.Unmarshal(body, &got)

	if got.Model != "gpt-4o" || got.Stream {
		t.Errorf("payload = %+v, want model gpt-4o without stream", got)
	}
}

func TestProvider_Complete(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion"}`)
	}))
	defer srv.Close()

	p := NewWithTransport(srv.URL+"/v1/", provider.Transport{Unary: srv.Client(), Stream: srv.Client()})

	res := p.Complete(context.Background(), "sk-test", domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
	})

	if res.Outcome != provider.OutcomeSuccess {
		t.Fatalf("Outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %s, want /v1/chat/completions", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if string(res.Body) != `{"id":"chatcmpl-1","object":"chat.completion"}` {
		t.Errorf("Body = %s", res.Body)
	}
}

func TestProvider_StreamRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("stream flag = %v, want true", body["stream"])
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewWithTransport(srv.URL, provider.Transport{Unary: srv.Client(), Stream: srv.Client()})

	res := p.Stream(context.Background(), "sk-bad", domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
	})

	if res.Outcome != provider.OutcomeAuthRejected {
		t.Errorf("Outcome = %s, want auth_rejected", res.Outcome)
	}
}
