package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/provider"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

type Provider struct {
	baseURL   string
	transport provider.Transport
}

func New(baseURL string) *Provider {
	return NewWithTransport(baseURL, provider.NewTransport())
}

func NewWithTransport(baseURL string, transport provider.Transport) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
	}
}

func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderOpenAI
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	Stream           bool      `json:"stream"`
}

type message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// BuildPayload encodes req for POST /chat/completions. Gateway-only
// fields (session, prompt, metadata) are not forwarded.
func (p *Provider) BuildPayload(req domain.ChatRequest, stream bool) ([]byte, error) {
	out := chatRequest{
		Model:            req.Model,
		Messages:         make([]message, 0, len(req.Messages)),
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           stream,
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func (p *Provider) Complete(ctx context.Context, apiKey string, req domain.ChatRequest) provider.Result {
	body, err := p.BuildPayload(req, false)
	if err != nil {
		return provider.Failed(p.ID(), err)
	}
	return p.transport.Do(ctx, p.call(apiKey, body))
}

func (p *Provider) Stream(ctx context.Context, apiKey string, req domain.ChatRequest) provider.StreamResult {
	body, err := p.BuildPayload(req, true)
	if err != nil {
		return provider.StreamFailed(p.ID(), err)
	}
	return p.transport.DoStream(ctx, p.call(apiKey, body))
}

func (p *Provider) call(apiKey string, body []byte) provider.Call {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	return provider.Call{
		Provider: p.ID(),
		URL:      p.baseURL + "/chat/completions",
		Header:   header,
		Body:     body,
	}
}
