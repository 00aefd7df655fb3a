package anthropic

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
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 1024
	anthropicVersion = "2023-06-01"
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
	return domain.ProviderAnthropic
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildPayload encodes req for POST /v1/messages. System messages are
// joined into the top-level system prompt; tool messages have no
// equivalent and are dropped. Penalties are not supported upstream.
func (p *Provider) BuildPayload(req domain.ChatRequest, stream bool) ([]byte, error) {
	body, err := json.Marshal(toAnthropicRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func toAnthropicRequest(req domain.ChatRequest, stream bool) anthropicRequest {
	var system []string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user", "assistant":
			messages = append(messages, anthropicMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	return anthropicRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
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
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", anthropicVersion)

	return provider.Call{
		Provider: p.ID(),
		URL:      p.baseURL + "/v1/messages",
		Header:   header,
		Body:     body,
	}
}
