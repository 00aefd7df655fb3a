package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderID is the normalized provider a request is routed to.
type ProviderID string

const (
	ProviderOpenAI      ProviderID = "openai"
	ProviderAnthropic   ProviderID = "anthropic"
	ProviderAzureOpenAI ProviderID = "azure-openai"
)

// NormalizeProvider maps a raw provider string to its canonical ID.
// Unknown names pass through lowercased; callers decide whether they are
// dispatchable.
func NormalizeProvider(raw string) ProviderID {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "", "openai", "custom":
		return ProviderOpenAI
	case "anthropic", "claude":
		return ProviderAnthropic
	case "azure", "azure-openai":
		return ProviderAzureOpenAI
	default:
		return ProviderID(name)
	}
}

// ProviderAliases lists the raw names accepted for each provider.
var ProviderAliases = map[ProviderID][]string{
	ProviderOpenAI:      {"openai", "custom"},
	ProviderAnthropic:   {"anthropic", "claude"},
	ProviderAzureOpenAI: {"azure", "azure-openai"},
}

// APIKeyRecord is one stored credential in a user's rotation pool.
type APIKeyRecord struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	EncryptedKey string     `json:"-"`
	LastUsed     *time.Time `json:"last_used"`
	CreatedAt    time.Time  `json:"created_at"`
}

type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ChatRequest struct {
	Messages         []ChatMessage  `json:"messages"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	PromptID         string         `json:"prompt_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	Stream           bool           `json:"stream"`
}

const DefaultTemperature = 0.7

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// DecodeChatRequest reads a chat request body, applying defaults for
// omitted fields, and validates it.
func DecodeChatRequest(r io.Reader) (ChatRequest, error) {
	req := ChatRequest{
		Provider:    string(ProviderOpenAI),
		Temperature: DefaultTemperature,
		Stream:      true,
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ChatRequest{}, fmt.Errorf("%w: limit is %d bytes", ErrRequestTooLarge, maxErr.Limit)
		}
		return ChatRequest{}, fmt.Errorf("%w: malformed JSON body", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return ChatRequest{}, err
	}
	return req, nil
}

// Validate checks field ranges. The provider name is checked later by
// NormalizeProvider and the router.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return invalid("messages must not be empty")
	}
	for i, m := range r.Messages {
		if !validRoles[m.Role] {
			return invalid("messages[%d].role %q is not one of system, user, assistant, tool", i, m.Role)
		}
		if m.Content == "" {
			return invalid("messages[%d].content must not be empty", i)
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return invalid("temperature must be between 0 and 2")
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return invalid("max_tokens must be at least 1")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return invalid("top_p must be between 0 and 1")
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		return invalid("frequency_penalty must be between -2 and 2")
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		return invalid("presence_penalty must be between -2 and 2")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
