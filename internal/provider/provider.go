// Package provider holds the contract shared by the upstream adapters and
// the HTTP plumbing they use to call a provider with one API key.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/httputil"
)

// Outcome classifies one attempt with one key.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeAuthRejected means the upstream refused this key (401/403).
	// The caller may retry with the next key.
	OutcomeAuthRejected
	// OutcomeFailed covers every other failure, including timeouts. It is
	// never retried with another key.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthRejected:
		return "auth_rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classify maps an upstream HTTP status to an Outcome.
func Classify(status int) Outcome {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeAuthRejected
	case status >= 400:
		return OutcomeFailed
	default:
		return OutcomeSuccess
	}
}

// Result is the outcome of a unary call. Body is set on success and Err
// otherwise.
type Result struct {
	Outcome Outcome
	Body    json.RawMessage
	Err     error
}

// StreamResult is the outcome of opening a stream. On success Chunks yields
// the upstream body verbatim and is closed at EOF; Errs receives at most one
// read error.
type StreamResult struct {
	Outcome Outcome
	Chunks  <-chan []byte
	Errs    <-chan error
	Err     error
}

// Adapter speaks one provider's wire format.
type Adapter interface {
	ID() domain.ProviderID
	BuildPayload(req domain.ChatRequest, stream bool) ([]byte, error)
	Complete(ctx context.Context, apiKey string, req domain.ChatRequest) Result
	Stream(ctx context.Context, apiKey string, req domain.ChatRequest) StreamResult
}

const (
	maxErrorBody    = 64 * 1024
	streamChunkSize = 32 * 1024
)

var errInvalidJSON = errors.New("upstream returned a non-JSON body")

// Transport issues adapter calls. Unary and streaming calls use separate
// clients because their timeout budgets differ.
type Transport struct {
	Unary  *http.Client
	Stream *http.Client
}

func NewTransport() Transport {
	return Transport{
		Unary:  httputil.NewClient(httputil.ProviderConfig()),
		Stream: httputil.NewClient(httputil.StreamingConfig()),
	}
}

// Call describes one upstream request.
type Call struct {
	Provider domain.ProviderID
	URL      string
	Header   http.Header
	Body     []byte
}

func (c Call) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(c.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range c.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Failed wraps a local error, such as a payload that cannot be encoded.
func Failed(id domain.ProviderID, err error) Result {
	return Result{Outcome: OutcomeFailed, Err: &domain.UpstreamError{Provider: id, Err: err}}
}

func (t Transport) Do(ctx context.Context, call Call) Result {
	req, err := call.newRequest(ctx)
	if err != nil {
		return Failed(call.Provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.Unary.Do(req)
	if err != nil {
		return Failed(call.Provider, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if outcome := Classify(resp.StatusCode); outcome != OutcomeSuccess {
		return Result{Outcome: outcome, Err: upstreamError(call.Provider, resp)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(call.Provider, fmt.Errorf("read response: %w", err))
	}
	if !json.Valid(body) {
		return Failed(call.Provider, errInvalidJSON)
	}

	return Result{Outcome: OutcomeSuccess, Body: body}
}

// DoStream opens a streaming call. The status is classified before any
// byte is handed out, so a rejected key can still be rotated. Cancelling
// ctx aborts the upstream read.
func (t Transport) DoStream(ctx context.Context, call Call) StreamResult {
	req, err := call.newRequest(ctx)
	if err != nil {
		return StreamFailed(call.Provider, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.Stream.Do(req)
	if err != nil {
		return StreamFailed(call.Provider, fmt.Errorf("do request: %w", err))
	}

	if outcome := Classify(resp.StatusCode); outcome != OutcomeSuccess {
		defer resp.Body.Close()
		return StreamResult{Outcome: outcome, Err: upstreamError(call.Provider, resp)}
	}

	chunks := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer resp.Body.Close()

		buf := make([]byte, streamChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])

				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					errs <- &domain.UpstreamError{Provider: call.Provider, Err: fmt.Errorf("read stream: %w", err)}
				}
				return
			}
		}
	}()

	return StreamResult{Outcome: OutcomeSuccess, Chunks: chunks, Errs: errs}
}

// StreamFailed is the streaming counterpart of Failed.
func StreamFailed(id domain.ProviderID, err error) StreamResult {
	return StreamResult{Outcome: OutcomeFailed, Err: &domain.UpstreamError{Provider: id, Err: err}}
}

func upstreamError(id domain.ProviderID, resp *http.Response) *domain.UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.UpstreamError{
		Provider:   id,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
