package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/httputil"
)

const maxErrorBody = 4096

// SupabaseKeyRepository talks to the api_keys table through the Supabase
// REST (PostgREST) interface using the service role key.
type SupabaseKeyRepository struct {
	endpoint       string
	serviceRoleKey string
	client         *http.Client
	now            func() time.Time
}

func NewSupabaseKeyRepository(baseURL, serviceRoleKey string) *SupabaseKeyRepository {
	return NewSupabaseKeyRepositoryWithClient(baseURL, serviceRoleKey, httputil.NewClient(httputil.KeyStoreConfig()))
}

func NewSupabaseKeyRepositoryWithClient(baseURL, serviceRoleKey string, client *http.Client) *SupabaseKeyRepository {
	return &SupabaseKeyRepository{
		endpoint:       strings.TrimRight(baseURL, "/") + "/rest/v1/api_keys",
		serviceRoleKey: serviceRoleKey,
		client:         client,
		now:            time.Now,
	}
}

type supabaseKeyRow struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	EncryptedKey string  `json:"encrypted_key"`
	LastUsed     *string `json:"last_used"`
	CreatedAt    *string `json:"created_at"`
}

func (r *SupabaseKeyRepository) FetchKeys(ctx context.Context, userID, provider string) ([]domain.APIKeyRecord, error) {
	params := url.Values{}
	params.Set("select", "id,provider,encrypted_key,last_used,created_at")
	params.Set("user_id", "eq."+userID)
	params.Set("order", "last_used.asc.nullsfirst,created_at.asc")
	if filtersProvider(provider) {
		params.Set("provider", "eq."+provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, &domain.KeyStoreError{Op: "fetch keys", Err: err}
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &domain.KeyStoreError{Op: "fetch keys", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, storeError("fetch keys", resp)
	}

	var rows []supabaseKeyRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &domain.KeyStoreError{Op: "fetch keys", Err: fmt.Errorf("decode response: %w", err)}
	}

	retrievedAt := r.now().UTC()
	records := make([]domain.APIKeyRecord, 0, len(rows))
	for _, row := range rows {
		record := domain.APIKeyRecord{
			ID:           row.ID,
			Provider:     row.Provider,
			EncryptedKey: row.EncryptedKey,
			LastUsed:     parseTimestamp(row.LastUsed),
			CreatedAt:    retrievedAt,
		}
		if created := parseTimestamp(row.CreatedAt); created != nil {
			record.CreatedAt = *created
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *SupabaseKeyRepository) TouchKey(ctx context.Context, id string) error {
	body, err := json.Marshal(map[string]string{
		"last_used": r.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return &domain.KeyStoreError{Op: "touch key", Err: err}
	}

	params := url.Values{}
	params.Set("id", "eq."+id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, r.endpoint+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return &domain.KeyStoreError{Op: "touch key", Err: err}
	}
	r.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := r.client.Do(req)
	if err != nil {
		return &domain.KeyStoreError{Op: "touch key", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return storeError("touch key", resp)
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

// Name and Check let the repository serve as a readiness checker.
func (r *SupabaseKeyRepository) Name() string {
	return "supabase"
}

func (r *SupabaseKeyRepository) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?select=id&limit=1", http.NoBody)
	if err != nil {
		return err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return storeError("health check", resp)
	}
	return nil
}

func (r *SupabaseKeyRepository) setHeaders(req *http.Request) {
	req.Header.Set("apikey", r.serviceRoleKey)
	req.Header.Set("Authorization", "Bearer "+r.serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func storeError(op string, resp *http.Response) *domain.KeyStoreError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.KeyStoreError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// parseTimestamp returns nil for missing or unparseable values.
func parseTimestamp(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
