package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
)

func TestSupabaseKeyRepository_FetchKeys(t *testing.T) {
	var gotQuery map[string][]string
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/rest/v1/api_keys" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotHeaders = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id":"k1","provider":"openai","encrypted_key":"enc1","last_used":null,"created_at":"2024-05-01T10:00:00+00:00"},
			{"id":"k2","provider":"openai","encrypted_key":"enc2","last_used":"2024-05-02T10:00:00.123456+00:00","created_at":"not a date"}
		]`)
	}))
	defer srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL+"/", "service-role", srv.Client())
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	records, err := repo.FetchKeys(context.Background(), "user-1", "openai")
	if err != nil {
		t.Fatalf("FetchKeys() error = %v", err)
	}

	if got := gotQuery["user_id"]; len(got) != 1 || got[0] != "eq.user-1" {
		t.Errorf("user_id filter = %v", got)
	}
	if got := gotQuery["provider"]; len(got) != 1 || got[0] != "eq.openai" {
		t.Errorf("provider filter = %v", got)
	}
	if got := gotQuery["order"]; len(got) != 1 || got[0] != "last_used.asc.nullsfirst,created_at.asc" {
		t.Errorf("order = %v", got)
	}
	if gotHeaders.Get("apikey") != "service-role" {
		t.Errorf("apikey header = %q", gotHeaders.Get("apikey"))
	}
	if gotHeaders.Get("Authorization") != "Bearer service-role" {
		t.Errorf("Authorization header = %q", gotHeaders.Get("Authorization"))
	}

	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].LastUsed != nil {
		t.Errorf("records[0].LastUsed = %v, want nil", records[0].LastUsed)
	}
	if records[0].EncryptedKey != "enc1" {
		t.Errorf("records[0].EncryptedKey = %q", records[0].EncryptedKey)
	}
	if records[1].LastUsed == nil || records[1].LastUsed.Day() != 2 {
		t.Errorf("records[1].LastUsed = %v, want 2024-05-02", records[1].LastUsed)
	}
	if !records[1].CreatedAt.Equal(fixed) {
		t.Errorf("records[1].CreatedAt = %v, unparseable value should default to retrieval time", records[1].CreatedAt)
	}
}

func TestSupabaseKeyRepository_FetchKeysWildcard(t *testing.T) {
	var hasProvider bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasProvider = r.URL.Query()["provider"]
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL, "k", srv.Client())

	for _, provider := range []string{"", WildcardProvider} {
		records, err := repo.FetchKeys(context.Background(), "user-1", provider)
		if err != nil {
			t.Fatalf("FetchKeys(%q) error = %v", provider, err)
		}
		if len(records) != 0 {
			t.Errorf("FetchKeys(%q) = %d records, want 0", provider, len(records))
		}
		if hasProvider {
			t.Errorf("FetchKeys(%q) sent a provider filter", provider)
		}
	}
}

func TestSupabaseKeyRepository_FetchKeysError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"message":"db down"}`)
	}))
	defer srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL, "k", srv.Client())

	_, err := repo.FetchKeys(context.Background(), "user-1", "openai")

	var storeErr *domain.KeyStoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("FetchKeys() error = %v, want *KeyStoreError", err)
	}
	if storeErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", storeErr.StatusCode)
	}
	if storeErr.Body != `{"message":"db down"}` {
		t.Errorf("Body = %q", storeErr.Body)
	}
}

func TestSupabaseKeyRepository_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL, "k", &http.Client{Timeout: time.Second})

	_, err := repo.FetchKeys(context.Background(), "user-1", "openai")

	var storeErr *domain.KeyStoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("FetchKeys() error = %v, want *KeyStoreError", err)
	}
	if storeErr.Err == nil {
		t.Error("transport failures should carry the underlying error")
	}
}

func TestSupabaseKeyRepository_TouchKey(t *testing.T) {
	var gotMethod, gotID, gotPrefer string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotID = r.URL.Query().Get("id")
		gotPrefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL, "k", srv.Client())
	repo.now = func() time.Time { return time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC) }

	if err := repo.TouchKey(context.Background(), "k1"); err != nil {
		t.Fatalf("TouchKey() error = %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	if gotID != "eq.k1" {
		t.Errorf("id filter = %q, want eq.k1", gotID)
	}
	if gotPrefer != "return=minimal" {
		t.Errorf("Prefer = %q, want return=minimal", gotPrefer)
	}
	if gotBody["last_used"] != "2024-06-01T08:30:00Z" {
		t.Errorf("last_used = %q", gotBody["last_used"])
	}
}

func TestSupabaseKeyRepository_TouchKeyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "permission denied")
	}))
	defer srv.Close()

	repo := NewSupabaseKeyRepositoryWithClient(srv.URL, "k", srv.Client())

	err := repo.TouchKey(context.Background(), "k1")

	var storeErr *domain.KeyStoreError
	if !errors.As(err, &storeErr) || storeErr.StatusCode != http.StatusForbidden {
		t.Errorf("TouchKey() error = %v, want KeyStoreError with status 403", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name  string
		value *string
		isNil bool
	}{
		{"nil", nil, true},
		{"empty", str(""), true},
		{"rfc3339 zulu", str("2024-05-01T10:00:00Z"), false},
		{"offset with micros", str("2024-05-01T10:00:00.123456+00:00"), false},
		{"no zone", str("2024-05-01T10:00:00.123456"), false},
		{"postgres text", str("2024-05-01 10:00:00.123456+00"), false},
		{"garbage", str("yesterday"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.value)
			if (got == nil) != tt.isNil {
				t.Errorf("parseTimestamp() = %v, want nil=%v", got, tt.isNil)
			}
		})
	}
}
