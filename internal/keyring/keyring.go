// Package keyring turns a user's stored key records into an ordered list
// of usable plaintext keys.
package keyring

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/crypto"
	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/metrics"
	"github.com/felipepmaragno/keyring-gateway/internal/repository"
)

// Decrypter opens a sealed key. *crypto.Cipher satisfies it.
type Decrypter interface {
	Decrypt(payload string) (string, error)
}

// Candidate is a decrypted key ready for one upstream attempt. Plaintext
// lives only for the request that listed it.
type Candidate struct {
	Plaintext string
	Record    domain.APIKeyRecord
}

type Manager struct {
	repo   repository.KeyRepository
	cipher Decrypter
	logger *slog.Logger
}

func NewManager(repo repository.KeyRepository, cipher Decrypter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		cipher: cipher,
		logger: logger,
	}
}

// ListUsableKeys returns the user's keys for provider, least recently used
// first. Records that fail to decrypt are skipped. Store failures are
// returned as-is; an empty or fully undecryptable pool yields
// domain.ErrNoAvailableKeys.
func (m *Manager) ListUsableKeys(ctx context.Context, userID string, provider domain.ProviderID) ([]Candidate, error) {
	records, err := m.repo.FetchKeys(ctx, userID, string(provider))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.NoKeysError("no API keys registered for this provider")
	}

	SortLeastRecentlyUsed(records)

	candidates := make([]Candidate, 0, len(records))
	for _, record := range records {
		plaintext, err := m.cipher.Decrypt(record.EncryptedKey)
		if err != nil {
			metrics.RecordDecryptFailure(string(provider))
			m.logger.Warn("skipping undecryptable key",
				"key_id", record.ID,
				"user_id", userID,
				"provider", provider,
				"error", err,
			)
			continue
		}
		candidates = append(candidates, Candidate{Plaintext: plaintext, Record: record})
	}

	if len(candidates) == 0 {
		return nil, domain.NoKeysError("unable to decrypt any API keys for this provider")
	}

	return candidates, nil
}

// MarkUsed records that the key is about to be tried.
func (m *Manager) MarkUsed(ctx context.Context, record domain.APIKeyRecord) error {
	return m.repo.TouchKey(ctx, record.ID)
}

// SortLeastRecentlyUsed orders records by LastUsed ascending, treating a
// nil LastUsed as the Unix epoch. The sort is stable so the store's
// created_at tie-break survives.
func SortLeastRecentlyUsed(records []domain.APIKeyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return lastUsedOrEpoch(records[i]).Before(lastUsedOrEpoch(records[j]))
	})
}

func lastUsedOrEpoch(r domain.APIKeyRecord) time.Time {
	if r.LastUsed == nil {
		return time.Unix(0, 0)
	}
	return *r.LastUsed
}

var _ Decrypter = (*crypto.Cipher)(nil)
