// Package repository reads and updates the api_keys records that form
// each user's rotation pool. Records are owned by the key-management app;
// this package only lists them and bumps last_used.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
)

// WildcardProvider disables the provider filter when fetching keys.
const WildcardProvider = "custom"

// KeyRepository is the key store contract. FetchKeys returns records
// ordered by last_used ascending (never-used first), then created_at.
type KeyRepository interface {
	FetchKeys(ctx context.Context, userID, provider string) ([]domain.APIKeyRecord, error)
	TouchKey(ctx context.Context, id string) error
}

func filtersProvider(provider string) bool {
	return provider != "" && provider != WildcardProvider
}

// sortLeastRecentlyUsed applies the store's documented ordering.
func sortLeastRecentlyUsed(records []domain.APIKeyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch {
		case a.LastUsed == nil && b.LastUsed != nil:
			return true
		case a.LastUsed != nil && b.LastUsed == nil:
			return false
		case a.LastUsed != nil && b.LastUsed != nil && !a.LastUsed.Equal(*b.LastUsed):
			return a.LastUsed.Before(*b.LastUsed)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// InMemoryKeyRepository keeps records in process memory. It is used by
// tests and for local runs without a database.
type InMemoryKeyRepository struct {
	mu      sync.RWMutex
	records map[string]*storedKey
	now     func() time.Time
}

type storedKey struct {
	userID string
	record domain.APIKeyRecord
}

func NewInMemoryKeyRepository() *InMemoryKeyRepository {
	return &InMemoryKeyRepository{
		records: make(map[string]*storedKey),
		now:     time.Now,
	}
}

// Add stores or replaces a record owned by userID.
func (r *InMemoryKeyRepository) Add(userID string, record domain.APIKeyRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	r.records[record.ID] = &storedKey{userID: userID, record: record}
}

// Get returns a copy of the record with the given id.
func (r *InMemoryKeyRepository) Get(id string) (domain.APIKeyRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.records[id]
	if !ok {
		return domain.APIKeyRecord{}, false
	}
	return stored.record, true
}

func (r *InMemoryKeyRepository) FetchKeys(ctx context.Context, userID, provider string) ([]domain.APIKeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.APIKeyRecord
	for _, stored := range r.records {
		if stored.userID != userID {
			continue
		}
		if filtersProvider(provider) && stored.record.Provider != provider {
			continue
		}
		out = append(out, stored.record)
	}

	sortLeastRecentlyUsed(out)
	return out, nil
}

func (r *InMemoryKeyRepository) TouchKey(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.records[id]; ok {
		now := r.now().UTC()
		stored.record.LastUsed = &now
	}
	return nil
}
