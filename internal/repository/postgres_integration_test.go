//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/repository"
	"github.com/jmoiron/sqlx"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	last_used     TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func getTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := repository.OpenPostgres(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func TestPostgresKeyRepository_FetchAndTouch(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	ctx := context.Background()
	userID := "it-user-" + time.Now().Format("20060102150405.000000")
	base := time.Now().Add(-time.Hour).UTC()

	db.MustExec(`INSERT INTO api_keys (id, user_id, provider, encrypted_key, last_used, created_at) VALUES
		($1, $4, 'openai', 'enc-a', NULL, $5),
		($2, $4, 'openai', 'enc-b', $5, $5),
		($3, $4, 'anthropic', 'enc-c', NULL, $5)`,
		userID+"-a", userID+"-b", userID+"-c", userID, base)
	defer db.MustExec(`DELETE FROM api_keys WHERE user_id = $1`, userID)

	repo := repository.NewPostgresKeyRepository(db)

	records, err := repo.FetchKeys(ctx, userID, "openai")
	if err != nil {
		t.Fatalf("FetchKeys failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 openai keys, got %d", len(records))
	}
	if records[0].ID != userID+"-a" {
		t.Errorf("expected never-used key first, got %s", records[0].ID)
	}

	all, err := repo.FetchKeys(ctx, userID, repository.WildcardProvider)
	if err != nil {
		t.Fatalf("FetchKeys wildcard failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 keys with wildcard, got %d", len(all))
	}

	if err := repo.TouchKey(ctx, userID+"-a"); err != nil {
		t.Fatalf("TouchKey failed: %v", err)
	}

	records, err = repo.FetchKeys(ctx, userID, "openai")
	if err != nil {
		t.Fatalf("FetchKeys after touch failed: %v", err)
	}
	if records[0].ID != userID+"-b" {
		t.Errorf("expected touched key to move to the back, got order %s, %s", records[0].ID, records[1].ID)
	}
	if records[1].LastUsed == nil {
		t.Error("expected last_used to be set after touch")
	}
}
