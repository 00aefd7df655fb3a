package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresKeyRepository reads api_keys directly when the gateway can reach
// the database without going through Supabase REST.
type PostgresKeyRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

const (
	// Same budget as the REST key store client.
	pgConnectTimeoutSeconds = 5
	pgQueryTimeout          = 10 * time.Second
)

func NewPostgresKeyRepository(db *sqlx.DB) *PostgresKeyRepository {
	return &PostgresKeyRepository{db: db, queryTimeout: pgQueryTimeout}
}

// OpenPostgres connects with the key-store pool settings. A connect_timeout
// is added to databaseURL unless it already sets one.
func OpenPostgres(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	dsn, err := withConnectTimeout(databaseURL, pgConnectTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// withConnectTimeout handles both URL and key=value connection strings.
func withConnectTimeout(dsn string, seconds int) (string, error) {
	if strings.Contains(dsn, "connect_timeout") {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("connect_timeout", strconv.Itoa(seconds))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return strings.TrimSpace(dsn + " connect_timeout=" + strconv.Itoa(seconds)), nil
}

type keyRow struct {
	ID           string       `db:"id"`
	Provider     string       `db:"provider"`
	EncryptedKey string       `db:"encrypted_key"`
	LastUsed     sql.NullTime `db:"last_used"`
	CreatedAt    sql.NullTime `db:"created_at"`
}

const selectKeys = `
	SELECT id::text AS id, provider, encrypted_key, last_used, created_at
	FROM api_keys
	WHERE user_id = $1`

const orderKeys = `
	ORDER BY last_used ASC NULLS FIRST, created_at ASC`

func (r *PostgresKeyRepository) FetchKeys(ctx context.Context, userID, provider string) ([]domain.APIKeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var rows []keyRow
	var err error

	if filtersProvider(provider) {
		err = r.db.SelectContext(ctx, &rows, selectKeys+` AND provider = $2`+orderKeys, userID, provider)
	} else {
		err = r.db.SelectContext(ctx, &rows, selectKeys+orderKeys, userID)
	}
	if err != nil {
		return nil, &domain.KeyStoreError{Op: "fetch keys", Err: fmt.Errorf("query api_keys: %w", err)}
	}

	retrievedAt := time.Now().UTC()
	records := make([]domain.APIKeyRecord, 0, len(rows))
	for _, row := range rows {
		record := domain.APIKeyRecord{
			ID:           row.ID,
			Provider:     row.Provider,
			EncryptedKey: row.EncryptedKey,
			CreatedAt:    retrievedAt,
		}
		if row.LastUsed.Valid {
			lastUsed := row.LastUsed.Time.UTC()
			record.LastUsed = &lastUsed
		}
		if row.CreatedAt.Valid {
			record.CreatedAt = row.CreatedAt.Time.UTC()
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *PostgresKeyRepository) TouchKey(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = now() WHERE id = $1`, id)
	if err != nil {
		return &domain.KeyStoreError{Op: "touch key", Err: fmt.Errorf("update api_keys: %w", err)}
	}
	return nil
}

func (r *PostgresKeyRepository) DB() *sql.DB {
	return r.db.DB
}

func (r *PostgresKeyRepository) Close() error {
	return r.db.Close()
}
