// Package secrets resolves the shared encryption secret, optionally from
// AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrSecretNotFound = errors.New("secret not found")

type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSSecretsManager struct {
	client SecretsManagerAPI
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSSecretsManager(ctx context.Context, region string) (*AWSSecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg)), nil
}

func NewAWSSecretsManagerWithClient(client SecretsManagerAPI) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*cachedSecret),
		ttl:    5 * time.Minute,
	}
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("get secret %s: %w", name, ErrSecretNotFound)
	}

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     *result.SecretString,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return *result.SecretString, nil
}

// EncryptionKeyFields are the JSON fields checked, in order, when a secret
// holds a JSON object instead of the bare key.
var EncryptionKeyFields = []string{"AI_GATEWAY_ENCRYPTION_KEY", "ENCRYPTION_KEY"}

// ResolveEncryptionKey fetches secretID and returns the encryption secret.
// The stored value may be the key itself or a JSON object carrying it
// under one of EncryptionKeyFields.
func ResolveEncryptionKey(ctx context.Context, store SecretStore, secretID string) (string, error) {
	raw, err := store.GetSecret(ctx, secretID)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		if trimmed == "" {
			return "", fmt.Errorf("secret %s is empty: %w", secretID, ErrSecretNotFound)
		}
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	for _, name := range EncryptionKeyFields {
		if v := fields[name]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("secret %s has no encryption key field: %w", secretID, ErrSecretNotFound)
}

type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{
		secrets: make(map[string]string),
	}
}

func (s *InMemorySecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s: %w", name, ErrSecretNotFound)
	}
	return value, nil
}

func (s *InMemorySecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}
