// Package auth checks the shared gateway key presented in X-API-Key.
package auth

import (
	"crypto/subtle"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// GatewayKey verifies callers against a plain key, a bcrypt hash of the
// key, or both. The zero value accepts everything.
type GatewayKey struct {
	plain []byte
	hash  []byte
}

func NewGatewayKey(plain, hash string) *GatewayKey {
	g := &GatewayKey{}
	if plain != "" {
		g.plain = []byte(plain)
	}
	if hash != "" {
		g.hash = []byte(hash)
	}
	return g
}

func (g *GatewayKey) Enabled() bool {
	return g != nil && (g.plain != nil || g.hash != nil)
}

// Verify returns domain.ErrUnauthorized unless presented matches.
func (g *GatewayKey) Verify(presented string) error {
	if !g.Enabled() {
		return nil
	}
	if presented == "" {
		return domain.ErrUnauthorized
	}

	if g.plain != nil && subtle.ConstantTimeCompare(g.plain, []byte(presented)) == 1 {
		return nil
	}
	if g.hash != nil && bcrypt.CompareHashAndPassword(g.hash, []byte(presented)) == nil {
		return nil
	}

	return domain.ErrUnauthorized
}

// HashKey produces a value for GATEWAY_API_KEY_HASH.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
