package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/storage"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenManager issues and validates consumer access tokens
type TokenManager struct {
	store  storage.TokenStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewTokenManager creates a token manager backed by store
func NewTokenManager(store storage.TokenStore) *TokenManager {
	return &TokenManager{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithComponent("security"),
	}
}

// GenerateToken creates a new token. A zero ttl never expires.
func (tm *TokenManager) GenerateToken(name string, ttl time.Duration) (*types.AccessToken, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	now := tm.now()
	token := &types.AccessToken{
		ID:        uuid.NewString(),
		Secret:    hex.EncodeToString(bytes),
		Name:      name,
		CreatedAt: now,
	}
	if ttl > 0 {
		token.ExpiresAt = now.Add(ttl)
	}

	if err := tm.store.PutToken(token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	tm.logger.Info().Str("token_id", token.ID).Str("name", name).Msg("Access token created")
	return token, nil
}

// ValidateToken returns the token for secret, or ErrInvalidToken /
// ErrTokenExpired
func (tm *TokenManager) ValidateToken(secret string) (*types.AccessToken, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}

	token, err := tm.store.GetToken(secret)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.Expired(tm.now()) {
		return nil, ErrTokenExpired
	}
	return token, nil
}

// Validate reports whether secret is a live token
func (tm *TokenManager) Validate(secret string) bool {
	_, err := tm.ValidateToken(secret)
	if err != nil && !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) {
		tm.logger.Error().Err(err).Msg("Token validation failed")
	}
	return err == nil
}

// RevokeToken deletes the token with the given ID
func (tm *TokenManager) RevokeToken(id string) error {
	tokens, err := tm.store.ListTokens()
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	for _, t := range tokens {
		if t.ID == id {
			if err := tm.store.DeleteToken(t.Secret); err != nil {
				return fmt.Errorf("failed to delete token: %w", err)
			}
			tm.logger.Info().Str("token_id", id).Msg("Access token revoked")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", storage.ErrTokenNotFound, id)
}

// CleanupExpiredTokens removes expired tokens and reports how many went
func (tm *TokenManager) CleanupExpiredTokens() (int, error) {
	tokens, err := tm.store.ListTokens()
	if err != nil {
		return 0, fmt.Errorf("failed to list tokens: %w", err)
	}

	now := tm.now()
	removed := 0
	for _, t := range tokens {
		if !t.Expired(now) {
			continue
		}
		if err := tm.store.DeleteToken(t.Secret); err != nil {
			return removed, fmt.Errorf("failed to delete token %s: %w", t.ID, err)
		}
		removed++
	}
	if removed > 0 {
		tm.logger.Info().Int("removed", removed).Msg("Expired access tokens cleaned up")
	}
	return removed, nil
}

// ListTokens returns all tokens, oldest first
func (tm *TokenManager) ListTokens() ([]*types.AccessToken, error) {
	tokens, err := tm.store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}
