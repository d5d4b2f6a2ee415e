package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// ErrInvalidToken is returned for malformed, unknown, expired or mismatched tokens.
var ErrInvalidToken = errors.New("auth: invalid access token")

const (
	tokenSecretLength = 40
	tokenAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// TokenStore persists personal access tokens.
type TokenStore interface {
	CreateAccessToken(ctx context.Context, token *model.PersonalAccessToken) error
	GetAccessToken(ctx context.Context, id int64) (*model.PersonalAccessToken, error)
	TouchAccessToken(ctx context.Context, id int64, at time.Time) error
}

// Tokens issues and checks personal access tokens of the form "<id>|<secret>".
// Only the sha256 of the secret is stored.
type Tokens struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
}

// NewTokens creates a token manager. A zero ttl issues tokens that never expire.
func NewTokens(s TokenStore, ttl time.Duration) *Tokens {
	return &Tokens{store: s, ttl: ttl, now: time.Now}
}

// Issue creates a token for the user and returns its plaintext form.
func (t *Tokens) Issue(ctx context.Context, userID int64, name string) (string, error) {
	secret, err := randomString(tokenSecretLength)
	if err != nil {
		return "", err
	}

	pat := &model.PersonalAccessToken{UserID: userID, Name: name, TokenHash: hashSecret(secret)}
	if t.ttl > 0 {
		exp := t.now().Add(t.ttl)
		pat.ExpiresAt = &exp
	}
	if err := t.store.CreateAccessToken(ctx, pat); err != nil {
		return "", fmt.Errorf("create access token: %w", err)
	}
	return fmt.Sprintf("%d|%s", pat.ID, secret), nil
}

// Authenticate resolves a plaintext token to its row and records its use.
func (t *Tokens) Authenticate(ctx context.Context, plaintext string) (*model.PersonalAccessToken, error) {
	idPart, secret, ok := strings.Cut(plaintext, "|")
	if !ok || secret == "" {
		return nil, ErrInvalidToken
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}

	pat, err := t.store.GetAccessToken(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load access token: %w", err)
	}

	now := t.now()
	if pat.Expired(now) {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(pat.TokenHash), []byte(hashSecret(secret))) != 1 {
		return nil, ErrInvalidToken
	}

	if err := t.store.TouchAccessToken(ctx, pat.ID, now); err != nil {
		return nil, fmt.Errorf("touch access token: %w", err)
	}
	pat.LastUsedAt = &now
	return pat, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b), nil
}
