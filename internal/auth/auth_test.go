package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const testCookie = "messaging_session"

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	err      error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*Session)}
}

func (m *memorySessions) Create(ctx context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memorySessions) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memorySessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type authFixture struct {
	store    *store.Memory
	sessions *memorySessions
	tokens   *Tokens
	auth     *Authenticator
	resolver *Resolver
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	s := store.NewMemory()
	sessions := newMemorySessions()
	tokens := NewTokens(s, 0)
	return &authFixture{
		store:    s,
		sessions: sessions,
		tokens:   tokens,
		auth:     NewAuthenticator(s, sessions, tokens),
		resolver: NewResolver(tokens, sessions, s, testCookie, logger.Nop()),
	}
}

func (f *authFixture) user(t *testing.T, name, password string) *model.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u := &model.User{Name: name, Email: name + "@example.com", PasswordHash: hash}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func TestTokensIssueAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	alice := f.user(t, "alice", "secret")

	plain, err := f.tokens.Issue(ctx, alice.ID, "phone")
	require.NoError(t, err)
	id, secret, ok := strings.Cut(plain, "|")
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Len(t, secret, tokenSecretLength)

	pat, err := f.tokens.Authenticate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, pat.UserID)
	assert.NotNil(t, pat.LastUsedAt)

	stored, err := f.store.GetAccessToken(ctx, pat.ID)
	require.NoError(t, err)
	assert.NotEqual(t, secret, stored.TokenHash)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestTokensRejectInvalid(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	alice := f.user(t, "alice", "secret")
	plain, err := f.tokens.Issue(ctx, alice.ID, "phone")
	require.NoError(t, err)
	id, _, _ := strings.Cut(plain, "|")

	for _, bad := range []string{"", "nopipe", "x|secret", "0|secret", "99|secret", id + "|wrong", id + "|"} {
		_, err := f.tokens.Authenticate(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestTokensExpire(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	alice := f.user(t, "alice", "secret")

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := NewTokens(f.store, time.Hour)
	tokens.now = func() time.Time { return now }

	plain, err := tokens.Issue(ctx, alice.ID, "phone")
	require.NoError(t, err)
	_, err = tokens.Authenticate(ctx, plain)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = tokens.Authenticate(ctx, plain)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatorLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	alice := f.user(t, "alice", "secret")

	u, sess, err := f.auth.Login(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)
	assert.Equal(t, alice.ID, sess.UserID)

	_, _, err = f.auth.Login(ctx, "alice@example.com", "wrong")
	assert.Equal(t, apperror.Unauthorized, apperror.KindOf(err))
	_, _, err = f.auth.Login(ctx, "nobody@example.com", "secret")
	assert.Equal(t, apperror.Unauthorized, apperror.KindOf(err))
	_, _, err = f.auth.Login(ctx, "", "")
	assert.Equal(t, apperror.ValidationFailed, apperror.KindOf(err))

	require.NoError(t, f.auth.Logout(ctx, sess.ID))
	_, err = f.sessions.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolverPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	alice := f.user(t, "alice", "secret")
	bob := f.user(t, "bob", "secret")

	token, _, err := f.auth.IssueToken(ctx, "alice@example.com", "secret", "phone")
	require.NoError(t, err)
	_, bobSession, err := f.auth.Login(ctx, "bob@example.com", "secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		bearer string
		cookie string
		want   *model.Principal
	}{
		{"anonymous", "", "", nil},
		{"session only", "", bobSession.ID, &model.Principal{UserID: bob.ID, Name: "bob", Scheme: model.SchemeSession}},
		{"token only", token, "", &model.Principal{UserID: alice.ID, Name: "alice", Scheme: model.SchemeToken}},
		{"token wins over session", token, bobSession.ID, &model.Principal{UserID: alice.ID, Name: "alice", Scheme: model.SchemeToken}},
		{"invalid token falls back to session", "1|nope", bobSession.ID, &model.Principal{UserID: bob.ID, Name: "bob", Scheme: model.SchemeSession}},
		{"unknown session", "", "missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: testCookie, Value: tt.cookie})
			}
			got, err := f.resolver.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverSurfacesSessionStoreErrors(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.err = errors.New("redis down")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "anything"})
	_, err := f.resolver.Resolve(req)
	assert.Error(t, err)
}
