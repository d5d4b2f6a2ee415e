package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

var errBadCredentials = apperror.New(apperror.Unauthorized, "these credentials do not match our records")

// CredentialStore looks up users for password login.
type CredentialStore interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// Authenticator checks passwords and starts sessions or issues tokens.
type Authenticator struct {
	users    CredentialStore
	sessions SessionStore
	tokens   *Tokens
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(users CredentialStore, sessions SessionStore, tokens *Tokens) *Authenticator {
	return &Authenticator{users: users, sessions: sessions, tokens: tokens}
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check verifies an email and password pair.
func (a *Authenticator) Check(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperror.NewValidation("email and password are required")
	}

	u, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to load user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errBadCredentials
	}
	return u, nil
}

// Login checks credentials and starts a session.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*model.User, *Session, error) {
	u, err := a.Check(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, nil, apperror.Wrap(apperror.Internal, "failed to start session", err)
	}
	return u, sess, nil
}

// Logout ends a session.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := a.sessions.Delete(ctx, sessionID); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to end session", err)
	}
	return nil
}

// IssueToken checks credentials and issues a personal access token for a device.
func (a *Authenticator) IssueToken(ctx context.Context, email, password, deviceName string) (string, *model.User, error) {
	u, err := a.Check(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	if deviceName = strings.TrimSpace(deviceName); deviceName == "" {
		deviceName = "device"
	}
	token, err := a.tokens.Issue(ctx, u.ID, deviceName)
	if err != nil {
		return "", nil, apperror.Wrap(apperror.Internal, "failed to issue token", err)
	}
	return token, u, nil
}
