package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// UserLookup loads users by id.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// Resolver is the single principal resolver for HTTP requests. A valid bearer
// token wins; otherwise the session cookie is consulted.
type Resolver struct {
	tokens   *Tokens
	sessions SessionStore
	users    UserLookup
	cookie   string
	logger   *logger.Logger
}

// NewResolver creates a principal resolver.
func NewResolver(tokens *Tokens, sessions SessionStore, users UserLookup, cookieName string, log *logger.Logger) *Resolver {
	return &Resolver{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		cookie:   cookieName,
		logger:   log.Named("auth"),
	}
}

// Resolve returns the principal of r, or nil when the request is anonymous.
// Errors are infrastructure failures, not bad credentials.
func (r *Resolver) Resolve(req *http.Request) (*model.Principal, error) {
	ctx := req.Context()

	if bearer := bearerToken(req); bearer != "" {
		p, err := r.fromToken(ctx, bearer)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}

	if c, err := req.Cookie(r.cookie); err == nil && c.Value != "" {
		return r.fromSession(ctx, c.Value)
	}
	return nil, nil
}

func (r *Resolver) fromToken(ctx context.Context, bearer string) (*model.Principal, error) {
	if r.tokens == nil {
		return nil, nil
	}
	pat, err := r.tokens.Authenticate(ctx, bearer)
	if errors.Is(err, ErrInvalidToken) {
		r.logger.Debug("bearer token rejected")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.principal(ctx, pat.UserID, model.SchemeToken)
}

func (r *Resolver) fromSession(ctx context.Context, id string) (*model.Principal, error) {
	if r.sessions == nil {
		return nil, nil
	}
	sess, err := r.sessions.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.principal(ctx, sess.UserID, model.SchemeSession)
}

func (r *Resolver) principal(ctx context.Context, userID int64, scheme model.AuthScheme) (*model.Principal, error) {
	u, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("credential for deleted user", zap.Int64("user_id", userID), zap.String("scheme", string(scheme)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	return &model.Principal{UserID: u.ID, Name: u.Name, Scheme: scheme}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
