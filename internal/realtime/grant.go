package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrGrantMismatch is returned when a grant was issued for another channel or socket.
	ErrGrantMismatch = errors.New("grant does not match subscription")
)

// GrantClaims are the claims of a channel grant.
type GrantClaims struct {
	jwt.RegisteredClaims
	Channel  string `json:"channel"`
	SocketID string `json:"socket_id"`
}

// GrantSigner issues and verifies channel grants.
type GrantSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGrantSigner creates a signer using an HMAC secret.
func NewGrantSigner(secret string, ttl time.Duration) *GrantSigner {
	return &GrantSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a grant allowing userID to subscribe socketID to channel.
func (s *GrantSigner) Sign(userID int64, channel, socketID string) (string, error) {
	now := s.now()
	claims := GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Channel:  channel,
		SocketID: socketID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks a grant's signature, expiry, channel and socket.
func (s *GrantSigner) Verify(grant, channel, socketID string) (*GrantClaims, error) {
	claims := &GrantClaims{}
	token, err := jwt.ParseWithClaims(grant, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid grant: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid grant")
	}
	if claims.Channel != channel || claims.SocketID != socketID {
		return nil, ErrGrantMismatch
	}
	return claims, nil
}

// UserID returns the grant's subject as a user id.
func (c *GrantClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}
