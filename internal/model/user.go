package model

import "time"

// User is an account that can take part in conversations.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PushToken    *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary returns the public projection of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name}
}

// UserSummary is the public view of a user embedded in other payloads.
type UserSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AuthScheme identifies how a principal was authenticated.
type AuthScheme string

const (
	SchemeSession AuthScheme = "session"
	SchemeToken   AuthScheme = "token"
)

// Principal is the authenticated identity resolved for a request.
type Principal struct {
	UserID int64      `json:"user_id"`
	Name   string     `json:"name"`
	Scheme AuthScheme `json:"scheme"`
}

// PersonalAccessToken is a bearer token issued to a device.
type PersonalAccessToken struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry.
func (t *PersonalAccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

// IssueTokenResponse carries a freshly issued plaintext token.
type IssueTokenResponse struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// PushTokenRequest registers a device push token.
type PushTokenRequest struct {
	Token string `json:"token"`
}
