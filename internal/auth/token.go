package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes used by the customer-app API.
const (
	// DefaultTokenTTL applies when the access token carries no exp claim.
	DefaultTokenTTL = time.Hour

	// RefreshWindow is how long before expiry a refresh is attempted.
	RefreshWindow = 10 * time.Minute
)

// Token is an access/refresh pair with its expiry.
type Token struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// NewToken reads the expiry from the access token's exp claim without
// verifying the signature; the client only needs to know when to refresh.
func NewToken(access, refresh string, issued time.Time) *Token {
	t := &Token{AccessToken: access, RefreshToken: refresh, ExpiresAt: issued.Add(DefaultTokenTTL)}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t.ExpiresAt = exp.Time
		}
	}
	return t
}

// Expired reports whether the access token can no longer be used.
func (t *Token) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// NeedsRefresh reports whether the token is inside the refresh window.
func (t *Token) NeedsRefresh(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt.Add(-RefreshWindow))
}
