// Package auth persists Exchange session cookies between proxy restarts.
package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenType marks tokens whose AccessToken is a Cookie header value.
const TokenType = "Cookie"

// TokenStore is an interface for saving and loading session tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	// LoadToken returns nil, nil when nothing has been stored.
	LoadToken() (*oauth2.Token, error)
}

// NewCookieToken wraps a cookie obtained at refreshed that stays usable for
// lifetime.
func NewCookieToken(cookie string, refreshed time.Time, lifetime time.Duration) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: cookie,
		TokenType:   TokenType,
		Expiry:      refreshed.Add(lifetime),
	}
}

// CookieFromToken returns the cookie and its refresh time. ok is false for
// tokens that were not produced by NewCookieToken.
func CookieFromToken(token *oauth2.Token, lifetime time.Duration) (cookie string, refreshed time.Time, ok bool) {
	if token == nil || token.TokenType != TokenType || token.AccessToken == "" || token.Expiry.IsZero() {
		return "", time.Time{}, false
	}
	return token.AccessToken, token.Expiry.Add(-lifetime), true
}
