package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of the access token the client cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim has passed at now. Tokens
// without exp never expire client-side.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// tokenClaims also accepts the user_id claim issued by Rails-style backends.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID json.Number `json:"user_id,omitempty"`
}

// Inspect reads the claims of a JWT without verifying its signature.
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, errors.New("token is empty")
	}
	claims := tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("parse token claims: %w", err)
	}
	out := Claims{Subject: strings.TrimSpace(claims.Subject)}
	if out.Subject == "" {
		out.Subject = claims.UserID.String()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
