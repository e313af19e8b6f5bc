// Package session reads the identity layer's session tokens. A session is
// an HS256 JWT carrying the caller's profile id.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the UI stores the session token in
const CookieName = "session"

var (
	ErrMissing = errors.New("session: no token")
	ErrInvalid = errors.New("session: invalid token")
)

// Claims is the session token payload
type Claims struct {
	ProfileID string `json:"profile_id"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Issue signs a session token for profileID
func Issue(secret string, profileID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ProfileID: profileID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// Parse validates tokenString and returns the profile it was issued for
func Parse(secret, tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrMissing
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	id, err := uuid.Parse(claims.ProfileID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad profile_id", ErrInvalid)
	}
	return id, nil
}

// TokenFromRequest returns the bearer token, falling back to the session cookie
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate resolves the profile behind the request's session token
func Authenticate(r *http.Request, secret string) (uuid.UUID, error) {
	return Parse(secret, TokenFromRequest(r))
}

// WithProfile stores the authenticated profile id on ctx
func WithProfile(ctx context.Context, profileID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, profileID)
}

// ProfileFrom returns the profile id stored by WithProfile
func ProfileFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok
}
