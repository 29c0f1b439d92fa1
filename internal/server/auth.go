// auth.go - JWT issuance, verification, and auth middleware.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthConfig holds token signing material and lifetime.
type AuthConfig struct {
	Secret []byte
	TTL    time.Duration
}

func (a AuthConfig) ttl() time.Duration {
	if a.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return a.TTL
}

// userClaims is the JWT payload. The nonce guarantees two tokens issued in
// the same second for the same user still differ.
type userClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	IsAdmin  bool   `json:"is_admin"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// authUser is the authenticated identity handlers read from the request context.
type authUser struct {
	ID       string
	Username string
	Nickname string
	IsAdmin  bool
}

const authUserKey ctxKey = "auth_user"

// userFromContext returns the authenticated user, or nil outside requireAuth.
func userFromContext(ctx context.Context) *authUser {
	u, _ := ctx.Value(authUserKey).(*authUser)
	return u
}

// IssueToken signs a JWT for the given user.
func (a AuthConfig) IssueToken(u authUser) (string, error) {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)

	now := time.Now()
	claims := &userClaims{
		UserID:   u.ID,
		Username: u.Username,
		Nickname: u.Nickname,
		IsAdmin:  u.IsAdmin,
		Nonce:    hex.EncodeToString(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    "imagehub",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl())),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

// VerifyToken parses and validates a signed token string.
func (a AuthConfig) VerifyToken(tokenString string) (*userClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &userClaims{}, func(token *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*userClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// requireAuth rejects requests without a valid Bearer token and stores the
// caller identity in the request context for handlers downstream.
func (a AuthConfig) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}

		claims, err := a.VerifyToken(strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
			return
		}

		u := &authUser{
			ID:       claims.UserID,
			Username: claims.Username,
			Nickname: claims.Nickname,
			IsAdmin:  claims.IsAdmin,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authUserKey, u)))
	})
}

// requireAdmin layers an admin check on top of requireAuth.
func (a AuthConfig) requireAdmin(next http.Handler) http.Handler {
	return a.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFromContext(r.Context())
		if u == nil || !u.IsAdmin {
			respondError(w, http.StatusForbidden, codeForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
