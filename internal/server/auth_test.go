package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = AuthConfig{Secret: []byte("test-secret"), TTL: time.Hour}

func TestIssueAndVerifyToken(t *testing.T) {
	u := authUser{ID: "u1", Username: "alice", Nickname: "Alice", IsAdmin: true}
	tok, err := testAuth.IssueToken(u)
	require.NoError(t, err)

	claims, err := testAuth.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.NotEmpty(t, claims.ID)
	assert.NotEmpty(t, claims.Nonce)
}

func TestTokensDifferPerIssue(t *testing.T) {
	u := authUser{ID: "u1", Username: "alice"}
	a, err := testAuth.IssueToken(u)
	require.NoError(t, err)
	b, err := testAuth.IssueToken(u)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	claims := &userClaims{
		UserID:   "u1",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testAuth.Secret)
	require.NoError(t, err)

	_, err = testAuth.VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	tok, err := testAuth.IssueToken(authUser{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = AuthConfig{Secret: []byte("other")}.VerifyToken(tok)
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	var seen *authUser
	h := testAuth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = userFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, codeUnauthorized, decodeEnvelope(t, rr).Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := testAuth.IssueToken(authUser{ID: "u1", Username: "alice"})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.Username)
	})
}

func TestRequireAdmin(t *testing.T) {
	h := testAuth.requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("regular user forbidden", func(t *testing.T) {
		tok, err := testAuth.IssueToken(authUser{ID: "u1", Username: "alice"})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, codeForbidden, decodeEnvelope(t, rr).Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		tok, err := testAuth.IssueToken(authUser{ID: "u2", Username: "root", IsAdmin: true})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

// decodeEnvelope parses the JSON envelope every handler writes.
func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}
