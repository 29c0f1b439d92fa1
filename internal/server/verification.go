// verification.go - Email verification codes.
//
// Codes live in an in-process cache with a hard TTL and explicit eviction
// on use. One code per email address; requesting a new code replaces the
// old one.
package server

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

const verificationCodeTTL = 10 * time.Minute

type codeEntry struct {
	code      string
	expiresAt time.Time
}

// codeCache is a time-bounded key-value store for verification codes.
// Expired entries are dropped lazily on read and by the janitor sweep.
type codeCache struct {
	mu      sync.Mutex
	entries map[string]codeEntry
	ttl     time.Duration
}

func newCodeCache(ttl time.Duration) *codeCache {
	return &codeCache{entries: make(map[string]codeEntry), ttl: ttl}
}

func (c *codeCache) Set(email, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[email] = codeEntry{code: code, expiresAt: time.Now().Add(c.ttl)}
}

// Consume checks the code for an email and evicts it on success, so each
// code verifies at most once.
func (c *codeCache) Consume(email, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[email]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, email)
		return false
	}
	if entry.code != code {
		return false
	}
	delete(c.entries, email)
	return true
}

// evictExpired removes entries past their TTL; returns how many were dropped.
func (c *codeCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for email, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, email)
			n++
		}
	}
	return n
}

// generateVerificationCode produces a 6-digit numeric code.
func generateVerificationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand failing is effectively fatal elsewhere too.
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}

type sendCodeReq struct {
	Email string `json:"email" validate:"required,email"`
}

// sendCodeHandler handles POST /api/user/send-code.
func (s *Server) sendCodeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req sendCodeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if err := validate.Struct(req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}

		code := generateVerificationCode()
		s.codes.Set(req.Email, code)

		body := fmt.Sprintf(
			"Your verification code is: %s\n\nIt expires in %d minutes. "+
				"If you did not request this code, ignore this message.",
			code, int(verificationCodeTTL.Minutes()))
		if err := s.mailer.SendEmail(req.Email, "Your verification code", body); err != nil {
			Error("verification mail failed", map[string]any{"email": req.Email}, err)
			respondError(w, http.StatusInternalServerError, codeInternalError, "failed to send verification code")
			return
		}

		respondJSON(w, http.StatusOK, "verification code sent", nil)
	})
}

type verifyCodeReq struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
}

// verifyCodeHandler handles POST /api/user/verify-code.
func (s *Server) verifyCodeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req verifyCodeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}

		if !s.codes.Consume(strings.TrimSpace(req.Email), req.Code) {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "verification code is wrong or expired")
			return
		}

		respondJSON(w, http.StatusOK, "code verified", map[string]any{"verified": true})
	})
}
