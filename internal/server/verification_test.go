package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeCacheConsume(t *testing.T) {
	c := newCodeCache(time.Minute)
	c.Set("a@example.com", "123456")

	assert.False(t, c.Consume("a@example.com", "000000"))
	assert.True(t, c.Consume("a@example.com", "123456"))
	// Single use: a second consume of the same code fails.
	assert.False(t, c.Consume("a@example.com", "123456"))
}

func TestCodeCacheUnknownEmail(t *testing.T) {
	c := newCodeCache(time.Minute)
	assert.False(t, c.Consume("nobody@example.com", "123456"))
}

func TestCodeCacheReplacesCode(t *testing.T) {
	c := newCodeCache(time.Minute)
	c.Set("a@example.com", "111111")
	c.Set("a@example.com", "222222")

	assert.False(t, c.Consume("a@example.com", "111111"))
	assert.True(t, c.Consume("a@example.com", "222222"))
}

func TestCodeCacheExpiry(t *testing.T) {
	c := newCodeCache(-time.Second)
	c.Set("a@example.com", "123456")

	assert.False(t, c.Consume("a@example.com", "123456"))
}

func TestEvictExpired(t *testing.T) {
	c := newCodeCache(-time.Second)
	c.Set("a@example.com", "111111")
	c.Set("b@example.com", "222222")

	assert.Equal(t, 2, c.evictExpired())
	assert.Equal(t, 0, c.evictExpired())
}

func TestGenerateVerificationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := generateVerificationCode()
		assert.Len(t, code, 6)
		seen[code] = true
	}
	// 50 draws from a million-value space should not all collide.
	assert.Greater(t, len(seen), 1)
}
