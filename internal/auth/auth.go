// Package auth gates the admin API behind a single password.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrNoPassword      = errors.New("admin password not configured")
)

// HashPassword hashes a plaintext password using bcrypt with cost 12.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateToken produces a random session token (32 bytes, base64url, 43 characters).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsBcryptHash reports whether s looks like a bcrypt hash rather than a plaintext password.
func IsBcryptHash(s string) bool {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return false
	}
	return strings.HasPrefix(s, "$2")
}

// Gate checks the admin password and tracks the sessions it issued.
// Sessions live in memory; a restart logs everybody out.
type Gate struct {
	password string // plaintext, compared in constant time
	hash     string
	sessions *expirable.LRU[string, time.Time]
}

// NewGate accepts either a plaintext password or a bcrypt hash in secret.
func NewGate(secret string, ttl time.Duration, maxSessions int) *Gate {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxSessions <= 0 {
		maxSessions = 100
	}
	g := &Gate{sessions: expirable.NewLRU[string, time.Time](maxSessions, nil, ttl)}
	if IsBcryptHash(secret) {
		g.hash = secret
	} else {
		g.password = secret
	}
	return g
}

// Enabled reports whether an admin password is configured.
func (g *Gate) Enabled() bool {
	return g.password != "" || g.hash != ""
}

// Login checks password and returns a new session token.
func (g *Gate) Login(password string) (string, error) {
	if !g.Enabled() {
		return "", ErrNoPassword
	}
	if g.hash != "" {
		if err := CheckPassword(password, g.hash); err != nil {
			return "", ErrInvalidPassword
		}
	} else if subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) != 1 {
		return "", ErrInvalidPassword
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	g.sessions.Add(token, time.Now())
	return token, nil
}

// Valid reports whether token belongs to a live session.
func (g *Gate) Valid(token string) bool {
	if token == "" {
		return false
	}
	_, ok := g.sessions.Get(token)
	return ok
}

// Logout ends the session for token.
func (g *Gate) Logout(token string) {
	g.sessions.Remove(token)
}
