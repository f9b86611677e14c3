// Package auth guards operator endpoints.
//
// Operators authenticate with a static bearer token (OPERATOR_TOKEN). Only
// SHA-256 digests are kept in memory and comparisons are constant-time.
// Deciding warnings, listing pending requests and the websocket feed all
// require it; the JSON-RPC proxy does not.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrNoToken      = errors.New("auth: operator token required")
	ErrInvalidToken = errors.New("auth: invalid operator token")
	ErrNoTokens     = errors.New("auth: no operator tokens configured")
)

// TokenPrefix marks generated operator tokens.
const TokenPrefix = "wg_"

// MinTokenLength rejects trivially guessable configured tokens.
const MinTokenLength = 16

// Manager validates operator tokens.
type Manager struct {
	digests [][sha256.Size]byte
}

// NewManager accepts one or more raw tokens. Empty entries are ignored.
func NewManager(tokens ...string) (*Manager, error) {
	m := &Manager{}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(t) < MinTokenLength {
			return nil, errors.New("auth: operator token shorter than 16 characters")
		}
		m.digests = append(m.digests, sha256.Sum256([]byte(t)))
	}
	if len(m.digests) == 0 {
		return nil, ErrNoTokens
	}
	return m, nil
}

// Validate checks a raw token, with or without a "Bearer " prefix.
func (m *Manager) Validate(raw string) error {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return ErrNoToken
	}
	d := sha256.Sum256([]byte(raw))
	match := 0
	for _, want := range m.digests {
		match |= subtle.ConstantTimeCompare(d[:], want[:])
	}
	if match != 1 {
		return ErrInvalidToken
	}
	return nil
}

// GenerateToken returns a fresh random operator token.
func GenerateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}
