// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// CorrelationBytes is the entropy of a correlation token (128 bits).
const CorrelationBytes = 16

// Correlation returns a fresh correlation token: "tx_" + 32 hex chars.
// Uniqueness among outstanding requests relies on the 128-bit space.
func Correlation() string {
	return WithPrefix("tx_", CorrelationBytes)
}

// RequestID returns a 32 hex char ID for HTTP request tracing.
func RequestID() string {
	return Hex(16)
}

// WithPrefix generates prefix + hex(numBytes random bytes).
func WithPrefix(prefix string, numBytes int) string {
	return prefix + Hex(numBytes)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
