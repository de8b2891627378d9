// Package auth implements agent identity: bearer and HMAC request
// authentication, and the api_key/claim_token/verification_code/agent-id
// generation used at registration.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateAPIKey returns a 64-character lowercase hex string from 32 random bytes.
func GenerateAPIKey() (string, error) {
	return randomHex(32)
}

// GenerateClaimToken returns a 32-character lowercase hex string from 16 random bytes.
func GenerateClaimToken() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateVerificationCode returns a 6-digit zero-padded decimal code drawn
// from 4 random bytes mod 1,000,000.
func GenerateVerificationCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate random bytes: %w", err)
	}
	n := new(big.Int).SetBytes(buf)
	n.Mod(n, big.NewInt(1_000_000))
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Slugify lowercases name, collapses runs of non-alphanumeric characters to
// a single underscore, and trims leading/trailing underscores, for use as an
// agent's id.
func Slugify(name string) string {
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasUnderscore = false
		default:
			if !lastWasUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastWasUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
