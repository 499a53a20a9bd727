package authgate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// randomToken returns n random bytes as unpadded base64url, the format used
// for every opaque token the engine hands out.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken is the lookup key for stored one-time tokens. Tokens are high
// entropy, so an unsalted SHA-256 is sufficient and keeps lookups exact.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// recoveryCode formats 10 random bytes as xxxxx-xxxxx for manual entry.
func recoveryCode() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	out := make([]byte, 11)
	for i, b := range buf {
		pos := i
		if i >= 5 {
			pos++
		}
		out[pos] = alphabet[int(b)%len(alphabet)]
	}
	out[5] = '-'
	return string(out), nil
}
