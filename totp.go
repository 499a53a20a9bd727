package authgate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

// TOTP parameters follow RFC 6238 with the common authenticator defaults:
// SHA-1, 6 digits, 30 second steps, one step of clock drift accepted on
// either side.
const (
	totpDigits = 6
	totpPeriod = 30 * time.Second
	totpSkew   = 1
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// generateTOTPSecret returns a fresh 160-bit base32 secret.
func generateTOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base32NoPad.EncodeToString(buf), nil
}

// otpauthURL builds the provisioning URI encoded into the enrollment QR
// code.
func otpauthURL(issuer, account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	v.Set("period", "30")
	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(issuer), url.PathEscape(account), v.Encode())
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	return fmt.Sprintf("%06d", code%1_000_000)
}

// validateTOTP checks code against secret at time at, accepting totpSkew
// steps of drift. It returns the matched step counter so callers can
// persist it and refuse replays; lastCounter is the highest counter already
// accepted for this secret. Comparison is constant time per candidate.
func validateTOTP(secret, code string, at time.Time, lastCounter int64) (bool, int64) {
	if len(code) != totpDigits {
		return false, 0
	}
	key, err := base32NoPad.DecodeString(secret)
	if err != nil {
		return false, 0
	}

	step := at.Unix() / int64(totpPeriod/time.Second)
	matched := false
	var matchedStep int64

	// Every candidate window is always evaluated so timing does not
	// reveal which step matched.
	for delta := int64(-totpSkew); delta <= totpSkew; delta++ {
		candidate := step + delta
		if candidate < 0 {
			continue
		}
		expected := hotp(key, uint64(candidate))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && candidate > lastCounter {
			matched = true
			matchedStep = candidate
		}
	}
	return matched, matchedStep
}
