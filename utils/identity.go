package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Identity derives opaque user keys from sender addresses so raw phone
// numbers never reach the session store or the logs.
type Identity struct {
	salt []byte
}

func NewIdentity(salt string) *Identity {
	return &Identity{salt: []byte(salt)}
}

// UserKey returns the hex HMAC-SHA256 of the canonical address.
func (i *Identity) UserKey(address string) string {
	mac := hmac.New(sha256.New, i.salt)
	mac.Write([]byte(CanonicalAddress(address)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalAddress reduces phone-like addresses to their digits so that
// "+91 98765-43210" and "919876543210" map to the same user. Other
// identifiers (web user ids) are only trimmed.
func CanonicalAddress(address string) string {
	address = strings.TrimSpace(address)
	if !isPhoneLike(address) {
		return address
	}
	return CleanPhoneNumber(address)
}

// CleanPhoneNumber keeps only the digits of a phone number.
func CleanPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isPhoneLike(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || unicode.IsSpace(r):
		default:
			return false
		}
	}
	return digits >= 6
}
