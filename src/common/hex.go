package common

import (
	"encoding/hex"
	"fmt"
)

// HashLen is the length of a hex-encoded SHA-256 digest.
const HashLen = 64

// EncodeToString returns the UPPERCASE string representation of hexBytes with
// the 0X prefix. Public keys are printed this way.
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

// DecodeFromString converts a hex string with 0X prefix to a byte slice
func DecodeFromString(hexString string) ([]byte, error) {
	if len(hexString) < 2 {
		return nil, fmt.Errorf("hex string too short: %q", hexString)
	}
	return hex.DecodeString(hexString[2:])
}

// EncodeHash returns the lowercase hex form used for fact and tree hashes.
func EncodeHash(b []byte) string {
	return hex.EncodeToString(b)
}

// ValidHash reports whether s is a lowercase hex-encoded SHA-256 digest.
func ValidHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
