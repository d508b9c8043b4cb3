package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HexHMAC returns the hex encoded HMAC-SHA256 of the concatenated parts.
func HexHMAC(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, part := range parts {
		mac.Write(part)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex signatures in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
