package urlbuild

import "github.com/dunamismax/flyimg/internal/signing"

// HMACSigner signs request paths with HMAC-SHA256. An empty secret disables
// signing.
func HMACSigner(secret string) Signer {
	if secret == "" {
		return nil
	}
	return func(pathWithoutHost string) string {
		return signing.HexHMAC(secret, []byte(pathWithoutHost))
	}
}
