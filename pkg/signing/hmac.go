package signing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Digest fields are never part of the signed content.
const (
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
)

// Sign returns the lowercase hex HMAC-SHA512 of Canonicalize(params) keyed by
// secret.
func Sign(params Params, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(Canonicalize(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest over params minus the digest fields and
// compares it with claimed in constant time. Hex case is ignored.
func Verify(params Params, secret, claimed string) bool {
	if secret == "" || claimed == "" {
		return false
	}
	expected := Sign(params.Without(FieldSecureHash, FieldSecureHashType), secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(claimed)))
}
