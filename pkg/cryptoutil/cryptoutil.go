package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RandomToken returns n random bytes encoded as unpadded base64url.
// Used for handshake state and nonce values.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomID returns a hex-encoded random identifier prefixed with "_" so it is
// a valid XML ID (SAML request IDs must not start with a digit).
func RandomID() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "_" + hex.EncodeToString(buf), nil
}

// HashSHA256 returns the hex-encoded SHA-256 digest of data.
func HashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignHMAC computes an HMAC-SHA256 signature over data with the given key.
func SignHMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether sig is a valid HMAC-SHA256 signature over data.
func VerifyHMAC(key, data, sig []byte) bool {
	expected := SignHMAC(key, data)
	return hmac.Equal(expected, sig)
}

// ConstantTimeEquals compares two strings in constant time. Always use this
// for handshake state comparison; == leaks a timing side channel.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
