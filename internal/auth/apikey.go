package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// AdminKeyLength is the number of random bytes in an admin key
	AdminKeyLength = 32

	// AdminKeyPrefix marks operator console keys
	AdminKeyPrefix = "avs_"
)

// GenerateAdminKey returns a new random operator key
func GenerateAdminKey() (string, error) {
	buf := make([]byte, AdminKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return AdminKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAdminKey returns the SHA-256 digest stored in place of the key
func HashAdminKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// ValidAdminKeyFormat reports whether key carries the admin prefix and a body
func ValidAdminKeyFormat(key string) bool {
	return strings.HasPrefix(key, AdminKeyPrefix) && len(key) > len(AdminKeyPrefix)
}
