package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// rawKeyPrefixBytes is the number of random bytes in the lookup prefix (8 hex chars).
	rawKeyPrefixBytes = 4
	// rawKeySecretBytes is the number of random bytes in the secret portion (32 hex chars).
	rawKeySecretBytes = 16
	// rawKeyScheme marks all Arbiter API keys.
	rawKeyScheme = "arb_"
)

// GenerateRawKey produces a raw API key in the form
// arb_<8-char-prefix>_<32-char-secret> and returns the prefix separately.
// The prefix is stored in clear so authentication fetches one candidate row;
// the full raw key is what gets hashed.
func GenerateRawKey() (rawKey, prefix string, err error) {
	prefixBytes := make([]byte, rawKeyPrefixBytes)
	if _, err := rand.Read(prefixBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key prefix: %w", err)
	}
	secretBytes := make([]byte, rawKeySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key secret: %w", err)
	}

	prefix = hex.EncodeToString(prefixBytes)
	rawKey = rawKeyScheme + prefix + "_" + hex.EncodeToString(secretBytes)
	return rawKey, prefix, nil
}

// ParseRawKey extracts the lookup prefix from a raw key string. Returns an
// error when the key does not follow the arb_<prefix>_<secret> form.
func ParseRawKey(rawKey string) (string, error) {
	rest, ok := strings.CutPrefix(rawKey, rawKeyScheme)
	if !ok {
		return "", fmt.Errorf("model: invalid key format: missing %s scheme", rawKeyScheme)
	}
	sep := strings.IndexByte(rest, '_')
	if sep < 1 || sep == len(rest)-1 {
		return "", fmt.Errorf("model: invalid key format: expected %s<prefix>_<secret>", rawKeyScheme)
	}
	return rest[:sep], nil
}
