package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// SecretPrefix marks quotagate secrets so they are recognisable in config
// files and secret scanners.
const SecretPrefix = "qg_"

// secretBytes is the entropy of a generated secret (256 bits).
const secretBytes = 32

// KeyIDLength is the number of hex characters kept from the key_id digest.
const KeyIDLength = 16

var encodedSecretLen = len(SecretPrefix) + base64.RawURLEncoding.EncodedLen(secretBytes)

// GenerateSecret reads 32 random bytes from r and returns them as a
// prefixed, URL-safe string.
func GenerateSecret(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 digest of a raw secret.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// DeriveKeyID returns the public identifier for a secret hash: the hex
// SHA-256 of the hash, truncated. It is a pure function of secretHash.
func DeriveKeyID(secretHash string) string {
	h := sha256.Sum256([]byte(secretHash))
	return hex.EncodeToString(h[:])[:KeyIDLength]
}

// wellFormedSecret rejects values that could never have been issued.
func wellFormedSecret(secret string) bool {
	if len(secret) != encodedSecretLen || !strings.HasPrefix(secret, SecretPrefix) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(secret[len(SecretPrefix):])
	return err == nil
}
