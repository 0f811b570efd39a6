// Package auth guards the hub with a single shared access key stored as a
// bcrypt hash.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Header carries the access key on the websocket upgrade request.
const Header = "X-Access-Key"

var ErrInvalidKey = errors.New("invalid access key")

// HashKey returns the bcrypt hash to put in the server config.
func HashKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty access key")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify checks key against hash. An empty hash disables the check.
func Verify(hash, key string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(key))); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// GenerateKey creates a random URL-safe access key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
