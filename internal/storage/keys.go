package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	streamKeySaltLength = 16
	streamKeyKeyLength  = 32
	streamKeyIterations = 120000
)

// ErrStreamKeyMismatch is returned when a candidate key does not match the
// stored digest.
var ErrStreamKeyMismatch = errors.New("stream key mismatch")

// DigestStreamKey derives a storable digest for a stream key so archived
// records never retain the key in the clear. An empty key yields an empty
// digest.
func DigestStreamKey(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	salt := make([]byte, streamKeySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(key), salt, streamKeyIterations, streamKeyKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", streamKeyIterations, encodedSalt, encodedKey), nil
}

// VerifyStreamKey reports whether candidate matches a digest produced by
// DigestStreamKey.
func VerifyStreamKey(digest, candidate string) error {
	parts := strings.Split(digest, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify stream key: invalid digest format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify stream key: unsupported digest identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify stream key: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify stream key: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify stream key: decode digest: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrStreamKeyMismatch
	}
	return nil
}
