package source

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	apperrors "ragsync/internal/errors"
)

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile reads the whole file at path and hashes its bytes.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeReadFailed, "read file", err).WithDetail("source", path)
	}
	return HashBytes(data), nil
}
