package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ContentHash returns the hex SHA-256 of the file at path, streaming in
// chunks so memory stays constant regardless of file size.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("content hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("content hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashDocument canonicalizes a JSON document and returns the hex SHA-256
// of the canonical bytes. Use this for any structured input signature so
// that formatting differences never change the hash.
func HashDocument(doc []byte) (string, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
