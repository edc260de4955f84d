// Package storage defines the records directory abstraction.
package storage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/coherence/internal/models"
)

// Provider is the interface for record file operations.
type Provider interface {
	// List returns metadata for every record file under dir (relative to root).
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root).
	Delete(path string) error
}

// Checksum returns the hex-encoded SHA-256 digest of a record file's content.
// Sync compares it with the stored value to skip unchanged files.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
