package gateways

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// FileHasher computes SHA256 content hashes
type FileHasher struct {
	fs afero.Fs
}

// NewFileHasher creates a hasher reading through fs (the OS when nil)
func NewFileHasher(fs afero.Fs) *FileHasher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileHasher{fs: fs}
}

// HashFile returns the hex SHA256 of a file
func (h *FileHasher) HashFile(filePath string) (string, error) {
	f, err := h.fs.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// VerifyFile checks a file against an expected hex SHA256
func (h *FileHasher) VerifyFile(filePath, expected string) error {
	actual, err := h.HashFile(filePath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filePath, expected, actual)
	}
	return nil
}
