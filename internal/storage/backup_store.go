// Package storage keeps encrypted store snapshots on the host. The blob is
// already sealed by the device, so files are written as-is with private
// permissions.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"totp-token/go-device/internal/securestore"
)

var ErrBlobSize = errors.New("backup file has unexpected size")

// WriteBlob stores blob at path, creating the parent directory 0700 and the
// file 0600. The file is replaced atomically.
func WriteBlob(path string, blob []byte) error {
	if len(blob) != securestore.BlobSize {
		return fmt.Errorf("%w: %d bytes", ErrBlobSize, len(blob))
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".totp-backup-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadBlob loads a backup and checks its size. Authenticity is checked by the
// device on upload.
func ReadBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != securestore.BlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobSize, len(data))
	}
	return data, nil
}
