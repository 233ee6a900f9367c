package securestore

import (
	"fmt"

	"totp-token/go-device/internal/records"
)

// EncryptStore serializes s and seals it into a BlobSize byte blob.
func EncryptStore(s *records.Store, key, nonce []byte) ([]byte, error) {
	plaintext, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plaintext)
	blob, err := Seal(key, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	return blob.MarshalBinary()
}

// DecryptStore authenticates raw and decodes it into a new store. The caller's
// live store is never touched here, so a failure leaves it authoritative.
func DecryptStore(raw, key []byte) (*records.Store, error) {
	blob, err := ParseBlob(raw, records.StoreSize)
	if err != nil {
		return nil, err
	}
	plaintext, err := Open(key, blob)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plaintext)
	next := records.New()
	if err := next.UnmarshalBinary(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return next, nil
}
