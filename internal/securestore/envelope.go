// Package securestore seals the record store into the fixed-size encrypted blob
// moved over the channel: XChaCha20-Poly1305 keyed by the device identity.
package securestore

import (
	"errors"
	"fmt"

	"totp-token/go-device/internal/records"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	MACSize   = chacha20poly1305.Overhead

	// BlobSize is the wire size of an encrypted record store.
	BlobSize = records.StoreSize + NonceSize + MACSize
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore blob is invalid")
)

// Blob is ciphertext | nonce | mac on the wire.
type Blob struct {
	Ciphertext []byte
	Nonce      [NonceSize]byte
	MAC        [MACSize]byte
}

// Seal encrypts plaintext. Output is a pure function of key, nonce and
// plaintext; the caller must never reuse a nonce under the same key.
func Seal(key, nonce, plaintext []byte) (Blob, error) {
	if len(nonce) != NonceSize {
		return Blob{}, fmt.Errorf("%w: nonce size %d", ErrInvalid, len(nonce))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Blob{}, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	blob := Blob{Ciphertext: sealed[:len(plaintext)]}
	copy(blob.Nonce[:], nonce)
	copy(blob.MAC[:], sealed[len(plaintext):])
	return blob, nil
}

// Open verifies the MAC and only then returns the plaintext.
func Open(key []byte, blob Blob) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(blob.Ciphertext)+MACSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.MAC[:]...)
	plaintext, err := aead.Open(nil, blob.Nonce[:], sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (b Blob) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(b.Ciphertext)+NonceSize+MACSize)
	out = append(out, b.Ciphertext...)
	out = append(out, b.Nonce[:]...)
	out = append(out, b.MAC[:]...)
	return out, nil
}

// ParseBlob splits raw into its parts given the plaintext length.
func ParseBlob(raw []byte, plaintextLen int) (Blob, error) {
	if plaintextLen < 0 || len(raw) != plaintextLen+NonceSize+MACSize {
		return Blob{}, fmt.Errorf("%w: size %d", ErrInvalid, len(raw))
	}
	blob := Blob{Ciphertext: append([]byte(nil), raw[:plaintextLen]...)}
	copy(blob.Nonce[:], raw[plaintextLen:])
	copy(blob.MAC[:], raw[plaintextLen+NonceSize:])
	return blob, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
