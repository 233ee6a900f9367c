package identity

import "errors"

const SecretSize = 32

var (
	ErrInvalidSecret   = errors.New("invalid device identity")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrNotProvisioned  = errors.New("device identity is not provisioned")
)

// Secret is the device identity (CDI): 8 words of hardware-derived key
// material. It is the AEAD key and the root of the generator seed.
type Secret [SecretSize]byte

// Wipe zeroes the secret in place.
func (s *Secret) Wipe() {
	for i := range s {
		s[i] = 0
	}
}

func (s Secret) IsZero() bool {
	var zero Secret
	return s == zero
}
