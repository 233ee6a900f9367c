package identity

import (
	"crypto/sha256"
	"io"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoGeneratorSeed = "totp/cspring/seed/v1"
	fingerprintDomain     = "totp/identity/fingerprint/v1"
	fingerprintPrefix     = "tkf1"
)

// SeedFor expands the identity into the generator seed. The result depends on
// the identity alone, so the nonce stream stays reproducible per device.
func SeedFor(secret Secret) ([SecretSize]byte, error) {
	var seed [SecretSize]byte
	reader := hkdf.New(sha256.New, secret[:], nil, []byte(hkdfInfoGeneratorSeed))
	if _, err := io.ReadFull(reader, seed[:]); err != nil {
		return seed, err
	}
	return seed, nil
}

// DeriveCDI composes a device identity from the unique device secret, the
// digest of the application and an optional user supplied secret, the way the
// token firmware measures the loaded app.
func DeriveCDI(uds Secret, appDigest []byte, uss []byte) Secret {
	h, _ := blake2s.New256(nil)
	h.Write(uds[:])
	h.Write(appDigest)
	h.Write(uss)
	var cdi Secret
	copy(cdi[:], h.Sum(nil))
	return cdi
}

// AppDigest measures an application image.
func AppDigest(image []byte) []byte {
	sum := blake2s.Sum256(image)
	return sum[:]
}

// Fingerprint is a one-way, printable handle for the identity. It is the only
// identity-derived value that may appear in logs.
func Fingerprint(secret Secret) string {
	h, _ := blake2b.New256([]byte(fingerprintDomain))
	h.Write(secret[:])
	return fingerprintPrefix + base58.Encode(h.Sum(nil)[:16])
}
