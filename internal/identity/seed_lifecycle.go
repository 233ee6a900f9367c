package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
)

const (
	ussSalt             = "totp/identity/uss/v1"
	defaultArgonTime    = uint32(2)
	defaultArgonMemKB   = uint32(64 * 1024)
	defaultArgonThreads = uint8(1)
)

// ParseSecret decodes a provisioned identity written as "hex:<64 hex>",
// "base58:<text>" or "mnemonic:<24 words>". A bare value is read as hex.
func ParseSecret(raw string) (Secret, error) {
	var out Secret
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, ErrNotProvisioned
	}
	scheme, value, ok := strings.Cut(raw, ":")
	if !ok {
		scheme, value = "hex", raw
	}
	value = strings.TrimSpace(value)

	var decoded []byte
	var err error
	switch strings.ToLower(scheme) {
	case "hex":
		decoded, err = hex.DecodeString(value)
	case "base58":
		decoded, err = base58.Decode(value)
	case "mnemonic":
		decoded, err = entropyFromMnemonic(value)
	default:
		return out, fmt.Errorf("%w: unknown scheme %q", ErrInvalidSecret, scheme)
	}
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	defer zeroBytes(decoded)
	if len(decoded) != SecretSize {
		return out, fmt.Errorf("%w: %d bytes", ErrInvalidSecret, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// NewMnemonic generates a fresh identity and its 24-word backup phrase.
func NewMnemonic() (string, Secret, error) {
	var out Secret
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", out, err
	}
	defer zeroBytes(entropy)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", out, err
	}
	copy(out[:], entropy)
	return mnemonic, out, nil
}

// USSFromPassphrase stretches a passphrase into a user supplied secret.
func USSFromPassphrase(passphrase string) ([]byte, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidSecret)
	}
	return argon2.IDKey([]byte(passphrase), []byte(ussSalt), defaultArgonTime, defaultArgonMemKB, defaultArgonThreads, SecretSize), nil
}

func entropyFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return bip39.EntropyFromMnemonic(mnemonic)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
