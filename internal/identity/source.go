package identity

import (
	"fmt"
	"os"
	"strings"
)

// Static hands out a fixed identity once; later calls fail so the secret has
// a single consumer.
type Static struct {
	secret Secret
	used   bool
}

func NewStatic(secret Secret) *Static {
	return &Static{secret: secret}
}

func (s *Static) DeviceIdentity() (Secret, error) {
	if s.used {
		return Secret{}, fmt.Errorf("%w: already consumed", ErrNotProvisioned)
	}
	if s.secret.IsZero() {
		return Secret{}, ErrNotProvisioned
	}
	out := s.secret
	s.secret.Wipe()
	s.used = true
	return out, nil
}

// Provisioning describes where the emulated device gets its identity.
type Provisioning struct {
	// Identity is a ParseSecret value used as the CDI directly.
	Identity string
	// IdentityFile holds a ParseSecret value; used when Identity is empty.
	IdentityFile string
	// UDS switches to measured mode: CDI = DeriveCDI(UDS, app digest, USS).
	UDS           string
	AppImage      []byte
	USSPassphrase string
}

// Load resolves the provisioning into a one-shot identity source.
func Load(p Provisioning) (*Static, error) {
	if strings.TrimSpace(p.UDS) != "" {
		uds, err := ParseSecret(p.UDS)
		if err != nil {
			return nil, fmt.Errorf("uds: %w", err)
		}
		defer uds.Wipe()
		var uss []byte
		if p.USSPassphrase != "" {
			uss, err = USSFromPassphrase(p.USSPassphrase)
			if err != nil {
				return nil, err
			}
			defer zeroBytes(uss)
		}
		return NewStatic(DeriveCDI(uds, AppDigest(p.AppImage), uss)), nil
	}

	raw := p.Identity
	if strings.TrimSpace(raw) == "" && p.IdentityFile != "" {
		data, err := os.ReadFile(p.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		defer zeroBytes(data)
		raw = string(data)
	}
	secret, err := ParseSecret(raw)
	if err != nil {
		return nil, err
	}
	return NewStatic(secret), nil
}
