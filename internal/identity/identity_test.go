package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr-tron/base58/base58"
)

func testSecret() Secret {
	var s Secret
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

func TestSeedForDeterministicAndDistinct(t *testing.T) {
	s1, err := SeedFor(testSecret())
	if err != nil {
		t.Fatalf("seed 1 failed: %v", err)
	}
	s2, err := SeedFor(testSecret())
	if err != nil {
		t.Fatalf("seed 2 failed: %v", err)
	}
	if s1 != s2 {
		t.Fatal("generator seed should be deterministic")
	}
	secret := testSecret()
	if bytes.Equal(s1[:], secret[:]) {
		t.Fatal("generator seed must not equal the AEAD key")
	}
}

func TestParseSecretSchemes(t *testing.T) {
	want := testSecret()
	inputs := []string{
		"hex:" + hex.EncodeToString(want[:]),
		hex.EncodeToString(want[:]),
		"base58:" + base58.Encode(want[:]),
	}
	for _, in := range inputs {
		got, err := ParseSecret(in)
		if err != nil {
			t.Fatalf("parse %q failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q returned wrong secret", in)
		}
	}
}

func TestParseSecretMnemonicRoundtrip(t *testing.T) {
	mnemonic, secret, err := NewMnemonic()
	if err != nil {
		t.Fatalf("new mnemonic failed: %v", err)
	}
	if len(strings.Fields(mnemonic)) != 24 {
		t.Fatalf("expected 24 words, got %d", len(strings.Fields(mnemonic)))
	}
	got, err := ParseSecret("mnemonic: " + strings.ReplaceAll(mnemonic, " ", "  "))
	if err != nil {
		t.Fatalf("parse mnemonic failed: %v", err)
	}
	if got != secret {
		t.Fatal("mnemonic did not restore the same identity")
	}
}

func TestParseSecretRejectsBadInput(t *testing.T) {
	cases := []string{"hex:abcd", "base58:0OIl", "mnemonic:not a real phrase", "rot13:abc"}
	for _, in := range cases {
		if _, err := ParseSecret(in); !errors.Is(err, ErrInvalidSecret) {
			t.Fatalf("%q: expected ErrInvalidSecret, got %v", in, err)
		}
	}
	if _, err := ParseSecret("  "); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}
}

func TestDeriveCDIDependsOnEveryInput(t *testing.T) {
	uds := testSecret()
	base := DeriveCDI(uds, AppDigest([]byte("app")), nil)
	if base != DeriveCDI(uds, AppDigest([]byte("app")), nil) {
		t.Fatal("cdi should be deterministic")
	}
	if base == DeriveCDI(uds, AppDigest([]byte("other app")), nil) {
		t.Fatal("cdi should depend on the app digest")
	}
	if base == DeriveCDI(uds, AppDigest([]byte("app")), []byte("uss")) {
		t.Fatal("cdi should depend on the uss")
	}
}

func TestFingerprintIsStableAndOneWay(t *testing.T) {
	fp := Fingerprint(testSecret())
	if !strings.HasPrefix(fp, "tkf1") || fp != Fingerprint(testSecret()) {
		t.Fatalf("unexpected fingerprint: %q", fp)
	}
	secret := testSecret()
	if strings.Contains(fp, base58.Encode(secret[:])) {
		t.Fatal("fingerprint leaks the identity")
	}
}

func TestStaticSourceIsOneShot(t *testing.T) {
	src := NewStatic(testSecret())
	got, err := src.DeviceIdentity()
	if err != nil || got != testSecret() {
		t.Fatalf("first read failed: %v", err)
	}
	if _, err := src.DeviceIdentity(); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned on second read, got %v", err)
	}
	if _, err := NewStatic(Secret{}).DeviceIdentity(); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned for zero secret, got %v", err)
	}
}

func TestLoadFromFileAndMeasuredMode(t *testing.T) {
	secret := testSecret()
	path := filepath.Join(t.TempDir(), "cdi")
	if err := os.WriteFile(path, []byte("hex:"+hex.EncodeToString(secret[:])+"\n"), 0o600); err != nil {
		t.Fatalf("write identity file failed: %v", err)
	}
	src, err := Load(Provisioning{IdentityFile: path})
	if err != nil {
		t.Fatalf("load from file failed: %v", err)
	}
	if got, _ := src.DeviceIdentity(); got != secret {
		t.Fatal("file identity mismatch")
	}

	measured, err := Load(Provisioning{UDS: hex.EncodeToString(secret[:]), AppImage: []byte("image")})
	if err != nil {
		t.Fatalf("measured load failed: %v", err)
	}
	got, _ := measured.DeviceIdentity()
	if got != DeriveCDI(secret, AppDigest([]byte("image")), nil) {
		t.Fatal("measured identity mismatch")
	}
}

func TestUSSFromPassphrase(t *testing.T) {
	for _, p := range []string{"", "   \t"} {
		if _, err := USSFromPassphrase(p); !errors.Is(err, ErrInvalidSecret) {
			t.Fatalf("passphrase %q: expected ErrInvalidSecret, got %v", p, err)
		}
	}
	a, err := USSFromPassphrase("correct horse")
	if err != nil {
		t.Fatalf("derive uss: %v", err)
	}
	b, err := USSFromPassphrase("correct horse")
	if err != nil {
		t.Fatalf("derive uss again: %v", err)
	}
	if len(a) != SecretSize || !bytes.Equal(a, b) {
		t.Fatalf("uss must be %d deterministic bytes: %x vs %x", SecretSize, a, b)
	}
	other, err := USSFromPassphrase("correct horse.")
	if err != nil {
		t.Fatalf("derive other uss: %v", err)
	}
	if bytes.Equal(a, other) {
		t.Fatal("different passphrases must give different uss")
	}
}
