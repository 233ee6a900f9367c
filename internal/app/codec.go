package app

import (
	"totp-token/go-device/internal/securestore"
)

// storeCodec binds the transfer engine to the live store and the identity key.
type storeCodec struct {
	d *Device
}

func (c storeCodec) Seal(nonce []byte) ([]byte, error) {
	return securestore.EncryptStore(c.d.store, c.d.key[:], nonce)
}

// Open swaps the decrypted store in only after authentication succeeded.
func (c storeCodec) Open(blob []byte) error {
	next, err := securestore.DecryptStore(blob, c.d.key[:])
	if err != nil {
		return err
	}
	c.d.store.Reset()
	c.d.store = next
	return nil
}
