package device

import (
	"crypto/rand"

	"github.com/juju/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"go-hotspot/core"
)

// Sealer encrypts device passwords at rest. Sealed values are the random
// nonce followed by the ciphertext.
type Sealer struct {
	key []byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, core.Configurationf("device secret key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Trace(err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (s *Sealer) Open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", core.Configurationf("sealed credential is truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", core.Configurationf("cannot decrypt device credential: %v", err)
	}
	return string(plain), nil
}
