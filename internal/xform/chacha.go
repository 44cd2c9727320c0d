package xform

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20Poly1305 is the default Transform: AEAD sealing with a random
// nonce prefixed to the ciphertext. It needs no peer authentication of its
// own (spec.md explicitly places that out of scope) — it only provides
// confidentiality and integrity for whatever symmetric key the embedder
// distributes out of band.
type ChaCha20Poly1305 struct {
	aead    interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// NewChaCha20Poly1305 builds a Transform from a 32-byte symmetric key.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("xform: new chacha20poly1305: %w", err)
	}
	return &ChaCha20Poly1305{aead: aead}, nil
}

// Overhead implements Transform.
func (c *ChaCha20Poly1305) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Seal implements Transform. The nonce is prepended to the sealed output.
func (c *ChaCha20Poly1305) Seal(dst, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("xform: read nonce: %w", err)
	}
	dst = append(dst, nonce...)
	return c.aead.Seal(dst, nonce, plaintext, nil), nil
}

// Open implements Transform, expecting the nonce prepended by Seal.
func (c *ChaCha20Poly1305) Open(dst, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, ErrOpenFailed
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	out, err := c.aead.Open(dst, nonce, sealed, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return out, nil
}
