// Package vault encrypts OAuth credentials at rest.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMalformed = errors.New("vault: malformed ciphertext")

// Vault seals strings with XChaCha20-Poly1305. Ciphertexts are base64(nonce || sealed).
type Vault struct {
	key []byte
}

// New accepts a 32 byte key, raw or base64 encoded.
func New(key string) (*Vault, error) {
	raw := []byte(key)
	if len(raw) != chacha20poly1305.KeySize {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(decoded) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault: key must be %d bytes or their base64 form", chacha20poly1305.KeySize)
		}
		raw = decoded
	}
	return &Vault{key: raw}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plain), nil
}
