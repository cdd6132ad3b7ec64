// Package cryptox seals durable records at rest.
//
// A storage key is derived from a user secret with argon2id; records are
// sealed with AES-256-GCM and carry their nonce as a prefix.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize = 16
	KeySize  = 32
)

var ErrShortCiphertext = errors.New("ciphertext too short")

func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key. The result is nonce || ciphertext.
func Seal(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize(), aesgcm.NonceSize()+len(plaintext)+aesgcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(sealed, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	n := aesgcm.NonceSize()
	if len(sealed) < n {
		return nil, ErrShortCiphertext
	}

	return aesgcm.Open(nil, sealed[:n], sealed[n:], nil)
}

// Wipe overwrites b with zeros. Use it on secrets and derived keys once they
// are no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
