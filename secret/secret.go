// Package secret encrypts small credential files with a passphrase.
//
// The encoded form is base64(salt | nonce | ciphertext) where the key is
// derived from the passphrase with PBKDF2-SHA256 and the payload is sealed
// with AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

var (
	// ErrWrongPassphrase is returned when the payload fails authentication.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted secret")
	errShort           = errors.New("encrypted data too short")
)

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under passphrase.
func Encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encoded, passphrase string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(data) < saltSize {
		return "", errShort
	}
	gcm, err := newGCM(passphrase, data[:saltSize])
	if err != nil {
		return "", err
	}
	rest := data[saltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", errShort
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(plain), nil
}

// ReadFile decrypts the secret stored at path.
func ReadFile(path, passphrase string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Decrypt(string(data), passphrase)
}
