// Package cryptox implements the client-side cryptography of hako: key
// derivation from a passphrase, filename encryption, and the chunked
// streaming AEAD used for file contents.
//
// The server never holds any of this key material. It stores only the salt,
// the nonces and the resulting ciphertext.
package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/skystar-p/hako/internal/common"
)

// Argon2id parameters for passphrase-based key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32
)

// DeriveKey derives the 32-byte content key from a passphrase and a salt
// using Argon2id. The salt must be exactly common.SaltSize bytes; a wrong
// length is a fatal input error, never retried.
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(salt) != common.SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d",
			common.ErrorValidation, common.SaltSize, len(salt))
	}
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keySize), nil
}

// GenerateSalt returns a fresh random salt. Salts are never reused across
// files.
func GenerateSalt() ([]byte, error) {
	return randBytes(common.SaltSize)
}

// GenerateStreamNonce returns the random base nonce that seeds the per-chunk
// nonce derivation of a content stream.
func GenerateStreamNonce() ([]byte, error) {
	return randBytes(common.StreamNonceSize)
}

// GenerateFilenameNonce returns the random nonce used to encrypt the
// filename, independent of the content stream so filename and content
// ciphertexts cannot be replayed against each other.
func GenerateFilenameNonce() ([]byte, error) {
	return randBytes(common.FilenameNonceSize)
}

// EncryptFilename encrypts the filename under its own full-size random nonce
// with XChaCha20-Poly1305.
func EncryptFilename(filename, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != common.FilenameNonceSize {
		return nil, fmt.Errorf("%w: filename nonce must be %d bytes, got %d",
			common.ErrorValidation, common.FilenameNonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, filename, nil), nil
}

// DecryptFilename inverts EncryptFilename. Tag verification failure is
// reported as common.ErrorIntegrity.
func DecryptFilename(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != common.FilenameNonceSize {
		return nil, fmt.Errorf("%w: filename nonce must be %d bytes, got %d",
			common.ErrorValidation, common.FilenameNonceSize, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: filename: %v", common.ErrorIntegrity, err)
	}
	return plaintext, nil
}

// Wipe overwrites the contents of the provided byte slice with zeros.
// Useful for removing passphrases and derived keys from memory after use.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return a, nil
}

func randBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
