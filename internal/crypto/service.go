// Package crypto provides the authenticated at-rest encryption layer for
// document text and PII mappings.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100000
	keyLength     = 32
	saltLength    = 16
	nonceLength   = 12
)

// ErrDecryptionFailed covers both a wrong key and tampered or corrupted
// ciphertext; the two are deliberately not distinguished.
var ErrDecryptionFailed = errors.New("decryption failed: invalid key or corrupted ciphertext")

// ErrPasswordDecrypt is the password-scoped variant of a decrypt failure.
// It does not disclose whether the password was wrong or the data corrupt.
var ErrPasswordDecrypt = errors.New("incorrect password or corrupted data")

// Service encrypts and decrypts text and JSON-structured values with
// AES-256-GCM under a key derived from the server secret. The derived key
// is computed once at construction; all methods are safe to call
// concurrently.
type Service struct {
	key []byte
}

// NewService derives the server key from secret and returns a ready
// service. The secret must be non-empty.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}
	return &Service{key: deriveKey(secret)}, nil
}

// deriveKey applies PBKDF2-HMAC-SHA256 over the secret. The salt is the
// first 16 bytes of the secret itself, right-padded with '0' when shorter.
// This keeps keys stable across restarts without external salt storage;
// ciphertexts written under this construction cannot be re-keyed without
// re-encryption, so the scheme is preserved as-is.
func deriveKey(secret string) []byte {
	salt := make([]byte, saltLength)
	copy(salt, secret)
	for i := len(secret); i < saltLength; i++ {
		salt[i] = '0'
	}
	return pbkdf2.Key([]byte(secret), salt, kdfIterations, keyLength, sha256.New)
}

// EncryptText seals plaintext with the server key and returns a printable
// base64url token of nonce || ciphertext. Empty input yields empty output,
// not an encryption of the empty string.
func (s *Service) EncryptText(plaintext string) (string, error) {
	return encryptWithKey(plaintext, s.key)
}

// DecryptText reverses EncryptText. Authentication failure returns
// ErrDecryptionFailed.
func (s *Service) DecryptText(ciphertext string) (string, error) {
	return decryptWithKey(ciphertext, s.key, ErrDecryptionFailed)
}

// EncryptJSON marshals v and encrypts the JSON through the text primitive.
func (s *Service) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value for encryption: %w", err)
	}
	return s.EncryptText(string(data))
}

// DecryptJSON decrypts a token produced by EncryptJSON and unmarshals the
// JSON into v.
func (s *Service) DecryptJSON(ciphertext string, v any) error {
	plaintext, err := s.DecryptText(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted value: %w", err)
	}
	return nil
}

// EncryptWithPassword seals plaintext under a one-off key derived from the
// caller-supplied password, independent of the server secret.
func (s *Service) EncryptWithPassword(plaintext, password string) (string, error) {
	return encryptWithKey(plaintext, deriveKey(password))
}

// DecryptWithPassword reverses EncryptWithPassword. Any failure surfaces
// as ErrPasswordDecrypt.
func (s *Service) DecryptWithPassword(ciphertext, password string) (string, error) {
	return decryptWithKey(ciphertext, deriveKey(password), ErrPasswordDecrypt)
}

func encryptWithKey(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func decryptWithKey(ciphertext string, key []byte, failure error) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", failure
	}
	if len(raw) <= nonceLength {
		return "", failure
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, raw[:nonceLength], raw[nonceLength:], nil)
	if err != nil {
		return "", failure
	}

	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
