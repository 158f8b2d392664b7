// Package keycrypt encrypts license keys at rest and derives the keyed hash
// used to look them up without decrypting.
package keycrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrEmptySecret = errors.New("keycrypt: empty secret")
	ErrCiphertext  = errors.New("keycrypt: malformed ciphertext")
)

const hkdfInfo = "dlm license key encryption v1"

// Crypter is safe for concurrent use.
type Crypter struct {
	aead    cipher.AEAD
	hashKey []byte
}

// New derives an AES-256 key from encSecret via HKDF-SHA256 and keeps
// hashSecret for HMAC lookups.
func New(encSecret, hashSecret string) (*Crypter, error) {
	if encSecret == "" || hashSecret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(encSecret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &Crypter{aead: aead, hashKey: []byte(hashSecret)}, nil
}

// Encrypt returns base64(nonce|ciphertext).
func (c *Crypter) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Crypter) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}

// Hash returns hex(HMAC-SHA256(hashSecret, plain)).
func (c *Crypter) Hash(plain string) string {
	m := hmac.New(sha256.New, c.hashKey)
	m.Write([]byte(plain))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// RandomHex returns n random bytes hex-encoded (2n chars).
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
