package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const aes256KeySize = 32

// DecryptedFallback replaces message content that cannot be decrypted on read paths.
const DecryptedFallback = "[message could not be decrypted]"

var ErrDecryption = errors.New("decryption failed")

var keyInfo = []byte("linkaia/messages/v1")

// Codec encrypts message bodies with AES-256-GCM, one random nonce per call.
type Codec struct {
	aead cipher.AEAD
}

// DeriveKey stretches configured secret material into an AES-256 key.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption secret is required")
	}
	key := make([]byte, aes256KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, keyInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func NewCodec(key []byte) (*Codec, error) {
	if len(key) != aes256KeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), aes256KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

func NewCodecFromSecret(secret string) (*Codec, error) {
	key, err := DeriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	return NewCodec(key)
}

func (c *Codec) Encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	iv = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nil, iv, []byte(plaintext), nil), iv, nil
}

func (c *Codec) Decrypt(ciphertext, iv []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	if len(iv) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: invalid nonce length %d", ErrDecryption, len(iv))
	}
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}
