package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	codec, err := NewCodecFromSecret(secret)
	if err != nil {
		t.Fatalf("NewCodecFromSecret: %v", err)
	}
	return codec
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t, "test-secret")

	ciphertext, iv, err := codec.Encrypt("hello 👋")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(iv) != 12 {
		t.Fatalf("expected 12-byte IV, got %d", len(iv))
	}
	if bytes.Contains(ciphertext, []byte("hello")) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	plaintext, err := codec.Decrypt(ciphertext, iv)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "hello 👋" {
		t.Fatalf("expected round trip, got %q", plaintext)
	}
}

func TestEncryptUsesFreshIVPerCall(t *testing.T) {
	codec := newTestCodec(t, "test-secret")

	firstCipher, firstIV, err := codec.Encrypt("same")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	secondCipher, secondIV, err := codec.Encrypt("same")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if bytes.Equal(firstIV, secondIV) {
		t.Fatalf("expected distinct IVs")
	}
	if bytes.Equal(firstCipher, secondCipher) {
		t.Fatalf("expected distinct ciphertexts")
	}
}

func TestDecryptFailures(t *testing.T) {
	codec := newTestCodec(t, "test-secret")
	other := newTestCodec(t, "other-secret")

	ciphertext, iv, err := codec.Encrypt("secret words")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff

	cases := []struct {
		name       string
		codec      *Codec
		ciphertext []byte
		iv         []byte
	}{
		{name: "wrong key", codec: other, ciphertext: ciphertext, iv: iv},
		{name: "tampered", codec: codec, ciphertext: tampered, iv: iv},
		{name: "short iv", codec: codec, ciphertext: ciphertext, iv: iv[:4]},
		{name: "empty", codec: codec, ciphertext: nil, iv: iv},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.codec.Decrypt(tc.ciphertext, tc.iv); !errors.Is(err, ErrDecryption) {
				t.Fatalf("expected ErrDecryption, got %v", err)
			}
		})
	}
}

func TestNewCodecRejectsShortKey(t *testing.T) {
	if _, err := NewCodec([]byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := DeriveKey(nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
