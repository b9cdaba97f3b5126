// Package envelope seals and opens credential payloads with AES-256-GCM.
//
// The sealed form is base64(iv || tag || ciphertext) with a 16 byte iv and
// a 16 byte authentication tag.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the iv length used for every seal.
	NonceSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// ErrCorrupt is returned by Open when the input is malformed, truncated or
// fails authentication.
var ErrCorrupt = errors.New("envelope: corrupt or tampered payload")

// Seal encrypts plaintext with a fresh random iv.
func Seal(key, plaintext []byte) (string, error) {
	return seal(rand.Reader, key, plaintext)
}

func seal(entropy io.Reader, key, plaintext []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(entropy, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal appends ciphertext || tag; the stored layout puts the tag first.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func Open(key []byte, encoded string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < NonceSize+TagSize {
		return nil, ErrCorrupt
	}

	iv := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ct := raw[NonceSize+TagSize:]

	buf := make([]byte, 0, len(ct)+TagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := aead.Open(nil, iv, buf, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	return aead, nil
}
