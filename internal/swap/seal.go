package swap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedSecret indicates a sealed secret that cannot be opened.
var ErrSealedSecret = errors.New("cannot open sealed secret")

// sealSecret encrypts a swap secret for storage at rest. The output is
// hex(nonce || ciphertext) under XChaCha20-Poly1305.
func sealSecret(key, secret []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, secret, nil)
	return hex.EncodeToString(sealed), nil
}

// openSecret decrypts a secret sealed by sealSecret.
func openSecret(key []byte, sealedHex string) ([]byte, error) {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedSecret, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrSealedSecret
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	secret, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSealedSecret
	}
	return secret, nil
}
