// Package commitment implements the secret/hash pair that gates HTLC claims.
// A commitment is a random 32-byte preimage and its SHA256 hash; the hash is
// published as the lock condition, the preimage is revealed to claim.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// SecretSize is the length of a swap secret in bytes.
const SecretSize = 32

var (
	ErrInvalidSecret     = errors.New("secret does not match hash")
	ErrInvalidSecretSize = errors.New("secret must be 32 bytes")
	ErrInvalidHashSize   = errors.New("secret hash must be 32 bytes")
)

// Commitment is a secret preimage and its hash.
type Commitment struct {
	Secret []byte // nil for the responder side until revealed
	Hash   []byte
}

// New generates a fresh random secret and its SHA256 hash.
func New() (*Commitment, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return &Commitment{
		Secret: secret,
		Hash:   HashSecret(secret),
	}, nil
}

// FromHash builds a commitment for a party that only knows the hash.
func FromHash(hash []byte) (*Commitment, error) {
	if len(hash) != SecretSize {
		return nil, ErrInvalidHashSize
	}
	h := make([]byte, SecretSize)
	copy(h, hash)
	return &Commitment{Hash: h}, nil
}

// HashSecret computes the SHA256 hash of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// Verify reports whether secret hashes to hash. Comparison is constant-time.
func Verify(secret, hash []byte) bool {
	if len(secret) != SecretSize || len(hash) != SecretSize {
		return false
	}
	computed := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(computed[:], hash) == 1
}

// Reveal checks the supplied secret against the stored hash and, if it
// matches, records it on the commitment.
func (c *Commitment) Reveal(secret []byte) error {
	if len(secret) != SecretSize {
		return ErrInvalidSecretSize
	}
	if !Verify(secret, c.Hash) {
		return ErrInvalidSecret
	}
	c.Secret = make([]byte, SecretSize)
	copy(c.Secret, secret)
	return nil
}

// HashHex returns the hash as a hex string.
func (c *Commitment) HashHex() string {
	return hex.EncodeToString(c.Hash)
}

// SecretHex returns the secret as a hex string, or "" if unknown.
func (c *Commitment) SecretHex() string {
	if len(c.Secret) == 0 {
		return ""
	}
	return hex.EncodeToString(c.Secret)
}
