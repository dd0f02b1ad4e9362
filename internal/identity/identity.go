// Package identity provides the router's signing identity.
// Each router derives a secp256k1 keypair from a BIP39 mnemonic seed and
// uses it to sign confirmation records; counterparties verify with the
// router's published public key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidPubKey   = errors.New("invalid public key")
	ErrBadSignature    = errors.New("signature verification failed")
)

// Identity is a router's signing identity.
type Identity struct {
	RouterID string
	privKey  *btcec.PrivateKey
	pubKey   *btcec.PublicKey
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NewFromMnemonic derives a router identity from a BIP39 mnemonic.
// The same mnemonic always yields the same keypair, so the identity
// survives restarts without storing key material.
func NewFromMnemonic(routerID, mnemonic, passphrase string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, passphrase)

	// Hash the seed down to a scalar; PrivKeyFromBytes reduces mod N.
	keyBytes := sha256.Sum256(seed)
	privKey, pubKey := btcec.PrivKeyFromBytes(keyBytes[:])

	return &Identity{
		RouterID: routerID,
		privKey:  privKey,
		pubKey:   pubKey,
	}, nil
}

// PubKeyHex returns the compressed public key as a hex string.
func (id *Identity) PubKeyHex() string {
	return hex.EncodeToString(id.pubKey.SerializeCompressed())
}

// SealKey returns a 32-byte key derived from the identity, used to seal
// swap secrets at rest. It is not the signing key.
func (id *Identity) SealKey() []byte {
	sum := sha256.Sum256(append([]byte("swapd/seal/"), id.privKey.Serialize()...))
	return sum[:]
}

// Sign signs the SHA256 digest of msg and returns a DER-encoded signature.
func (id *Identity) Sign(msg []byte) []byte {
	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(id.privKey, digest[:])
	return sig.Serialize()
}

// Verify checks a DER-encoded signature over msg against a compressed
// public key in hex.
func Verify(pubKeyHex string, msg, sigBytes []byte) error {
	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	digest := sha256.Sum256(msg)
	if !sig.Verify(digest[:], pubKey) {
		return ErrBadSignature
	}
	return nil
}
