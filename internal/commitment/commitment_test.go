package commitment

import (
	"bytes"
	"testing"
)

func TestNew(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if len(c.Secret) != SecretSize {
		t.Errorf("secret length = %d, want %d", len(c.Secret), SecretSize)
	}
	if len(c.Hash) != SecretSize {
		t.Errorf("hash length = %d, want %d", len(c.Hash), SecretSize)
	}

	if !bytes.Equal(HashSecret(c.Secret), c.Hash) {
		t.Error("hash does not match HashSecret(secret)")
	}
}

func TestNewUnique(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	b, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.Secret, b.Secret) {
		t.Error("two generated secrets are identical")
	}
}

func TestVerify(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(c.Secret, c.Hash) {
		t.Error("Verify(secret, hash) = false, want true")
	}

	// Flip one byte
	bad := make([]byte, SecretSize)
	copy(bad, c.Secret)
	bad[0] ^= 0xff
	if Verify(bad, c.Hash) {
		t.Error("Verify with corrupted secret = true, want false")
	}

	// Wrong lengths never verify
	if Verify(c.Secret[:16], c.Hash) {
		t.Error("Verify with short secret = true, want false")
	}
	if Verify(c.Secret, c.Hash[:16]) {
		t.Error("Verify with short hash = true, want false")
	}
}

func TestFromHash(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}

	remote, err := FromHash(c.Hash)
	if err != nil {
		t.Fatalf("FromHash() error = %v", err)
	}
	if remote.Secret != nil {
		t.Error("FromHash commitment should not know the secret")
	}

	if _, err := FromHash(make([]byte, 16)); err != ErrInvalidHashSize {
		t.Errorf("FromHash(short) error = %v, want ErrInvalidHashSize", err)
	}
}

func TestReveal(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}

	remote, err := FromHash(c.Hash)
	if err != nil {
		t.Fatal(err)
	}

	// Wrong secret rejected, state unchanged
	wrong := make([]byte, SecretSize)
	if err := remote.Reveal(wrong); err != ErrInvalidSecret {
		t.Errorf("Reveal(wrong) error = %v, want ErrInvalidSecret", err)
	}
	if remote.Secret != nil {
		t.Error("failed reveal must not store a secret")
	}

	// Short secret rejected
	if err := remote.Reveal(c.Secret[:8]); err != ErrInvalidSecretSize {
		t.Errorf("Reveal(short) error = %v, want ErrInvalidSecretSize", err)
	}

	// Correct secret accepted
	if err := remote.Reveal(c.Secret); err != nil {
		t.Fatalf("Reveal() error = %v", err)
	}
	if !bytes.Equal(remote.Secret, c.Secret) {
		t.Error("revealed secret does not match")
	}
}

func TestHexEncoding(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if len(c.HashHex()) != 64 {
		t.Errorf("HashHex length = %d, want 64", len(c.HashHex()))
	}
	if len(c.SecretHex()) != 64 {
		t.Errorf("SecretHex length = %d, want 64", len(c.SecretHex()))
	}

	remote, _ := FromHash(c.Hash)
	if remote.SecretHex() != "" {
		t.Error("SecretHex for unknown secret should be empty")
	}
}
