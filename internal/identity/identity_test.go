package identity

import (
	"testing"
)

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}

	id, err := NewFromMnemonic("router-a", mnemonic, "")
	if err != nil {
		t.Fatalf("NewFromMnemonic() error = %v", err)
	}
	if id.RouterID != "router-a" {
		t.Errorf("RouterID = %s, want router-a", id.RouterID)
	}
	if len(id.PubKeyHex()) != 66 {
		t.Errorf("PubKeyHex length = %d, want 66", len(id.PubKeyHex()))
	}
}

func TestNewFromMnemonicInvalid(t *testing.T) {
	_, err := NewFromMnemonic("router-a", "not a mnemonic at all", "")
	if err != ErrInvalidMnemonic {
		t.Errorf("error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestDeterministicDerivation(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}

	a, err := NewFromMnemonic("router-a", mnemonic, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFromMnemonic("router-a", mnemonic, "")
	if err != nil {
		t.Fatal(err)
	}

	if a.PubKeyHex() != b.PubKeyHex() {
		t.Error("same mnemonic produced different keys")
	}

	// Different passphrase, different key
	c, err := NewFromMnemonic("router-a", mnemonic, "other")
	if err != nil {
		t.Fatal(err)
	}
	if a.PubKeyHex() == c.PubKeyHex() {
		t.Error("different passphrase produced the same key")
	}
}

func TestSignVerify(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	id, err := NewFromMnemonic("router-a", mnemonic, "")
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("transfer-123|router-a|confirmed")
	sig := id.Sign(msg)

	if err := Verify(id.PubKeyHex(), msg, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	// Tampered message fails
	if err := Verify(id.PubKeyHex(), []byte("transfer-123|router-a|failed"), sig); err == nil {
		t.Error("Verify with tampered message should fail")
	}

	// Wrong key fails
	otherMnemonic, _ := GenerateMnemonic()
	other, _ := NewFromMnemonic("router-b", otherMnemonic, "")
	if err := Verify(other.PubKeyHex(), msg, sig); err == nil {
		t.Error("Verify with wrong key should fail")
	}

	// Garbage inputs
	if err := Verify("zz", msg, sig); err == nil {
		t.Error("Verify with bad pubkey hex should fail")
	}
	if err := Verify(id.PubKeyHex(), msg, []byte{0x01}); err == nil {
		t.Error("Verify with garbage signature should fail")
	}
}

func TestSealKey(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	id, err := NewFromMnemonic("router-a", mnemonic, "")
	if err != nil {
		t.Fatal(err)
	}

	key := id.SealKey()
	if len(key) != 32 {
		t.Errorf("SealKey length = %d, want 32", len(key))
	}

	again, _ := NewFromMnemonic("router-a", mnemonic, "")
	if string(again.SealKey()) != string(key) {
		t.Error("SealKey is not deterministic")
	}
}
