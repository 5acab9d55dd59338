package keystore

import (
	"path/filepath"
	"testing"

	"github.com/streamletproto/pricechain/crypto"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "node1.json")

	if err := SaveKey(path, "correct horse battery staple", priv); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	got, err := LoadKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got.Hex() != priv.Hex() {
		t.Error("decrypted key does not match original")
	}
}

func TestLoadWrongPasswordFails(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "node1.json")
	if err := SaveKey(path, "correct-password", priv); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKey(path, "wrong-password"); err == nil {
		t.Error("expected error loading keystore with wrong password")
	}
}
