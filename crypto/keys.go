// Package crypto implements the cryptographic identity primitives the
// consensus engine is built on: Ed25519 keypairs and deterministic signing
// and verification over canonical byte strings.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrivateKey wraps ed25519 private key bytes.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair using a CSPRNG.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Public derives the ed25519 public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Hex returns the hex-encoded private key, for keystore/config debugging only.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Hex returns the full 64-char hex-encoded public key. Used as the roster's
// voter_id / proposer_id and for human-facing config and logging.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// SerializePub returns the raw 32-byte Ed25519 public-key wire encoding
// (spec §6: "Public key wire format: raw 32-byte Ed25519").
func SerializePub(pub PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, fmt.Errorf("pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	copy(out[:], pub)
	return out, nil
}

// DeserializePub parses a raw 32-byte Ed25519 public-key wire encoding.
func DeserializePub(raw [32]byte) PublicKey {
	out := make(PublicKey, ed25519.PublicKeySize)
	copy(out, raw[:])
	return out
}

// PubKeyFromHex decodes a hex-encoded public key, as used in config rosters.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PublicKey(b), nil
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid privkey hex: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("privkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}
