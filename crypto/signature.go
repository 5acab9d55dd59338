package crypto

import (
	"crypto/ed25519"
)

// Sign signs data with the private key and returns the raw 64-byte
// Ed25519 signature (spec §6 signature wire format).
func Sign(priv PrivateKey, data []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv), data)
}

// Verify reports whether sig is a valid Ed25519 signature over data under
// pub. It never errors: a malformed key or signature simply verifies false,
// so callers (the replica state machine) can drop forged or malformed votes
// silently instead of threading an error through the consensus path.
func Verify(pub PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
