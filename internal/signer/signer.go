// Package signer wraps Ed25519 detached signatures for session identity:
// a session's signing keypair authenticates every audit record it writes,
// without any hardware backing (a "soft" identity, generated and persisted
// alongside the session state).
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyIDLen is the number of hex characters kept from the public key to
// form its short keyId — the last 32 hex chars (16 bytes) of the encoded
// public key.
const KeyIDLen = 32

// KeyPair holds an Ed25519 session signing key, hex-encoded for storage
// inside a SessionState JSON file.
type KeyPair struct {
	PublicKeyHex  string `json:"publicKeyHex"`
	PrivateKeyHex string `json:"privateKeyHex"`
	KeyID         string `json:"keyId"`
}

// Generate creates a new Ed25519 keypair and derives its keyId.
func Generate() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating signing keypair: %w", err)
	}
	return keyPairFrom(pub, priv), nil
}

func keyPairFrom(pub ed25519.PublicKey, priv ed25519.PrivateKey) KeyPair {
	pubHex := hex.EncodeToString(pub)
	return KeyPair{
		PublicKeyHex:  pubHex,
		PrivateKeyHex: hex.EncodeToString(priv),
		KeyID:         lastN(pubHex, KeyIDLen),
	}
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// PrivateKey decodes the hex-encoded private key back into an
// ed25519.PrivateKey usable for signing.
func (k KeyPair) PrivateKey() (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(k.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private key hex: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

// PublicKey decodes the hex-encoded public key back into an
// ed25519.PublicKey usable for verification.
func (k KeyPair) PublicKey() (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(k.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// Sign produces a hex-encoded detached Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, msg))
}

// Verify reports whether sigHex is a valid Ed25519 signature over msg
// under pub. It never panics on malformed input — a bad hex string or
// wrong-length signature simply fails verification.
func Verify(pub ed25519.PublicKey, msg []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifyHex is like Verify but takes the public key as a hex string,
// decoding it first. Returns false (never an error) on malformed input.
func VerifyHex(pubHex string, msg []byte, sigHex string) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	return Verify(ed25519.PublicKey(pub), msg, sigHex)
}
