// Package crypto provides the ed25519 identity and content-hash primitives
// the coordination and capability engines rely on. It stands in for the
// transport layer's real signer in tests and in the in-memory reference
// transport; production deployments supply their own Signer/Verifier wired
// to the actual relay connection.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey is a hex-decoded ed25519 private key held by a coordinator or
// participant.
type PrivateKey struct {
	priv ed25519.PrivateKey
	pub  string
}

// GenerateKey creates a fresh ed25519 keypair.
func GenerateKey() (*PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &PrivateKey{priv: priv, pub: hex.EncodeToString(pub)}, nil
}

// ParsePrivateKey decodes a hex-encoded ed25519 private key. Accepts either
// the 32-byte seed (64 hex characters, as produced by SeedHex) or the
// 64-byte expanded private key (128 hex characters).
func ParsePrivateKey(hexKey string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key encoding: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("crypto: private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &PrivateKey{priv: priv, pub: hex.EncodeToString(pub)}, nil
}

// PublicKeyHex returns the lowercase 64-hex-character public key.
func (k *PrivateKey) PublicKeyHex() string {
	if k == nil {
		return ""
	}
	return k.pub
}

// Sign produces a raw ed25519 signature over msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// SeedHex returns the 32-byte ed25519 seed, hex-encoded, for persistence.
func (k *PrivateKey) SeedHex() string {
	return hex.EncodeToString(k.priv.Seed())
}

// ValidPubkeyHex reports whether s is a well-formed 64-lowercase-hex pubkey.
func ValidPubkeyHex(s string) bool {
	if len(s) != ed25519.PublicKeySize*2 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// Verify checks a raw ed25519 signature over msg against a hex-encoded
// pubkey. Malformed inputs are treated as verification failures, not errors.
func Verify(pubkeyHex string, msg, sig []byte) bool {
	if !ValidPubkeyHex(pubkeyHex) {
		return false
	}
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// ContentHash computes the Keccak-256 digest of the canonical serialization
// of a record's signed fields, used as the record id. Canonicalization is
// the caller's responsibility (see record.CanonicalBytes); this function
// only hashes the bytes it is given.
func ContentHash(canonical []byte) string {
	sum := ethcrypto.Keccak256Hash(canonical)
	return hex.EncodeToString(sum.Bytes())
}
