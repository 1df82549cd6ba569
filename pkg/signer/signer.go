// Package signer produces and checks ed25519 signatures over canonical JSON.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Signer signs payloads with a single ed25519 key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New generates a throwaway key.
func New() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// FromSeed restores a signer from a hex encoded 32 byte seed.
func FromSeed(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the hex encoded public key.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.pub)
}

// Sign returns the hex signature of data.
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, data))
}

// SignJSON signs the RFC 8785 canonical form of v.
func (s *Signer) SignJSON(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return s.Sign(canonical), nil
}

// Canonical marshals v and canonicalises it per RFC 8785.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return out, nil
}

// Verify checks a hex signature over data against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) error {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return fmt.Errorf("signature does not match")
	}
	return nil
}

// VerifyJSON checks a signature made by SignJSON.
func VerifyJSON(pubKeyHex, sigHex string, v any) error {
	canonical, err := Canonical(v)
	if err != nil {
		return err
	}
	return Verify(pubKeyHex, sigHex, canonical)
}
