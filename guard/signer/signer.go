// Package signer holds a guard's long-term secp256k1 key and verifies the signatures of the other
// guards against their configured public keys.
package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer signs agreement digests with this guard's private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// New loads a signer from a hex-encoded private key (with or without 0x prefix).
func New(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid guard private key")
	}
	return &Signer{key: key}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate guard key")
	}
	return &Signer{key: key}, nil
}

// Sign signs a 32-byte digest and returns the 64-byte [R || S] signature.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign digest")
	}
	return sig[:64], nil
}

// PublicKeyHex returns the uncompressed public key, hex encoded.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSAPub(&s.key.PublicKey))
}

// PrivateKeyHex returns the private key, hex encoded.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

// Verifier checks guard signatures. Public keys are indexed by guard index.
type Verifier struct {
	keys [][]byte
}

// NewVerifier parses one hex-encoded public key per guard. Compressed and uncompressed forms are accepted.
func NewVerifier(publicKeysHex []string) (*Verifier, error) {
	keys := make([][]byte, len(publicKeysHex))
	for i, raw := range publicKeysHex {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid public key of guard %d", i)
		}
		if len(b) == 33 {
			pub, err := crypto.DecompressPubkey(b)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid compressed public key of guard %d", i)
			}
			b = crypto.FromECDSAPub(pub)
		}
		if _, err := crypto.UnmarshalPubkey(b); err != nil {
			return nil, errors.Wrapf(err, "invalid public key of guard %d", i)
		}
		keys[i] = b
	}
	return &Verifier{keys: keys}, nil
}

// GuardCount returns the number of known guards.
func (v *Verifier) GuardCount() int {
	return len(v.keys)
}

// Verify reports whether sig is a valid signature of digest by the guard with the given index.
func (v *Verifier) Verify(index int, digest, sig []byte) bool {
	if index < 0 || index >= len(v.keys) || len(digest) != 32 {
		return false
	}
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(v.keys[index], digest, sig)
}
