package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const (
	ed25519PublicKeyLength   = ed25519.PublicKeySize
	secp256k1PublicKeyLength = 33
	secp256k1SignatureLength = 64
)

var (
	ErrSigning            = errors.New("signing failed")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrMalformedKey       = errors.New("malformed key")
)

// Curve names the signature scheme of a key pair.
type Curve uint8

const (
	Ed25519 Curve = iota + 1
	ECDSASecp256k1
)

func (c Curve) String() string {
	switch c {
	case Ed25519:
		return "ed25519"
	case ECDSASecp256k1:
		return "ecdsa_secp256k1"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

// PrivateKey holds private key material for one of the supported curves.
type PrivateKey struct {
	curve Curve
	ed    ed25519.PrivateKey
	ec    *btcec.PrivateKey
}

// PublicKey is the public half of a key pair and a leaf of a composite key.
type PublicKey struct {
	curve Curve
	raw   []byte
}

// GeneratePrivateKey creates a fresh random key pair on the curve.
func GeneratePrivateKey(curve Curve) (PrivateKey, error) {
	switch curve {
	case Ed25519:
		_, private, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return PrivateKey{}, err
		}
		return PrivateKey{curve: Ed25519, ed: private}, nil
	case ECDSASecp256k1:
		private, err := btcec.NewPrivateKey()
		if err != nil {
			return PrivateKey{}, err
		}
		return PrivateKey{curve: ECDSASecp256k1, ec: private}, nil
	default:
		return PrivateKey{}, errors.Join(ErrUnsupportedKeyType, fmt.Errorf("got %s", curve))
	}
}

// PrivateKeyFromBytes restores a private key from its raw encoding,
// a 32 byte seed (or 64 byte expanded key) for ed25519 and a 32 byte scalar for secp256k1.
func PrivateKeyFromBytes(curve Curve, raw []byte) (PrivateKey, error) {
	switch curve {
	case Ed25519:
		switch len(raw) {
		case ed25519.SeedSize:
			return PrivateKey{curve: Ed25519, ed: ed25519.NewKeyFromSeed(raw)}, nil
		case ed25519.PrivateKeySize:
			return PrivateKey{curve: Ed25519, ed: ed25519.PrivateKey(bytes.Clone(raw))}, nil
		}
	case ECDSASecp256k1:
		if len(raw) == 32 {
			private, _ := btcec.PrivKeyFromBytes(raw)
			return PrivateKey{curve: ECDSASecp256k1, ec: private}, nil
		}
	default:
		return PrivateKey{}, errors.Join(ErrUnsupportedKeyType, fmt.Errorf("got %s", curve))
	}
	return PrivateKey{}, errors.Join(ErrMalformedKey, fmt.Errorf("%s private key of length %d", curve, len(raw)))
}

// ParsePrivateKey parses "<curve>:<hex>" as produced by PrivateKey.String.
func ParsePrivateKey(s string) (PrivateKey, error) {
	name, encoded, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return PrivateKey{}, errors.Join(ErrMalformedKey, errors.New("expected <curve>:<hex>"))
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return PrivateKey{}, errors.Join(ErrMalformedKey, err)
	}
	switch name {
	case Ed25519.String():
		return PrivateKeyFromBytes(Ed25519, raw)
	case ECDSASecp256k1.String():
		return PrivateKeyFromBytes(ECDSASecp256k1, raw)
	default:
		return PrivateKey{}, errors.Join(ErrUnsupportedKeyType, fmt.Errorf("got %q", name))
	}
}

// Curve returns the signature scheme of the key.
func (k PrivateKey) Curve() Curve { return k.curve }

// Bytes returns the raw private key, the seed for ed25519.
func (k PrivateKey) Bytes() []byte {
	switch k.curve {
	case Ed25519:
		return bytes.Clone(k.ed.Seed())
	case ECDSASecp256k1:
		return k.ec.Serialize()
	}
	return nil
}

// String encodes the key as "<curve>:<hex>".
func (k PrivateKey) String() string {
	return k.curve.String() + ":" + hex.EncodeToString(k.Bytes())
}

// PublicKey derives the public key.
func (k PrivateKey) PublicKey() PublicKey {
	switch k.curve {
	case Ed25519:
		return PublicKey{curve: Ed25519, raw: bytes.Clone(k.ed.Public().(ed25519.PublicKey))}
	case ECDSASecp256k1:
		return PublicKey{curve: ECDSASecp256k1, raw: k.ec.PubKey().SerializeCompressed()}
	}
	return PublicKey{}
}

// Sign signs the message.
// Ed25519 signs the message directly, secp256k1 signs its keccak256 digest and returns r || s.
func (k PrivateKey) Sign(message []byte) ([]byte, error) {
	switch k.curve {
	case Ed25519:
		if len(k.ed) != ed25519.PrivateKeySize {
			return nil, errors.Join(ErrSigning, ErrMalformedKey)
		}
		return ed25519.Sign(k.ed, message), nil
	case ECDSASecp256k1:
		if k.ec == nil {
			return nil, errors.Join(ErrSigning, ErrMalformedKey)
		}
		compact, err := ecdsa.SignCompact(k.ec, keccak256(message), true)
		if err != nil {
			return nil, errors.Join(ErrSigning, err)
		}
		return compact[1:], nil
	default:
		return nil, errors.Join(ErrSigning, ErrUnsupportedKeyType)
	}
}

// PublicKeyFromBytes restores a public key from its raw encoding.
func PublicKeyFromBytes(curve Curve, raw []byte) (PublicKey, error) {
	switch curve {
	case Ed25519:
		if len(raw) != ed25519PublicKeyLength {
			return PublicKey{}, errors.Join(ErrMalformedKey, fmt.Errorf("ed25519 public key of length %d", len(raw)))
		}
	case ECDSASecp256k1:
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return PublicKey{}, errors.Join(ErrMalformedKey, err)
		}
		raw = pub.SerializeCompressed()
	default:
		return PublicKey{}, errors.Join(ErrUnsupportedKeyType, fmt.Errorf("got %s", curve))
	}
	return PublicKey{curve: curve, raw: bytes.Clone(raw)}, nil
}

// ParsePublicKey parses a hex encoded public key, the curve is inferred from the length.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return PublicKey{}, errors.Join(ErrMalformedKey, err)
	}
	switch len(raw) {
	case ed25519PublicKeyLength:
		return PublicKeyFromBytes(Ed25519, raw)
	case secp256k1PublicKeyLength:
		return PublicKeyFromBytes(ECDSASecp256k1, raw)
	default:
		return PublicKey{}, errors.Join(ErrMalformedKey, fmt.Errorf("public key of length %d", len(raw)))
	}
}

// Curve returns the signature scheme of the key.
func (p PublicKey) Curve() Curve { return p.curve }

// Bytes returns the raw public key, compressed for secp256k1.
func (p PublicKey) Bytes() []byte { return bytes.Clone(p.raw) }

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool { return len(p.raw) == 0 }

// Equal compares keys by curve and raw bytes.
func (p PublicKey) Equal(o PublicKey) bool {
	return p.curve == o.curve && bytes.Equal(p.raw, o.raw)
}

// String returns the hex encoded raw key.
func (p PublicKey) String() string { return hex.EncodeToString(p.raw) }

// Base58 returns a short textual identity of the key used in logs and storage keys.
func (p PublicKey) Base58() string {
	return base58.Encode(append([]byte{byte(p.curve)}, p.raw...))
}

// Verify verifies the signature over the message.
func (p PublicKey) Verify(message, signature []byte) bool {
	switch p.curve {
	case Ed25519:
		if len(p.raw) != ed25519PublicKeyLength {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(p.raw), message, signature)
	case ECDSASecp256k1:
		if len(signature) != secp256k1SignatureLength {
			return false
		}
		pub, err := btcec.ParsePubKey(p.raw)
		if err != nil {
			return false
		}
		var r, s btcec.ModNScalar
		if overflow := r.SetByteSlice(signature[:32]); overflow {
			return false
		}
		if overflow := s.SetByteSlice(signature[32:]); overflow {
			return false
		}
		return ecdsa.NewSignature(&r, &s).Verify(keccak256(message), pub)
	}
	return false
}

func keccak256(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(message)
	return h.Sum(nil)
}
