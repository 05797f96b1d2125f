package keys

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

const (
	pemPrivateKey          = "PRIVATE KEY"
	pemSecp256k1PrivateKey = "SECP256K1 PRIVATE KEY"
)

// SaveToPem saves the private key to the PEM format file.
// Ed25519 keys are PKCS8 encoded, secp256k1 keys carry the raw scalar as x509 has no
// support for the curve.
func (k PrivateKey) SaveToPem(filepath string) error {
	var block *pem.Block
	switch k.curve {
	case Ed25519:
		prv, err := x509.MarshalPKCS8PrivateKey(k.ed)
		if err != nil {
			return err
		}
		block = &pem.Block{Type: pemPrivateKey, Bytes: prv}
	case ECDSASecp256k1:
		block = &pem.Block{Type: pemSecp256k1PrivateKey, Bytes: k.ec.Serialize()}
	default:
		return ErrUnsupportedKeyType
	}
	return os.WriteFile(filepath, pem.EncodeToMemory(block), 0600)
}

// ReadFromPem reads a private key saved with SaveToPem.
func ReadFromPem(filepath string) (PrivateKey, error) {
	raw, err := os.ReadFile(filepath)
	if err != nil {
		return PrivateKey{}, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return PrivateKey{}, errors.New("cannot decode private key from PEM format")
	}
	switch block.Type {
	case pemPrivateKey:
		prv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return PrivateKey{}, err
		}
		ed, ok := prv.(ed25519.PrivateKey)
		if !ok {
			return PrivateKey{}, errors.Join(ErrUnsupportedKeyType, errors.New("cannot cast x509 decoded parsed key to ed25519 private key"))
		}
		return PrivateKey{curve: Ed25519, ed: ed}, nil
	case pemSecp256k1PrivateKey:
		return PrivateKeyFromBytes(ECDSASecp256k1, block.Bytes)
	default:
		return PrivateKey{}, errors.Join(ErrUnsupportedKeyType, errors.New("unexpected PEM block "+block.Type))
	}
}
