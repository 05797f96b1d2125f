package codec

import (
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/status"
)

// SigPair is one public key and its signature over the body bytes.
type SigPair struct {
	PublicKey keys.PublicKey
	Signature []byte
}

// SignedTransaction is body bytes with the signatures collected for them.
type SignedTransaction struct {
	BodyBytes []byte
	SigMap    []SigPair
}

// EncodeSigMap encodes signature pairs in the given order.
func EncodeSigMap(pairs []SigPair) ([]byte, error) {
	var b []byte
	for _, p := range pairs {
		var sp []byte
		sp = appendBytes(sp, 1, p.PublicKey.Bytes())
		switch p.PublicKey.Curve() {
		case keys.Ed25519:
			sp = appendBytes(sp, 3, p.Signature)
		case keys.ECDSASecp256k1:
			sp = appendBytes(sp, 6, p.Signature)
		default:
			return nil, keys.ErrUnsupportedKeyType
		}
		b = appendMessage(b, 1, sp)
	}
	return b, nil
}

// DecodeSigMap decodes signature pairs, the prefix must be the full public key.
func DecodeSigMap(b []byte) ([]SigPair, error) {
	var out []SigPair
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		var prefix, sig []byte
		curve := keys.Curve(0)
		err = walk(raw, func(f field) error {
			if f.num != 1 && f.num != 3 && f.num != 6 {
				return nil
			}
			v, err := f.bytes()
			if err != nil {
				return err
			}
			switch f.num {
			case 1:
				prefix = v
			case 3:
				curve, sig = keys.Ed25519, v
			case 6:
				curve, sig = keys.ECDSASecp256k1, v
			}
			return nil
		})
		if err != nil {
			return err
		}
		pub, err := keys.PublicKeyFromBytes(curve, prefix)
		if err != nil {
			return errors.Join(ErrMalformedMessage, err)
		}
		out = append(out, SigPair{PublicKey: pub, Signature: sig})
		return nil
	})
	return out, err
}

// EncodeSignedTransaction encodes body bytes and signature map.
func EncodeSignedTransaction(st SignedTransaction) ([]byte, error) {
	sigs, err := EncodeSigMap(st.SigMap)
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendBytes(b, 1, st.BodyBytes)
	b = appendMessage(b, 2, sigs)
	return b, nil
}

// DecodeSignedTransaction decodes a signed transaction keeping body bytes verbatim.
func DecodeSignedTransaction(b []byte) (SignedTransaction, error) {
	var st SignedTransaction
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			st.BodyBytes = raw
			return err
		case 2:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			st.SigMap, err = DecodeSigMap(raw)
			return err
		}
		return nil
	})
	if err == nil && len(st.BodyBytes) == 0 {
		err = errors.Join(ErrMalformedMessage, errors.New("signed transaction has no body"))
	}
	return st, err
}

// EncodeTransaction wraps a signed transaction in the submission envelope.
func EncodeTransaction(st SignedTransaction) ([]byte, error) {
	signed, err := EncodeSignedTransaction(st)
	if err != nil {
		return nil, err
	}
	return appendBytes(nil, 5, signed), nil
}

// DecodeTransaction unwraps the submission envelope.
func DecodeTransaction(b []byte) (SignedTransaction, error) {
	var signed []byte
	err := walk(b, func(f field) error {
		if f.num != 5 {
			return nil
		}
		raw, err := f.bytes()
		signed = raw
		return err
	})
	if err != nil {
		return SignedTransaction{}, err
	}
	if signed == nil {
		return SignedTransaction{}, errors.Join(ErrMalformedMessage, errors.New("transaction envelope is empty"))
	}
	return DecodeSignedTransaction(signed)
}

// EncodeTransactionList encodes every cell of a frozen transaction.
func EncodeTransactionList(list []SignedTransaction) ([]byte, error) {
	var b []byte
	for i, st := range list {
		raw, err := EncodeTransaction(st)
		if err != nil {
			return nil, errors.Join(err, fmt.Errorf("entry %d", i))
		}
		b = appendMessage(b, 1, raw)
	}
	return b, nil
}

// DecodeTransactionList decodes the entries of a transaction list in order.
func DecodeTransactionList(b []byte) ([]SignedTransaction, error) {
	var out []SignedTransaction
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		st, err := DecodeTransaction(raw)
		if err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

// EncodeTransactionResponse encodes the node answer to a submission.
func EncodeTransactionResponse(code status.Code, cost uint64) []byte {
	var b []byte
	b = appendInt64(b, 1, int64(code))
	b = appendVarint(b, 2, cost)
	return b
}

// DecodeTransactionResponse decodes the node answer to a submission.
func DecodeTransactionResponse(b []byte) (status.Code, uint64, error) {
	var code status.Code
	var cost uint64
	err := walk(b, func(f field) error {
		if f.num != 1 && f.num != 2 {
			return nil
		}
		v, err := f.varint()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			code = status.Code(int32(v))
		case 2:
			cost = v
		}
		return nil
	})
	return code, cost, err
}
