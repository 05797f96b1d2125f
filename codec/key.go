package codec

import (
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/keys"
)

// EncodeKey encodes a single or composite key.
func EncodeKey(k keys.Key) ([]byte, error) {
	return encodeKey(k, 1)
}

func encodeKey(k keys.Key, level int) ([]byte, error) {
	if level > keys.MaxKeyDepth {
		return nil, keys.ErrKeyDepthExceeded
	}
	switch v := k.(type) {
	case keys.PublicKey:
		switch v.Curve() {
		case keys.Ed25519:
			return appendBytes(nil, 2, v.Bytes()), nil
		case keys.ECDSASecp256k1:
			return appendBytes(nil, 7, v.Bytes()), nil
		default:
			return nil, keys.ErrUnsupportedKeyType
		}
	case *keys.KeyList:
		var list []byte
		for _, sub := range v.Keys {
			raw, err := encodeKey(sub, level+1)
			if err != nil {
				return nil, err
			}
			list = appendMessage(list, 1, raw)
		}
		if v.Threshold == 0 {
			return appendMessage(nil, 6, list), nil
		}
		var th []byte
		th = appendInt64(th, 1, int64(v.Threshold))
		th = appendMessage(th, 2, list)
		return appendMessage(nil, 5, th), nil
	default:
		return nil, errors.Join(keys.ErrUnsupportedKeyType, fmt.Errorf("%T", k))
	}
}

// DecodeKey decodes a key, nesting deeper than keys.MaxKeyDepth is rejected.
func DecodeKey(b []byte) (keys.Key, error) {
	return decodeKey(b, 1)
}

func decodeKey(b []byte, level int) (keys.Key, error) {
	if level > keys.MaxKeyDepth {
		return nil, keys.ErrKeyDepthExceeded
	}
	var out keys.Key
	err := walk(b, func(f field) error {
		switch f.num {
		case 2, 5, 6, 7:
		default:
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		switch f.num {
		case 2:
			out, err = keys.PublicKeyFromBytes(keys.Ed25519, raw)
		case 7:
			out, err = keys.PublicKeyFromBytes(keys.ECDSASecp256k1, raw)
		case 6:
			var list []keys.Key
			list, err = decodeKeyList(raw, level)
			out = &keys.KeyList{Keys: list}
		case 5:
			out, err = decodeThresholdKey(raw, level)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.Join(keys.ErrMalformedKey, errors.New("key is empty"))
	}
	return out, nil
}

func decodeKeyList(b []byte, level int) ([]keys.Key, error) {
	var list []keys.Key
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		k, err := decodeKey(raw, level+1)
		if err != nil {
			return err
		}
		list = append(list, k)
		return nil
	})
	return list, err
}

func decodeThresholdKey(b []byte, level int) (*keys.KeyList, error) {
	kl := &keys.KeyList{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			v, err := f.varint()
			kl.Threshold = int(v)
			return err
		case 2:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			kl.Keys, err = decodeKeyList(raw, level)
			return err
		}
		return nil
	})
	return kl, err
}
