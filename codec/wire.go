// Package codec maps domain values to and from the node wire format, a compact protobuf
// schema encoded with protowire. Fields are always written in ascending field number order
// and zero values are omitted, so encoding a decoded message reproduces the same bytes.
package codec

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bartossh/Ledgerlink/ids"
)

var (
	ErrMalformedMessage = errors.New("malformed wire message")
	ErrUnexpectedType   = errors.New("unexpected wire type")
	ErrUnknownBody      = errors.New("unknown transaction body")
)

type field struct {
	num   protowire.Number
	typ   protowire.Type
	raw   []byte
	value uint64
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, errors.Join(ErrUnexpectedType, fmt.Errorf("field %d expected bytes, got type %d", f.num, f.typ))
	}
	return f.raw, nil
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, errors.Join(ErrUnexpectedType, fmt.Errorf("field %d expected varint, got type %d", f.num, f.typ))
	}
	return f.value, nil
}

// walk calls fn for every field of the message, unknown fields are left to fn to ignore.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Join(ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Join(ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, uint64(v))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage writes an embedded message even when it is empty, presence matters.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeEntity(shard, realm, num int64) []byte {
	var b []byte
	b = appendInt64(b, 1, shard)
	b = appendInt64(b, 2, realm)
	b = appendInt64(b, 3, num)
	return b
}

func decodeEntity(b []byte) (shard, realm, num int64, err error) {
	err = walk(b, func(f field) error {
		if f.num < 1 || f.num > 3 {
			return nil
		}
		v, err := f.varint()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			shard = int64(v)
		case 2:
			realm = int64(v)
		case 3:
			num = int64(v)
		}
		return nil
	})
	return
}

func encodeAccountID(a ids.AccountID) []byte { return encodeEntity(a.Shard, a.Realm, a.Num) }

func decodeAccountID(b []byte) (ids.AccountID, error) {
	s, r, n, err := decodeEntity(b)
	return ids.AccountID{Shard: s, Realm: r, Num: n}, err
}

func decodeFileID(b []byte) (ids.FileID, error) {
	s, r, n, err := decodeEntity(b)
	return ids.FileID{Shard: s, Realm: r, Num: n}, err
}

func decodeTopicID(b []byte) (ids.TopicID, error) {
	s, r, n, err := decodeEntity(b)
	return ids.TopicID{Shard: s, Realm: r, Num: n}, err
}

func decodeScheduleID(b []byte) (ids.ScheduleID, error) {
	s, r, n, err := decodeEntity(b)
	return ids.ScheduleID{Shard: s, Realm: r, Num: n}, err
}

func encodeTimestamp(t time.Time) []byte {
	var b []byte
	b = appendInt64(b, 1, t.Unix())
	b = appendInt64(b, 2, int64(t.Nanosecond()))
	return b
}

func decodeTimestamp(b []byte) (time.Time, error) {
	var secs, nanos int64
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
			secs = int64(v)
		case 2:
			nanos = int64(v)
		}
		return nil
	})
	return time.Unix(secs, nanos).UTC(), err
}

func encodeDuration(d time.Duration) []byte {
	return appendInt64(nil, 1, int64(d/time.Second))
}

func decodeDuration(b []byte) (time.Duration, error) {
	var secs int64
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		v, err := f.varint()
		secs = int64(v)
		return err
	})
	return time.Duration(secs) * time.Second, err
}

// EncodeTransactionID encodes the transaction id message.
func EncodeTransactionID(id ids.TransactionID) []byte {
	var b []byte
	b = appendMessage(b, 1, encodeTimestamp(id.ValidStart))
	b = appendMessage(b, 2, encodeAccountID(id.AccountID))
	b = appendBool(b, 3, id.Scheduled)
	b = appendInt64(b, 4, int64(id.Nonce))
	return b
}

// DecodeTransactionID decodes the transaction id message.
func DecodeTransactionID(b []byte) (ids.TransactionID, error) {
	var id ids.TransactionID
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			id.ValidStart, err = decodeTimestamp(raw)
			return err
		case 2:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			id.AccountID, err = decodeAccountID(raw)
			return err
		case 3:
			v, err := f.varint()
			id.Scheduled = v != 0
			return err
		case 4:
			v, err := f.varint()
			id.Nonce = int32(v)
			return err
		}
		return nil
	})
	return id, err
}
