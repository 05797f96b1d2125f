package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/ids"
)

const (
	fieldAccountCreate  protowire.Number = 11
	fieldCryptoTransfer protowire.Number = 14
	fieldFileAppend     protowire.Number = 16
	fieldScheduleCreate protowire.Number = 42
	fieldScheduleDelete protowire.Number = 43
	fieldScheduleSign   protowire.Number = 44
	fieldTopicSubmit    protowire.Number = 49
)

// EncodeTransactionBody encodes the header and data of one transaction body.
func EncodeTransactionBody(h body.Header, d body.Data) ([]byte, error) {
	var b []byte
	b = appendMessage(b, 1, EncodeTransactionID(h.TransactionID))
	b = appendMessage(b, 2, encodeAccountID(h.NodeAccountID))
	b = appendVarint(b, 3, h.TransactionFee)
	b = appendMessage(b, 4, encodeDuration(h.ValidDuration))
	b = appendString(b, 6, h.Memo)
	return appendData(b, d)
}

// DecodeTransactionBody decodes a body encoded with EncodeTransactionBody.
func DecodeTransactionBody(b []byte) (body.Header, body.Data, error) {
	var h body.Header
	var d body.Data
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			h.TransactionID, err = DecodeTransactionID(raw)
			return err
		case 2:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			h.NodeAccountID, err = decodeAccountID(raw)
			return err
		case 3:
			v, err := f.varint()
			h.TransactionFee = v
			return err
		case 4:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			h.ValidDuration, err = decodeDuration(raw)
			return err
		case 6:
			raw, err := f.bytes()
			h.Memo = string(raw)
			return err
		default:
			data, ok, err := decodeData(f)
			if ok {
				d = data
			}
			return err
		}
	})
	if err != nil {
		return h, nil, err
	}
	if d == nil {
		return h, nil, ErrUnknownBody
	}
	return h, d, nil
}

// EncodeSchedulableBody encodes the inner body of a schedule.
func EncodeSchedulableBody(s body.SchedulableBody) ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, s.TransactionFee)
	b = appendString(b, 2, s.Memo)
	return appendData(b, s.Data)
}

// DecodeSchedulableBody decodes the inner body of a schedule.
func DecodeSchedulableBody(b []byte) (body.SchedulableBody, error) {
	var s body.SchedulableBody
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			v, err := f.varint()
			s.TransactionFee = v
			return err
		case 2:
			raw, err := f.bytes()
			s.Memo = string(raw)
			return err
		default:
			data, ok, err := decodeData(f)
			if err != nil || !ok {
				return err
			}
			sd, ok := data.(body.Schedulable)
			if !ok {
				return errors.Join(ErrUnknownBody, fmt.Errorf("%s is not schedulable", data.Kind()))
			}
			s.Data = sd
			return nil
		}
	})
	if err == nil && s.Data == nil {
		err = ErrUnknownBody
	}
	return s, err
}

func appendData(b []byte, d body.Data) ([]byte, error) {
	switch v := d.(type) {
	case *body.AccountCreate:
		key, err := EncodeKey(v.Key)
		if err != nil {
			return nil, err
		}
		var m []byte
		m = appendMessage(m, 1, key)
		m = appendInt64(m, 2, v.InitialBalance)
		if v.AutoRenewPeriod > 0 {
			m = appendMessage(m, 8, encodeDuration(v.AutoRenewPeriod))
		}
		m = appendString(m, 16, v.AccountMemo)
		return appendMessage(b, fieldAccountCreate, m), nil
	case *body.CryptoTransfer:
		return appendMessage(b, fieldCryptoTransfer, appendMessage(nil, 1, encodeTransfers(v.Transfers))), nil
	case *body.FileAppend:
		var m []byte
		m = appendMessage(m, 2, encodeEntity(v.FileID.Shard, v.FileID.Realm, v.FileID.Num))
		m = appendBytes(m, 4, v.Contents)
		if v.ChunkInfo != nil {
			m = appendMessage(m, 5, encodeChunkInfo(*v.ChunkInfo))
		}
		return appendMessage(b, fieldFileAppend, m), nil
	case *body.ScheduleCreate:
		inner, err := EncodeSchedulableBody(v.Scheduled)
		if err != nil {
			return nil, err
		}
		var m []byte
		m = appendMessage(m, 1, inner)
		m = appendString(m, 2, v.ScheduleMemo)
		if v.AdminKey != nil {
			key, err := EncodeKey(v.AdminKey)
			if err != nil {
				return nil, err
			}
			m = appendMessage(m, 3, key)
		}
		if v.PayerAccountID != nil {
			m = appendMessage(m, 4, encodeAccountID(*v.PayerAccountID))
		}
		if !v.ExpirationTime.IsZero() {
			m = appendMessage(m, 5, encodeTimestamp(v.ExpirationTime))
		}
		m = appendBool(m, 13, v.WaitForExpiry)
		return appendMessage(b, fieldScheduleCreate, m), nil
	case *body.ScheduleDelete:
		id := encodeEntity(v.ScheduleID.Shard, v.ScheduleID.Realm, v.ScheduleID.Num)
		return appendMessage(b, fieldScheduleDelete, appendMessage(nil, 1, id)), nil
	case *body.ScheduleSign:
		id := encodeEntity(v.ScheduleID.Shard, v.ScheduleID.Realm, v.ScheduleID.Num)
		return appendMessage(b, fieldScheduleSign, appendMessage(nil, 1, id)), nil
	case *body.TopicMessageSubmit:
		var m []byte
		m = appendMessage(m, 1, encodeEntity(v.TopicID.Shard, v.TopicID.Realm, v.TopicID.Num))
		m = appendBytes(m, 2, v.Message)
		if v.ChunkInfo != nil {
			m = appendMessage(m, 3, encodeChunkInfo(*v.ChunkInfo))
		}
		return appendMessage(b, fieldTopicSubmit, m), nil
	case nil:
		return nil, ErrUnknownBody
	default:
		return nil, errors.Join(ErrUnknownBody, fmt.Errorf("%T", d))
	}
}

// decodeData reports ok false for fields that are not a body variant.
func decodeData(f field) (body.Data, bool, error) {
	switch f.num {
	case fieldAccountCreate, fieldCryptoTransfer, fieldFileAppend,
		fieldScheduleCreate, fieldScheduleDelete, fieldScheduleSign, fieldTopicSubmit:
	default:
		return nil, false, nil
	}
	raw, err := f.bytes()
	if err != nil {
		return nil, true, err
	}
	switch f.num {
	case fieldAccountCreate:
		d, err := decodeAccountCreate(raw)
		return d, true, err
	case fieldCryptoTransfer:
		d := &body.CryptoTransfer{}
		err := walk(raw, func(f field) error {
			if f.num != 1 {
				return nil
			}
			list, err := f.bytes()
			if err != nil {
				return err
			}
			d.Transfers, err = decodeTransfers(list)
			return err
		})
		return d, true, err
	case fieldFileAppend:
		d := &body.FileAppend{}
		err := walk(raw, func(f field) error {
			switch f.num {
			case 2:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				d.FileID, err = decodeFileID(raw)
				return err
			case 4:
				raw, err := f.bytes()
				d.Contents = raw
				return err
			case 5:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				info, err := decodeChunkInfo(raw)
				d.ChunkInfo = &info
				return err
			}
			return nil
		})
		return d, true, err
	case fieldScheduleCreate:
		d, err := decodeScheduleCreate(raw)
		return d, true, err
	case fieldScheduleDelete:
		id, err := decodeScheduleRef(raw)
		return &body.ScheduleDelete{ScheduleID: id}, true, err
	case fieldScheduleSign:
		id, err := decodeScheduleRef(raw)
		return &body.ScheduleSign{ScheduleID: id}, true, err
	default:
		d := &body.TopicMessageSubmit{}
		err := walk(raw, func(f field) error {
			switch f.num {
			case 1:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				d.TopicID, err = decodeTopicID(raw)
				return err
			case 2:
				raw, err := f.bytes()
				d.Message = raw
				return err
			case 3:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				info, err := decodeChunkInfo(raw)
				d.ChunkInfo = &info
				return err
			}
			return nil
		})
		return d, true, err
	}
}

func decodeAccountCreate(b []byte) (*body.AccountCreate, error) {
	d := &body.AccountCreate{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			d.Key, err = DecodeKey(raw)
			return err
		case 2:
			v, err := f.varint()
			d.InitialBalance = int64(v)
			return err
		case 8:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			d.AutoRenewPeriod, err = decodeDuration(raw)
			return err
		case 16:
			raw, err := f.bytes()
			d.AccountMemo = string(raw)
			return err
		}
		return nil
	})
	return d, err
}

func decodeScheduleCreate(b []byte) (*body.ScheduleCreate, error) {
	d := &body.ScheduleCreate{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			d.Scheduled, err = DecodeSchedulableBody(raw)
			return err
		case 2:
			raw, err := f.bytes()
			d.ScheduleMemo = string(raw)
			return err
		case 3:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			d.AdminKey, err = DecodeKey(raw)
			return err
		case 4:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			payer, err := decodeAccountID(raw)
			d.PayerAccountID = &payer
			return err
		case 5:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			d.ExpirationTime, err = decodeTimestamp(raw)
			return err
		case 13:
			v, err := f.varint()
			d.WaitForExpiry = v != 0
			return err
		}
		return nil
	})
	return d, err
}

func decodeScheduleRef(b []byte) (ids.ScheduleID, error) {
	var id ids.ScheduleID
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		id, err = decodeScheduleID(raw)
		return err
	})
	return id, err
}

func encodeTransfers(transfers []body.AccountAmount) []byte {
	var list []byte
	for _, t := range transfers {
		var aa []byte
		aa = appendMessage(aa, 1, encodeAccountID(t.AccountID))
		aa = appendSint64(aa, 2, t.Amount)
		list = appendMessage(list, 1, aa)
	}
	return list
}

func decodeTransfers(b []byte) ([]body.AccountAmount, error) {
	var out []body.AccountAmount
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		var aa body.AccountAmount
		err = walk(raw, func(f field) error {
			switch f.num {
			case 1:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				aa.AccountID, err = decodeAccountID(raw)
				return err
			case 2:
				v, err := f.varint()
				aa.Amount = protowire.DecodeZigZag(v)
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, aa)
		return nil
	})
	return out, err
}

func encodeChunkInfo(c body.ChunkInfo) []byte {
	var b []byte
	b = appendMessage(b, 1, EncodeTransactionID(c.InitialTransactionID))
	b = appendInt64(b, 2, int64(c.Total))
	b = appendInt64(b, 3, int64(c.Number))
	return b
}

func decodeChunkInfo(b []byte) (body.ChunkInfo, error) {
	var c body.ChunkInfo
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			c.InitialTransactionID, err = DecodeTransactionID(raw)
			return err
		case 2:
			v, err := f.varint()
			c.Total = int32(v)
			return err
		case 3:
			v, err := f.varint()
			c.Number = int32(v)
			return err
		}
		return nil
	})
	return c, err
}
