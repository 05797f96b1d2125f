package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

var ErrUnknownQuery = errors.New("unknown query")

// QueryKind selects the query variant.
type QueryKind uint8

const (
	QueryBalance QueryKind = iota + 1
	QueryReceipt
	QueryRecord
)

var queryFields = map[QueryKind]protowire.Number{
	QueryBalance: 7,
	QueryReceipt: 14,
	QueryRecord:  15,
}

func (k QueryKind) String() string {
	switch k {
	case QueryBalance:
		return "balance"
	case QueryReceipt:
		return "receipt"
	case QueryRecord:
		return "record"
	default:
		return fmt.Sprintf("query(%d)", uint8(k))
	}
}

// ResponseType asks either for the answer or only for its cost.
type ResponseType uint8

const (
	AnswerOnly ResponseType = 0
	CostAnswer ResponseType = 2
)

// Query is a read request sent to a single node.
type Query struct {
	Kind          QueryKind
	Payment       []byte // encoded Transaction paying for the query, empty for free queries
	ResponseType  ResponseType
	TransactionID ids.TransactionID
	AccountID     ids.AccountID
}

// Response is a node answer to Query.
type Response struct {
	Kind         QueryKind
	Status       status.Code
	ResponseType ResponseType
	Cost         uint64
	Receipt      *receipt.Receipt
	Record       *receipt.Record
	Balance      *receipt.Balance
}

// EncodeQuery encodes the query message.
func EncodeQuery(q Query) ([]byte, error) {
	num, ok := queryFields[q.Kind]
	if !ok {
		return nil, errors.Join(ErrUnknownQuery, fmt.Errorf("%s", q.Kind))
	}
	var header []byte
	header = appendBytes(header, 1, q.Payment)
	header = appendVarint(header, 2, uint64(q.ResponseType))

	var m []byte
	m = appendMessage(m, 1, header)
	if q.Kind == QueryBalance {
		m = appendMessage(m, 2, encodeAccountID(q.AccountID))
	} else {
		m = appendMessage(m, 2, EncodeTransactionID(q.TransactionID))
	}
	return appendMessage(nil, num, m), nil
}

// DecodeQuery decodes the query message.
func DecodeQuery(b []byte) (Query, error) {
	var q Query
	err := walk(b, func(f field) error {
		kind, ok := kindOf(f.num)
		if !ok {
			return nil
		}
		q.Kind = kind
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		return walk(raw, func(f field) error {
			switch f.num {
			case 1:
				header, err := f.bytes()
				if err != nil {
					return err
				}
				return walk(header, func(f field) error {
					switch f.num {
					case 1:
						raw, err := f.bytes()
						q.Payment = raw
						return err
					case 2:
						v, err := f.varint()
						q.ResponseType = ResponseType(v)
						return err
					}
					return nil
				})
			case 2:
				raw, err := f.bytes()
				if err != nil {
					return err
				}
				if q.Kind == QueryBalance {
					q.AccountID, err = decodeAccountID(raw)
					return err
				}
				q.TransactionID, err = DecodeTransactionID(raw)
				return err
			}
			return nil
		})
	})
	if err == nil && q.Kind == 0 {
		err = ErrUnknownQuery
	}
	return q, err
}

// EncodeResponse encodes the response message.
func EncodeResponse(r Response) ([]byte, error) {
	num, ok := queryFields[r.Kind]
	if !ok {
		return nil, errors.Join(ErrUnknownQuery, fmt.Errorf("%s", r.Kind))
	}
	var header []byte
	header = appendInt64(header, 1, int64(r.Status))
	header = appendVarint(header, 2, uint64(r.ResponseType))
	header = appendVarint(header, 3, r.Cost)

	var m []byte
	m = appendMessage(m, 1, header)
	switch r.Kind {
	case QueryBalance:
		if r.Balance != nil {
			m = appendMessage(m, 2, encodeAccountID(r.Balance.AccountID))
			m = appendVarint(m, 3, r.Balance.Tinybars)
		}
	case QueryReceipt:
		if r.Receipt != nil {
			m = appendMessage(m, 2, EncodeReceipt(*r.Receipt))
		}
	case QueryRecord:
		if r.Record != nil {
			m = appendMessage(m, 3, EncodeRecord(*r.Record))
		}
	}
	return appendMessage(nil, num, m), nil
}

// DecodeResponse decodes the response message.
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	err := walk(b, func(f field) error {
		kind, ok := kindOf(f.num)
		if !ok {
			return nil
		}
		r.Kind = kind
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		return walk(raw, func(f field) error {
			if f.num == 1 {
				header, err := f.bytes()
				if err != nil {
					return err
				}
				return decodeResponseHeader(header, &r)
			}
			switch r.Kind {
			case QueryBalance:
				if r.Balance == nil {
					r.Balance = &receipt.Balance{}
				}
				switch f.num {
				case 2:
					raw, err := f.bytes()
					if err != nil {
						return err
					}
					r.Balance.AccountID, err = decodeAccountID(raw)
					return err
				case 3:
					v, err := f.varint()
					r.Balance.Tinybars = v
					return err
				}
			case QueryReceipt:
				if f.num == 2 {
					raw, err := f.bytes()
					if err != nil {
						return err
					}
					rc, err := DecodeReceipt(raw)
					r.Receipt = &rc
					return err
				}
			case QueryRecord:
				if f.num == 3 {
					raw, err := f.bytes()
					if err != nil {
						return err
					}
					rec, err := DecodeRecord(raw)
					r.Record = &rec
					return err
				}
			}
			return nil
		})
	})
	if err == nil && r.Kind == 0 {
		err = ErrUnknownQuery
	}
	return r, err
}

func decodeResponseHeader(b []byte, r *Response) error {
	return walk(b, func(f field) error {
		if f.num < 1 || f.num > 3 {
			return nil
		}
		v, err := f.varint()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			r.Status = status.Code(int32(v))
		case 2:
			r.ResponseType = ResponseType(v)
		case 3:
			r.Cost = v
		}
		return nil
	})
}

func kindOf(num protowire.Number) (QueryKind, bool) {
	for k, n := range queryFields {
		if n == num {
			return k, true
		}
	}
	return 0, false
}
