package codec

import (
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

// EncodeReceipt encodes a transaction receipt.
func EncodeReceipt(r receipt.Receipt) []byte {
	var b []byte
	b = appendInt64(b, 1, int64(r.Status))
	if r.AccountID != nil {
		b = appendMessage(b, 2, encodeAccountID(*r.AccountID))
	}
	if r.FileID != nil {
		b = appendMessage(b, 3, encodeEntity(r.FileID.Shard, r.FileID.Realm, r.FileID.Num))
	}
	if r.TopicID != nil {
		b = appendMessage(b, 6, encodeEntity(r.TopicID.Shard, r.TopicID.Realm, r.TopicID.Num))
	}
	b = appendVarint(b, 7, r.TopicSequenceNumber)
	if r.ScheduleID != nil {
		b = appendMessage(b, 9, encodeEntity(r.ScheduleID.Shard, r.ScheduleID.Realm, r.ScheduleID.Num))
	}
	if r.ScheduledTransactionID != nil {
		b = appendMessage(b, 10, EncodeTransactionID(*r.ScheduledTransactionID))
	}
	return b
}

// DecodeReceipt decodes a transaction receipt.
func DecodeReceipt(b []byte) (receipt.Receipt, error) {
	var r receipt.Receipt
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			v, err := f.varint()
			r.Status = status.Code(int32(v))
			return err
		case 7:
			v, err := f.varint()
			r.TopicSequenceNumber = v
			return err
		case 2, 3, 6, 9, 10:
		default:
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		switch f.num {
		case 2:
			id, err := decodeAccountID(raw)
			r.AccountID = &id
			return err
		case 3:
			id, err := decodeFileID(raw)
			r.FileID = &id
			return err
		case 6:
			id, err := decodeTopicID(raw)
			r.TopicID = &id
			return err
		case 9:
			id, err := decodeScheduleID(raw)
			r.ScheduleID = &id
			return err
		case 10:
			id, err := DecodeTransactionID(raw)
			r.ScheduledTransactionID = &id
			return err
		}
		return nil
	})
	return r, err
}

// EncodeRecord encodes a transaction record.
func EncodeRecord(r receipt.Record) []byte {
	var b []byte
	b = appendMessage(b, 1, EncodeReceipt(r.Receipt))
	b = appendBytes(b, 2, r.TransactionHash)
	if !r.ConsensusTimestamp.IsZero() {
		b = appendMessage(b, 3, encodeTimestamp(r.ConsensusTimestamp))
	}
	b = appendMessage(b, 4, EncodeTransactionID(r.TransactionID))
	b = appendString(b, 5, r.Memo)
	b = appendVarint(b, 6, r.TransactionFee)
	if len(r.Transfers) > 0 {
		b = appendMessage(b, 10, encodeTransfers(r.Transfers))
	}
	if r.ScheduleRef != nil {
		b = appendMessage(b, 14, encodeEntity(r.ScheduleRef.Shard, r.ScheduleRef.Realm, r.ScheduleRef.Num))
	}
	return b
}

// DecodeRecord decodes a transaction record.
func DecodeRecord(b []byte) (receipt.Record, error) {
	var r receipt.Record
	err := walk(b, func(f field) error {
		if f.num == 6 {
			v, err := f.varint()
			r.TransactionFee = v
			return err
		}
		switch f.num {
		case 1, 2, 3, 4, 5, 10, 14:
		default:
			return nil
		}
		raw, err := f.bytes()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			r.Receipt, err = DecodeReceipt(raw)
		case 2:
			r.TransactionHash = raw
		case 3:
			r.ConsensusTimestamp, err = decodeTimestamp(raw)
		case 4:
			r.TransactionID, err = DecodeTransactionID(raw)
		case 5:
			r.Memo = string(raw)
		case 10:
			r.Transfers, err = decodeTransfers(raw)
		case 14:
			var id ids.ScheduleID
			id, err = decodeScheduleID(raw)
			r.ScheduleRef = &id
		}
		return err
	})
	return r, err
}
