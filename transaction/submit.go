package transaction

import (
	"crypto/sha512"

	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/status"
)

// Submitted is the node acknowledgement of one submitted chunk.
type Submitted struct {
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
	Hash          []byte
	Cost          uint64
}

// Submission is the request that submits chunk Index of the transaction to one of its nodes.
type Submission struct {
	tx    *Transaction
	Index int
}

// Submission returns the submission request of chunk i, zero based.
func (t *Transaction) Submission(i int) *Submission {
	return &Submission{tx: t, Index: i}
}

func (s *Submission) Nodes() []ids.AccountID { return s.tx.NodeAccountIDs() }

func (s *Submission) TransactionID() ids.TransactionID { return s.tx.chunks[s.Index].id }

func (s *Submission) Method() string { return s.tx.method }

// Encode returns the signed transaction for the node, with the signatures collected so far.
func (s *Submission) Encode(node ids.AccountID) ([]byte, error) {
	st, err := s.tx.signed(s.Index, node)
	if err != nil {
		return nil, err
	}
	return codec.EncodeTransaction(st)
}

func (s *Submission) Decode(node ids.AccountID, raw []byte) (Submitted, status.Code, error) {
	code, cost, err := codec.DecodeTransactionResponse(raw)
	if err != nil {
		return Submitted{}, 0, err
	}
	hash, err := s.Hash(node)
	if err != nil {
		return Submitted{}, 0, err
	}
	return Submitted{TransactionID: s.TransactionID(), NodeID: node, Hash: hash, Cost: cost}, code, nil
}

// Hash is the SHA-384 digest of the signed transaction bytes sent to the node.
func (s *Submission) Hash(node ids.AccountID) ([]byte, error) {
	st, err := s.tx.signed(s.Index, node)
	if err != nil {
		return nil, err
	}
	raw, err := codec.EncodeSignedTransaction(st)
	if err != nil {
		return nil, err
	}
	sum := sha512.Sum384(raw)
	return sum[:], nil
}
