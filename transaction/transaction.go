package transaction

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
)

// SignaturePair is a public key and its signature over one body.
type SignaturePair = codec.SigPair

// SignatureMap is the ordered list of signatures attached to one body, one per public key.
type SignatureMap []SignaturePair

// Has reports whether the public key already signed.
func (m SignatureMap) Has(pub keys.PublicKey) bool {
	for _, p := range m {
		if p.PublicKey.Equal(pub) {
			return true
		}
	}
	return false
}

type cell struct {
	node ids.AccountID
	body []byte
	sigs SignatureMap
}

type chunk struct {
	id    ids.TransactionID
	data  body.Data
	cells []*cell
}

// Transaction is a frozen transaction: a grid of body bytes, one per chunk and node, each with
// its own signature map. It is safe for concurrent use.
type Transaction struct {
	mux           sync.RWMutex
	base          ids.TransactionID
	method        string
	kind          body.Kind
	nodes         []ids.AccountID
	maxFee        uint64
	validDuration time.Duration
	memo          string
	waitReceipts  bool
	chunks        []*chunk
	executed      bool
}

// TransactionID returns the id of the first chunk, the id of the whole transaction.
func (t *Transaction) TransactionID() ids.TransactionID { return t.base }

// Payer is the account paying for the transaction.
func (t *Transaction) Payer() ids.AccountID { return t.base.AccountID }

// Kind returns the body kind.
func (t *Transaction) Kind() body.Kind { return t.kind }

// Method returns the node route of the body.
func (t *Transaction) Method() string { return t.method }

// NodeAccountIDs returns the nodes the transaction is bound to, in order.
func (t *Transaction) NodeAccountIDs() []ids.AccountID {
	return append([]ids.AccountID(nil), t.nodes...)
}

func (t *Transaction) MaxTransactionFee() uint64 { return t.maxFee }

func (t *Transaction) ValidDuration() time.Duration { return t.validDuration }

func (t *Transaction) Memo() string { return t.memo }

// WaitForChunkReceipts reports whether chunk submission waits for each chunk's receipt.
func (t *Transaction) WaitForChunkReceipts() bool { return t.waitReceipts }

// ChunkCount returns the number of chunks, 1 for bodies that were not split.
func (t *Transaction) ChunkCount() int { return len(t.chunks) }

// ChunkTransactionID returns the transaction id of chunk i, zero based.
func (t *Transaction) ChunkTransactionID(i int) ids.TransactionID { return t.chunks[i].id }

// Data returns the body of the first chunk.
func (t *Transaction) Data() body.Data { return t.chunks[0].data }

// ChunkData returns the body of chunk i, zero based.
func (t *Transaction) ChunkData(i int) body.Data { return t.chunks[i].data }

// BodyBytes returns the frozen body of chunk i for the node.
func (t *Transaction) BodyBytes(i int, node ids.AccountID) ([]byte, error) {
	if i < 0 || i >= len(t.chunks) {
		return nil, fmt.Errorf("chunk %d out of %d", i, len(t.chunks))
	}
	c, err := t.chunks[i].cell(node)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(c.body), nil
}

func (c *chunk) cell(node ids.AccountID) (*cell, error) {
	for _, cl := range c.cells {
		if cl.node == node {
			return cl, nil
		}
	}
	return nil, fmt.Errorf("transaction is not bound to node [ %s ]", node)
}

// IsExecuted reports whether the transaction was submitted.
func (t *Transaction) IsExecuted() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return t.executed
}

// MarkExecuted freezes the signatures, further signing and serialization fail with ErrExecuted.
func (t *Transaction) MarkExecuted() {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.executed = true
}

// Sign signs every body with the private key.
func (t *Transaction) Sign(key keys.PrivateKey) error {
	return t.SignWith(key.PublicKey(), key.Sign)
}

// SignWith signs every body with an external signer, for example a hardware wallet.
// Bodies already signed by pub are skipped, so signing twice with one key changes nothing.
// Either every missing signature is added or none is.
func (t *Transaction) SignWith(pub keys.PublicKey, signer func(message []byte) ([]byte, error)) error {
	if pub.IsZero() {
		return errors.Join(ErrSigning, keys.ErrMalformedKey)
	}
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.executed {
		return ErrExecuted
	}

	pending := make(map[*cell][]byte)
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			if cl.sigs.Has(pub) {
				continue
			}
			sig, err := signer(cl.body)
			if err != nil {
				return errors.Join(ErrSigning, err)
			}
			pending[cl] = sig
		}
	}
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			if sig, ok := pending[cl]; ok {
				cl.sigs = append(cl.sigs, SignaturePair{PublicKey: pub, Signature: sig})
			}
		}
	}
	return nil
}

// CellCount is the number of bodies, chunks times nodes.
func (t *Transaction) CellCount() int { return len(t.chunks) * len(t.nodes) }

// Bodies returns every body in signing order, chunk major and node minor, for offline signers.
func (t *Transaction) Bodies() [][]byte {
	out := make([][]byte, 0, t.CellCount())
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			out = append(out, bytes.Clone(cl.body))
		}
	}
	return out
}

// AddSignature attaches signatures produced offline by pub, one per body in the order of
// Bodies. Every signature is verified before any is attached.
func (t *Transaction) AddSignature(pub keys.PublicKey, sigs [][]byte) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.executed {
		return ErrExecuted
	}
	if len(sigs) != t.CellCount() {
		return errors.Join(ErrSigning, fmt.Errorf("got %d signatures for %d bodies", len(sigs), t.CellCount()))
	}

	var i int
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			if !pub.Verify(cl.body, sigs[i]) {
				return errors.Join(ErrSigning, fmt.Errorf("signature %d by [ %s ] does not verify", i, pub))
			}
			i++
		}
	}
	i = 0
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			if !cl.sigs.Has(pub) {
				cl.sigs = append(cl.sigs, SignaturePair{PublicKey: pub, Signature: bytes.Clone(sigs[i])})
			}
			i++
		}
	}
	return nil
}

// Signatures returns the signature maps of chunk i by node.
func (t *Transaction) Signatures(i int) map[ids.AccountID]SignatureMap {
	t.mux.RLock()
	defer t.mux.RUnlock()
	out := make(map[ids.AccountID]SignatureMap, len(t.nodes))
	for _, cl := range t.chunks[i].cells {
		out[cl.node] = append(SignatureMap(nil), cl.sigs...)
	}
	return out
}

// IsFullySigned reports whether the verified signatures of every body satisfy the key.
// It is a local check, nodes evaluate signatures independently.
func (t *Transaction) IsFullySigned(key keys.Key) bool {
	if key == nil {
		return false
	}
	t.mux.RLock()
	defer t.mux.RUnlock()
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			if !key.IsSatisfied(verifiedSigners(cl)) {
				return false
			}
		}
	}
	return true
}

func verifiedSigners(cl *cell) func(keys.PublicKey) bool {
	return func(pub keys.PublicKey) bool {
		for _, p := range cl.sigs {
			if p.PublicKey.Equal(pub) {
				return pub.Verify(cl.body, p.Signature)
			}
		}
		return false
	}
}

func (t *Transaction) signed(i int, node ids.AccountID) (codec.SignedTransaction, error) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	cl, err := t.chunks[i].cell(node)
	if err != nil {
		return codec.SignedTransaction{}, err
	}
	return codec.SignedTransaction{BodyBytes: cl.body, SigMap: append([]SignaturePair(nil), cl.sigs...)}, nil
}
