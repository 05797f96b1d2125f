package transaction

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
)

// ToBytes serializes every body with its signatures, chunk major and node minor.
func (t *Transaction) ToBytes() ([]byte, error) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	if t.executed {
		return nil, ErrExecuted
	}
	list := make([]codec.SignedTransaction, 0, t.CellCount())
	for _, c := range t.chunks {
		for _, cl := range c.cells {
			list = append(list, codec.SignedTransaction{BodyBytes: cl.body, SigMap: cl.sigs})
		}
	}
	return codec.EncodeTransactionList(list)
}

// FromBytes restores a frozen transaction. Body bytes are kept verbatim so serializing the
// result again reproduces the input.
func FromBytes(raw []byte) (*Transaction, error) {
	list, err := codec.DecodeTransactionList(raw)
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if len(list) == 0 {
		return nil, ErrUnfrozen
	}

	tx := &Transaction{waitReceipts: true}
	index := make(map[string]*chunk)
	for i, st := range list {
		h, data, err := codec.DecodeTransactionBody(st.BodyBytes)
		if err != nil {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("entry %d", i), err)
		}
		if i == 0 {
			tx.method = data.Method()
			tx.kind = data.Kind()
			tx.maxFee = h.TransactionFee
			tx.validDuration = h.ValidDuration
			tx.memo = h.Memo
			tx.base = h.TransactionID
		}
		if data.Kind() != tx.kind {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("entry %d holds %s, expected %s", i, data.Kind(), tx.kind))
		}
		c, ok := index[h.TransactionID.Key()]
		if !ok {
			c = &chunk{id: h.TransactionID, data: data}
			index[h.TransactionID.Key()] = c
			tx.chunks = append(tx.chunks, c)
		}
		if _, err := c.cell(h.NodeAccountID); err == nil {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("node [ %s ] appears twice for [ %s ]", h.NodeAccountID, h.TransactionID))
		}
		c.cells = append(c.cells, &cell{node: h.NodeAccountID, body: bytes.Clone(st.BodyBytes), sigs: st.SigMap})
	}

	for _, cl := range tx.chunks[0].cells {
		tx.nodes = append(tx.nodes, cl.node)
	}
	for i, c := range tx.chunks {
		if len(c.cells) != len(tx.nodes) {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("chunk %d is bound to %d nodes, expected %d", i, len(c.cells), len(tx.nodes)))
		}
		for j, cl := range c.cells {
			if cl.node != tx.nodes[j] {
				return nil, errors.Join(ErrMalformed, fmt.Errorf("chunk %d lists nodes in a different order", i))
			}
		}
		if !c.id.Equal(chunkTransactionID(tx.base, i)) {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("chunk %d has transaction id [ %s ]", i, c.id))
		}
	}
	return tx, nil
}

// Reassemble joins the chunk payloads of a chunkable transaction in chunk order.
func Reassemble(tx *Transaction) ([]byte, error) {
	var out []byte
	for i, c := range tx.chunks {
		cd, ok := c.data.(body.Chunkable)
		if !ok {
			return nil, errors.Join(ErrNotChunkable, fmt.Errorf("%s", c.data.Kind()))
		}
		if info := cd.Chunk(); info != nil && int(info.Number) != i+1 {
			return nil, errors.Join(ErrMalformed, fmt.Errorf("chunk %d carries number %d", i, info.Number))
		}
		out = append(out, cd.Payload()...)
	}
	return out, nil
}
