// Package transaction builds, freezes, signs and serializes transactions.
//
// A Builder is mutable until Freeze. Freeze encodes one body per chunk and node exactly once;
// the resulting Transaction never changes its body bytes, only the signatures attached to
// them, and stops accepting signatures once executed.
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
)

const (
	DefaultChunkSize     = 1024
	DefaultMaxChunks     = 20
	DefaultValidDuration = 120 * time.Second
	MaxValidDuration     = 180 * time.Second
	MaxMemoLength        = 100
)

var (
	ErrConstruction  = errors.New("invalid transaction")
	ErrFrozen        = errors.New("transaction is frozen and cannot be modified")
	ErrFreeze        = errors.New("transaction cannot be frozen")
	ErrUnfrozen      = errors.New("transaction is not frozen")
	ErrSigning       = errors.New("transaction signing failed")
	ErrExecuted      = errors.New("transaction was executed")
	ErrTooManyChunks = errors.New("payload needs more chunks than allowed")
	ErrMalformed     = errors.New("malformed transaction bytes")
	ErrNotChunkable  = errors.New("transaction body is not chunkable")
)

// Environment supplies defaults a builder falls back to when freezing, usually the client.
type Environment interface {
	OperatorAccountID() ids.AccountID
	NodeAccountIDs() []ids.AccountID
	// DefaultMaxTransactionFee of zero means the body default applies.
	DefaultMaxTransactionFee() uint64
	// ChunkSize of zero means DefaultChunkSize applies.
	ChunkSize() int
}

// Builder collects transaction fields until Freeze.
type Builder struct {
	data          body.Data
	txID          ids.TransactionID
	nodes         []ids.AccountID
	maxFee        uint64
	validDuration time.Duration
	memo          string
	chunkSize     int
	maxChunks     int
	waitReceipts  bool
	err           error
	frozen        *Transaction
}

// New creates a builder for the body.
func New(data body.Data) *Builder {
	return &Builder{data: data, maxChunks: DefaultMaxChunks, waitReceipts: true}
}

// Data returns the body.
func (b *Builder) Data() body.Data { return b.data }

// Err returns the first error recorded by a setter.
func (b *Builder) Err() error { return b.err }

// IsFrozen reports whether Freeze succeeded.
func (b *Builder) IsFrozen() bool { return b.frozen != nil }

func (b *Builder) mutable() bool {
	if b.frozen != nil {
		if b.err == nil {
			b.err = errors.Join(ErrConstruction, ErrFrozen)
		}
		return false
	}
	return true
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = errors.Join(ErrConstruction, err)
	}
}

// SetTransactionID sets an explicit transaction id, the payer is its account.
func (b *Builder) SetTransactionID(id ids.TransactionID) *Builder {
	if b.mutable() {
		b.txID = id
	}
	return b
}

// SetNodeAccountIDs binds the transaction to these nodes.
func (b *Builder) SetNodeAccountIDs(nodes ...ids.AccountID) *Builder {
	if b.mutable() {
		b.nodes = append([]ids.AccountID(nil), nodes...)
	}
	return b
}

// SetMaxTransactionFee sets the fee ceiling in tinybars.
func (b *Builder) SetMaxTransactionFee(fee int64) *Builder {
	if !b.mutable() {
		return b
	}
	if fee < 0 {
		b.fail(fmt.Errorf("max transaction fee cannot be negative, got %d", fee))
		return b
	}
	b.maxFee = uint64(fee)
	return b
}

// SetValidDuration sets how long after valid start the transaction may reach consensus.
func (b *Builder) SetValidDuration(d time.Duration) *Builder {
	if !b.mutable() {
		return b
	}
	if d <= 0 || d > MaxValidDuration {
		b.fail(fmt.Errorf("valid duration must be in (0, %s], got %s", MaxValidDuration, d))
		return b
	}
	b.validDuration = d
	return b
}

// SetMemo sets the transaction memo.
func (b *Builder) SetMemo(memo string) *Builder {
	if !b.mutable() {
		return b
	}
	if len(memo) > MaxMemoLength {
		b.fail(fmt.Errorf("memo is %d bytes long, max is %d", len(memo), MaxMemoLength))
		return b
	}
	b.memo = memo
	return b
}

// SetChunkSize sets the payload size of a single chunk.
func (b *Builder) SetChunkSize(size int) *Builder {
	if !b.mutable() {
		return b
	}
	if size <= 0 {
		b.fail(fmt.Errorf("chunk size must be positive, got %d", size))
		return b
	}
	b.chunkSize = size
	return b
}

// SetMaxChunks bounds how many chunks the payload may be split into.
func (b *Builder) SetMaxChunks(n int) *Builder {
	if !b.mutable() {
		return b
	}
	if n <= 0 {
		b.fail(fmt.Errorf("max chunks must be positive, got %d", n))
		return b
	}
	b.maxChunks = n
	return b
}

// SetWaitForChunkReceipts decides whether each chunk's receipt is awaited before the next
// chunk is submitted. Enabled by default.
func (b *Builder) SetWaitForChunkReceipts(wait bool) *Builder {
	if b.mutable() {
		b.waitReceipts = wait
	}
	return b
}

// Regenerate returns an unfrozen copy of the builder with a new transaction id for the same
// payer, used to submit the same body again after the original was executed or expired.
func (b *Builder) Regenerate() *Builder {
	c := &Builder{
		data:          b.data,
		nodes:         append([]ids.AccountID(nil), b.nodes...),
		maxFee:        b.maxFee,
		validDuration: b.validDuration,
		memo:          b.memo,
		chunkSize:     b.chunkSize,
		maxChunks:     b.maxChunks,
		waitReceipts:  b.waitReceipts,
	}
	payer := b.txID.AccountID
	if b.frozen != nil {
		payer = b.frozen.base.AccountID
	}
	if !payer.IsZero() {
		c.txID = ids.NewTransactionID(payer)
	}
	return c
}

// Freeze validates the builder and encodes the body bytes for every chunk and node.
// Freezing again returns the same Transaction. The environment may be nil when both the
// transaction id and the node list were set explicitly.
func (b *Builder) Freeze(env Environment) (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.frozen != nil {
		return b.frozen, nil
	}
	if b.data == nil {
		return nil, errors.Join(ErrConstruction, errors.New("body is required"))
	}
	if err := b.data.Validate(); err != nil {
		return nil, errors.Join(ErrConstruction, err)
	}

	txID := b.txID
	if txID.IsZero() {
		if env == nil || env.OperatorAccountID().IsZero() {
			return nil, errors.Join(ErrFreeze, errors.New("transaction id or operator is required"))
		}
		txID = ids.NewTransactionID(env.OperatorAccountID())
	}
	if txID.AccountID.IsZero() {
		return nil, errors.Join(ErrFreeze, errors.New("transaction id has no payer"))
	}

	nodes := b.nodes
	if len(nodes) == 0 && env != nil {
		nodes = env.NodeAccountIDs()
	}
	if len(nodes) == 0 {
		return nil, errors.Join(ErrFreeze, errors.New("node account ids are required"))
	}
	if dup := duplicated(nodes); dup != nil {
		return nil, errors.Join(ErrFreeze, fmt.Errorf("node [ %s ] is listed twice", dup))
	}

	fee := b.maxFee
	if fee == 0 && env != nil {
		fee = env.DefaultMaxTransactionFee()
	}
	if fee == 0 {
		fee = uint64(b.data.DefaultMaxFee())
	}

	validDuration := b.validDuration
	if validDuration == 0 {
		validDuration = DefaultValidDuration
	}

	chunkSize := b.chunkSize
	if chunkSize == 0 && env != nil {
		chunkSize = env.ChunkSize()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	datas, err := split(b.data, txID, chunkSize, b.maxChunks)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		base:          txID,
		method:        b.data.Method(),
		kind:          b.data.Kind(),
		nodes:         append([]ids.AccountID(nil), nodes...),
		maxFee:        fee,
		validDuration: validDuration,
		memo:          b.memo,
		waitReceipts:  b.waitReceipts,
		chunks:        make([]*chunk, 0, len(datas)),
	}
	for i, data := range datas {
		id := chunkTransactionID(txID, i)
		c := &chunk{id: id, data: data, cells: make([]*cell, 0, len(nodes))}
		for _, node := range nodes {
			raw, err := codec.EncodeTransactionBody(body.Header{
				TransactionID:  id,
				NodeAccountID:  node,
				TransactionFee: fee,
				ValidDuration:  validDuration,
				Memo:           b.memo,
			}, data)
			if err != nil {
				return nil, errors.Join(ErrFreeze, err)
			}
			c.cells = append(c.cells, &cell{node: node, body: raw})
		}
		tx.chunks = append(tx.chunks, c)
	}

	b.txID = txID
	b.frozen = tx
	return tx, nil
}

// split returns one body per chunk. Bodies that are not chunkable or fit a single chunk are
// returned unchanged.
func split(data body.Data, base ids.TransactionID, size, max int) ([]body.Data, error) {
	c, ok := data.(body.Chunkable)
	if !ok {
		return []body.Data{data}, nil
	}
	payload := c.Payload()
	if len(payload) <= size {
		return []body.Data{data}, nil
	}
	total := (len(payload) + size - 1) / size
	if total > max {
		return nil, errors.Join(ErrConstruction, ErrTooManyChunks, fmt.Errorf("%d bytes need %d chunks of %d, max is %d", len(payload), total, size, max))
	}
	out := make([]body.Data, 0, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * size
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, c.WithChunk(payload[i*size:end], &body.ChunkInfo{
			InitialTransactionID: base,
			Total:                int32(total),
			Number:               int32(i + 1),
		}))
	}
	return out, nil
}

// chunkTransactionID is the base id for the first chunk and the base id with nonce i for
// chunk i+1.
func chunkTransactionID(base ids.TransactionID, i int) ids.TransactionID {
	if i == 0 {
		return base
	}
	return base.WithNonce(int32(i))
}

func duplicated(nodes []ids.AccountID) *ids.AccountID {
	seen := make(map[ids.AccountID]struct{}, len(nodes))
	for i := range nodes {
		if _, ok := seen[nodes[i]]; ok {
			return &nodes[i]
		}
		seen[nodes[i]] = struct{}{}
	}
	return nil
}
