package transaction

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/status"
)

type testEnv struct {
	operator  ids.AccountID
	nodes     []ids.AccountID
	fee       uint64
	chunkSize int
}

func (e testEnv) OperatorAccountID() ids.AccountID { return e.operator }
func (e testEnv) NodeAccountIDs() []ids.AccountID  { return e.nodes }
func (e testEnv) DefaultMaxTransactionFee() uint64 { return e.fee }
func (e testEnv) ChunkSize() int                   { return e.chunkSize }

func newEnv() testEnv {
	return testEnv{operator: ids.Account(1001), nodes: []ids.AccountID{ids.Account(3), ids.Account(4)}}
}

func mustKey(t *testing.T, curve keys.Curve) keys.PrivateKey {
	k, err := keys.GeneratePrivateKey(curve)
	assert.Nil(t, err)
	return k
}

func transfer() *body.CryptoTransfer {
	return body.NewTransfer(ids.Account(1001), ids.Account(1002), 10)
}

func TestFreezeIsIdempotent(t *testing.T) {
	b := New(transfer()).SetMemo("rent")
	tx, err := b.Freeze(newEnv())
	assert.Nil(t, err)
	assert.True(t, b.IsFrozen())

	again, err := b.Freeze(newEnv())
	assert.Nil(t, err)
	assert.Same(t, tx, again)

	assert.Equal(t, ids.Account(1001), tx.Payer())
	assert.Equal(t, []ids.AccountID{ids.Account(3), ids.Account(4)}, tx.NodeAccountIDs())
	assert.Equal(t, uint64(body.Hbar), tx.MaxTransactionFee())
	assert.Equal(t, DefaultValidDuration, tx.ValidDuration())
	assert.Equal(t, 1, tx.ChunkCount())
	assert.Equal(t, 2, tx.CellCount())
}

func TestSetterAfterFreezeFails(t *testing.T) {
	b := New(transfer())
	tx, err := b.Freeze(newEnv())
	assert.Nil(t, err)
	before, err := tx.BodyBytes(0, ids.Account(3))
	assert.Nil(t, err)

	b.SetMemo("changed")
	assert.ErrorIs(t, b.Err(), ErrConstruction)
	assert.ErrorIs(t, b.Err(), ErrFrozen)

	after, err := tx.BodyBytes(0, ids.Account(3))
	assert.Nil(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "", tx.Memo())
}

func TestSetterValidation(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
	}{
		{"negative fee", New(transfer()).SetMaxTransactionFee(-1)},
		{"long memo", New(transfer()).SetMemo(string(bytes.Repeat([]byte("m"), MaxMemoLength+1)))},
		{"valid duration too long", New(transfer()).SetValidDuration(MaxValidDuration + time.Second)},
		{"zero chunk size", New(transfer()).SetChunkSize(0)},
		{"zero max chunks", New(transfer()).SetMaxChunks(0)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.b.Freeze(newEnv())
			assert.ErrorIs(t, err, ErrConstruction)
		})
	}
}

func TestFreezeWithoutOperatorOrNodes(t *testing.T) {
	_, err := New(transfer()).Freeze(nil)
	assert.ErrorIs(t, err, ErrFreeze)

	_, err = New(transfer()).SetTransactionID(ids.NewTransactionID(ids.Account(1001))).Freeze(nil)
	assert.ErrorIs(t, err, ErrFreeze)

	tx, err := New(transfer()).
		SetTransactionID(ids.NewTransactionID(ids.Account(1001))).
		SetNodeAccountIDs(ids.Account(3)).
		Freeze(nil)
	assert.Nil(t, err)
	assert.Equal(t, []ids.AccountID{ids.Account(3)}, tx.NodeAccountIDs())

	_, err = New(transfer()).SetNodeAccountIDs(ids.Account(3), ids.Account(3)).Freeze(newEnv())
	assert.ErrorIs(t, err, ErrFreeze)
}

func TestFreezeRejectsInvalidBody(t *testing.T) {
	_, err := New(&body.CryptoTransfer{}).Freeze(newEnv())
	assert.ErrorIs(t, err, ErrConstruction)
	assert.ErrorIs(t, err, body.ErrNoTransfers)
}

func TestSignTwiceAddsOneSignature(t *testing.T) {
	k := mustKey(t, keys.Ed25519)
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	assert.Nil(t, tx.Sign(k))
	assert.Nil(t, tx.Sign(k))
	for node, sigs := range tx.Signatures(0) {
		assert.Len(t, sigs, 1, node.String())
		assert.True(t, sigs.Has(k.PublicKey()))
	}
}

func TestDistinctSignersAddOneEntryEach(t *testing.T) {
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	signers := []keys.PrivateKey{
		mustKey(t, keys.Ed25519),
		mustKey(t, keys.ECDSASecp256k1),
		mustKey(t, keys.Ed25519),
	}
	for _, k := range signers {
		assert.Nil(t, tx.Sign(k))
	}
	for _, sigs := range tx.Signatures(0) {
		assert.Len(t, sigs, len(signers))
		for i, k := range signers {
			assert.True(t, sigs[i].PublicKey.Equal(k.PublicKey()))
		}
	}
}

func TestSignerErrorLeavesNoPartialSignatures(t *testing.T) {
	k := mustKey(t, keys.Ed25519)
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	var calls int
	err = tx.SignWith(k.PublicKey(), func(msg []byte) ([]byte, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("device unplugged")
		}
		return k.Sign(msg)
	})
	assert.ErrorIs(t, err, ErrSigning)
	for _, sigs := range tx.Signatures(0) {
		assert.Empty(t, sigs)
	}
}

func TestIsFullySignedThreshold(t *testing.T) {
	a, b, c := mustKey(t, keys.Ed25519), mustKey(t, keys.ECDSASecp256k1), mustKey(t, keys.Ed25519)
	threshold, err := keys.NewThresholdKey(2, a.PublicKey(), b.PublicKey(), c.PublicKey())
	assert.Nil(t, err)

	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	assert.Nil(t, tx.Sign(a))
	assert.False(t, tx.IsFullySigned(threshold))

	assert.Nil(t, tx.Sign(c))
	assert.True(t, tx.IsFullySigned(threshold))
	assert.False(t, tx.IsFullySigned(b.PublicKey()))
}

func TestBytesRoundTrip(t *testing.T) {
	k := mustKey(t, keys.Ed25519)
	tx, err := New(transfer()).SetMemo("invoice 7").Freeze(newEnv())
	assert.Nil(t, err)
	assert.Nil(t, tx.Sign(k))

	raw, err := tx.ToBytes()
	assert.Nil(t, err)

	restored, err := FromBytes(raw)
	assert.Nil(t, err)
	assert.True(t, restored.TransactionID().Equal(tx.TransactionID()))
	assert.Equal(t, tx.NodeAccountIDs(), restored.NodeAccountIDs())
	assert.Equal(t, "invoice 7", restored.Memo())
	assert.True(t, restored.IsFullySigned(k.PublicKey()))

	again, err := restored.ToBytes()
	assert.Nil(t, err)
	assert.Equal(t, raw, again)
}

func TestFromBytesRejectsEmptyList(t *testing.T) {
	raw, err := codec.EncodeTransactionList(nil)
	assert.Nil(t, err)
	_, err = FromBytes(raw)
	assert.ErrorIs(t, err, ErrUnfrozen)
}

func TestOfflineSigning(t *testing.T) {
	k := mustKey(t, keys.ECDSASecp256k1)
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	bodies := tx.Bodies()
	sigs := make([][]byte, 0, len(bodies))
	for _, b := range bodies {
		s, err := k.Sign(b)
		assert.Nil(t, err)
		sigs = append(sigs, s)
	}

	assert.ErrorIs(t, tx.AddSignature(k.PublicKey(), sigs[:1]), ErrSigning)

	tampered := append([][]byte{append([]byte(nil), sigs[0]...)}, sigs[1:]...)
	tampered[0][0] ^= 0xff
	assert.ErrorIs(t, tx.AddSignature(k.PublicKey(), tampered), ErrSigning)
	assert.False(t, tx.IsFullySigned(k.PublicKey()))

	assert.Nil(t, tx.AddSignature(k.PublicKey(), sigs))
	assert.True(t, tx.IsFullySigned(k.PublicKey()))
}

func TestExecutedTransactionIsSealed(t *testing.T) {
	k := mustKey(t, keys.Ed25519)
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)

	tx.MarkExecuted()
	assert.True(t, tx.IsExecuted())
	assert.ErrorIs(t, tx.Sign(k), ErrExecuted)
	_, err = tx.ToBytes()
	assert.ErrorIs(t, err, ErrExecuted)
}

func TestChunking(t *testing.T) {
	const size = 16
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4)
	payload = append(payload, 'x')

	tx, err := New(&body.TopicMessageSubmit{TopicID: ids.TopicID{Num: 9}, Message: payload}).
		SetChunkSize(size).
		Freeze(newEnv())
	assert.Nil(t, err)
	assert.Equal(t, 5, tx.ChunkCount())
	assert.Equal(t, 10, tx.CellCount())

	for i := 0; i < tx.ChunkCount(); i++ {
		info := tx.ChunkData(i).(body.Chunkable).Chunk()
		assert.NotNil(t, info)
		assert.Equal(t, int32(5), info.Total)
		assert.Equal(t, int32(i+1), info.Number)
		assert.True(t, info.InitialTransactionID.Equal(tx.TransactionID()))
		assert.Equal(t, int32(i), tx.ChunkTransactionID(i).Nonce)
		assert.LessOrEqual(t, len(tx.ChunkData(i).(body.Chunkable).Payload()), size)
	}
	assert.Len(t, tx.ChunkData(4).(body.Chunkable).Payload(), 1)

	joined, err := Reassemble(tx)
	assert.Nil(t, err)
	assert.Equal(t, payload, joined)

	raw, err := tx.ToBytes()
	assert.Nil(t, err)
	restored, err := FromBytes(raw)
	assert.Nil(t, err)
	assert.Equal(t, 5, restored.ChunkCount())
	joined, err = Reassemble(restored)
	assert.Nil(t, err)
	assert.Equal(t, payload, joined)
}

func TestPayloadOfExactChunkMultiple(t *testing.T) {
	const size = 16
	payload := bytes.Repeat([]byte("0123456789abcdef"), 3)

	tx, err := New(&body.FileAppend{FileID: ids.FileID{Num: 150}, Contents: payload}).
		SetChunkSize(size).
		Freeze(newEnv())
	assert.Nil(t, err)
	assert.Equal(t, 3, tx.ChunkCount())
	for i := 0; i < tx.ChunkCount(); i++ {
		assert.Len(t, tx.ChunkData(i).(body.Chunkable).Payload(), size)
	}

	joined, err := Reassemble(tx)
	assert.Nil(t, err)
	assert.Equal(t, payload, joined)

	single, err := New(&body.FileAppend{FileID: ids.FileID{Num: 150}, Contents: payload[:size]}).
		SetChunkSize(size).
		Freeze(newEnv())
	assert.Nil(t, err)
	assert.Equal(t, 1, single.ChunkCount())
}

func TestPayloadFittingOneChunkIsNotSplit(t *testing.T) {
	tx, err := New(&body.FileAppend{FileID: ids.FileID{Num: 150}, Contents: []byte("short")}).Freeze(newEnv())
	assert.Nil(t, err)
	assert.Equal(t, 1, tx.ChunkCount())
	assert.Nil(t, tx.Data().(body.Chunkable).Chunk())
}

func TestTooManyChunks(t *testing.T) {
	_, err := New(&body.FileAppend{FileID: ids.FileID{Num: 150}, Contents: make([]byte, 33)}).
		SetChunkSize(16).
		SetMaxChunks(2).
		Freeze(newEnv())
	assert.ErrorIs(t, err, ErrTooManyChunks)
	assert.ErrorIs(t, err, ErrConstruction)
}

func TestReassembleRejectsNonChunkable(t *testing.T) {
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)
	_, err = Reassemble(tx)
	assert.ErrorIs(t, err, ErrNotChunkable)
}

func TestRegenerateKeepsPayer(t *testing.T) {
	b := New(transfer())
	tx, err := b.Freeze(newEnv())
	assert.Nil(t, err)

	next := b.Regenerate()
	assert.False(t, next.IsFrozen())
	tx2, err := next.Freeze(newEnv())
	assert.Nil(t, err)
	assert.Equal(t, tx.Payer(), tx2.Payer())
	assert.False(t, tx.TransactionID().Equal(tx2.TransactionID()))
}

func TestSubmissionDecodesResponse(t *testing.T) {
	k := mustKey(t, keys.Ed25519)
	tx, err := New(transfer()).Freeze(newEnv())
	assert.Nil(t, err)
	assert.Nil(t, tx.Sign(k))

	sub := tx.Submission(0)
	assert.Equal(t, tx.Method(), sub.Method())
	raw, err := sub.Encode(ids.Account(4))
	assert.Nil(t, err)

	st, err := codec.DecodeTransaction(raw)
	assert.Nil(t, err)
	want, err := tx.BodyBytes(0, ids.Account(4))
	assert.Nil(t, err)
	assert.Equal(t, want, st.BodyBytes)
	assert.Len(t, st.SigMap, 1)

	resp := codec.EncodeTransactionResponse(status.Ok, 0)
	got, code, err := sub.Decode(ids.Account(4), resp)
	assert.Nil(t, err)
	assert.Equal(t, status.Ok, code)
	assert.Equal(t, ids.Account(4), got.NodeID)
	assert.Len(t, got.Hash, 48)
}
