package signshare

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/transaction"
)

func frozen(t *testing.T) *transaction.Transaction {
	tx, err := transaction.New(&body.TopicMessageSubmit{TopicID: ids.TopicID{Num: 1001}, Message: make([]byte, 40)}).
		SetTransactionID(ids.NewTransactionID(ids.Account(1001))).
		SetNodeAccountIDs(ids.Account(3), ids.Account(4)).
		SetChunkSize(16).
		Freeze(nil)
	assert.Nil(t, err)
	return tx
}

func generate(t *testing.T, curve keys.Curve) keys.PrivateKey {
	k, err := keys.GeneratePrivateKey(curve)
	assert.Nil(t, err)
	return k
}

func TestSignersReachThreshold(t *testing.T) {
	tx := frozen(t)
	raw, err := tx.ToBytes()
	assert.Nil(t, err)

	signers := []keys.PrivateKey{generate(t, keys.Ed25519), generate(t, keys.ECDSASecp256k1), generate(t, keys.Ed25519)}
	threshold, err := keys.NewThresholdKey(2, signers[0].PublicKey(), signers[1].PublicKey(), signers[2].PublicKey())
	assert.Nil(t, err)

	for i, s := range signers[:2] {
		r, err := Sign(raw, s, nil)
		assert.Nil(t, err)
		assert.Len(t, r.Signatures, 6)

		data, err := EncodeReply(r)
		assert.Nil(t, err)
		decoded, err := DecodeReply(data)
		assert.Nil(t, err)

		assert.Nil(t, Attach(tx, decoded))
		assert.Equal(t, i == 1, tx.IsFullySigned(threshold))
	}
}

func TestRefusedReply(t *testing.T) {
	tx := frozen(t)
	raw, err := tx.ToBytes()
	assert.Nil(t, err)

	r, err := Sign(raw, generate(t, keys.Ed25519), func(tx *transaction.Transaction) bool {
		return tx.Kind() == body.KindCryptoTransfer
	})
	assert.Nil(t, err)
	assert.True(t, r.Refused)

	data, err := EncodeReply(r)
	assert.Nil(t, err)
	decoded, err := DecodeReply(data)
	assert.Nil(t, err)
	assert.ErrorIs(t, Attach(tx, decoded), ErrRefused)
}

func TestForeignSignatureIsRejected(t *testing.T) {
	tx := frozen(t)
	other := frozen(t)
	raw, err := other.ToBytes()
	assert.Nil(t, err)

	r, err := Sign(raw, generate(t, keys.Ed25519), nil)
	assert.Nil(t, err)
	assert.ErrorIs(t, Attach(tx, r), transaction.ErrSigning)
	for _, sigs := range tx.Signatures(0) {
		assert.Empty(t, sigs)
	}
}

func TestDecodeReplyRejectsGarbage(t *testing.T) {
	_, err := DecodeReply([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = DecodeReply(nil)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestSignRejectsMalformedTransaction(t *testing.T) {
	_, err := Sign([]byte{0xff}, generate(t, keys.Ed25519), nil)
	assert.ErrorIs(t, err, transaction.ErrMalformed)
}
