package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

func testHeader() body.Header {
	return body.Header{
		TransactionID:  ids.NewTransactionIDWithValidStart(ids.Account(1001), time.Unix(1700000000, 42).UTC()),
		NodeAccountID:  ids.Account(3),
		TransactionFee: 100_000_000,
		ValidDuration:  120 * time.Second,
		Memo:           "memo",
	}
}

func mustKey(t *testing.T, curve keys.Curve) keys.PrivateKey {
	k, err := keys.GeneratePrivateKey(curve)
	assert.Nil(t, err)
	return k
}

func TestTransactionIDRoundTrip(t *testing.T) {
	id := ids.NewTransactionIDWithValidStart(ids.Account(7), time.Unix(1700000000, 999).UTC()).WithNonce(3).AsScheduled()
	got, err := DecodeTransactionID(EncodeTransactionID(id))
	assert.Nil(t, err)
	assert.True(t, id.Equal(got))
}

func TestTransferBodyRoundTripIsByteExact(t *testing.T) {
	h := testHeader()
	raw, err := EncodeTransactionBody(h, body.NewTransfer(ids.Account(1001), ids.Account(1002), 500))
	assert.Nil(t, err)

	gotHeader, gotData, err := DecodeTransactionBody(raw)
	assert.Nil(t, err)
	assert.True(t, h.TransactionID.Equal(gotHeader.TransactionID))
	assert.Equal(t, h.NodeAccountID, gotHeader.NodeAccountID)
	assert.Equal(t, h.TransactionFee, gotHeader.TransactionFee)
	assert.Equal(t, h.ValidDuration, gotHeader.ValidDuration)
	assert.Equal(t, h.Memo, gotHeader.Memo)

	transfer, ok := gotData.(*body.CryptoTransfer)
	assert.True(t, ok)
	assert.Equal(t, int64(-500), transfer.Transfers[0].Amount)
	assert.Equal(t, int64(500), transfer.Transfers[1].Amount)

	again, err := EncodeTransactionBody(gotHeader, gotData)
	assert.Nil(t, err)
	assert.Equal(t, raw, again)
}

func TestScheduleCreateRoundTripKeepsThresholdAdminKey(t *testing.T) {
	a, b, c := mustKey(t, keys.Ed25519), mustKey(t, keys.ECDSASecp256k1), mustKey(t, keys.Ed25519)
	admin, err := keys.NewThresholdKey(2, a.PublicKey(), b.PublicKey(), c.PublicKey())
	assert.Nil(t, err)
	payer := ids.Account(1010)

	data := &body.ScheduleCreate{
		Scheduled: body.SchedulableBody{
			TransactionFee: 10,
			Memo:           "inner",
			Data:           body.NewTransfer(ids.Account(1), ids.Account(2), 1),
		},
		ScheduleMemo:   "outer",
		AdminKey:       admin,
		PayerAccountID: &payer,
		ExpirationTime: time.Unix(1800000000, 0).UTC(),
		WaitForExpiry:  true,
	}
	raw, err := EncodeTransactionBody(testHeader(), data)
	assert.Nil(t, err)

	_, got, err := DecodeTransactionBody(raw)
	assert.Nil(t, err)
	sc, ok := got.(*body.ScheduleCreate)
	assert.True(t, ok)
	assert.Equal(t, "outer", sc.ScheduleMemo)
	assert.Equal(t, "inner", sc.Scheduled.Memo)
	assert.Equal(t, payer, *sc.PayerAccountID)
	assert.True(t, sc.WaitForExpiry)
	assert.Equal(t, body.KindCryptoTransfer, sc.Scheduled.Data.Kind())

	kl, ok := sc.AdminKey.(*keys.KeyList)
	assert.True(t, ok)
	assert.Equal(t, 2, kl.Threshold)
	assert.Len(t, kl.Keys, 3)
	assert.True(t, kl.IsSatisfied(keys.SignedBy(a.PublicKey(), b.PublicKey())))
	assert.False(t, kl.IsSatisfied(keys.SignedBy(c.PublicKey())))
}

func TestChunkedTopicMessageRoundTrip(t *testing.T) {
	h := testHeader()
	data := &body.TopicMessageSubmit{
		TopicID: ids.TopicID{Num: 77},
		Message: []byte("part"),
		ChunkInfo: &body.ChunkInfo{
			InitialTransactionID: h.TransactionID,
			Total:                3,
			Number:               2,
		},
	}
	raw, err := EncodeTransactionBody(h, data)
	assert.Nil(t, err)

	_, got, err := DecodeTransactionBody(raw)
	assert.Nil(t, err)
	msg := got.(*body.TopicMessageSubmit)
	assert.Equal(t, []byte("part"), msg.Message)
	assert.Equal(t, int32(3), msg.ChunkInfo.Total)
	assert.Equal(t, int32(2), msg.ChunkInfo.Number)
	assert.True(t, h.TransactionID.Equal(msg.ChunkInfo.InitialTransactionID))
}

func TestDecodeBodyWithoutDataFails(t *testing.T) {
	raw := appendString(nil, 6, "memo only")
	_, _, err := DecodeTransactionBody(raw)
	assert.ErrorIs(t, err, ErrUnknownBody)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	raw, err := EncodeTransactionBody(testHeader(), body.NewTransfer(ids.Account(1), ids.Account(2), 5))
	assert.Nil(t, err)
	raw = protowire.AppendTag(raw, 99, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 12345)

	_, d, err := DecodeTransactionBody(raw)
	assert.Nil(t, err)
	assert.Equal(t, body.KindCryptoTransfer, d.Kind())
}

func TestSignedTransactionListRoundTripIsByteExact(t *testing.T) {
	ed, ec := mustKey(t, keys.Ed25519), mustKey(t, keys.ECDSASecp256k1)
	bodyBytes, err := EncodeTransactionBody(testHeader(), body.NewTransfer(ids.Account(1), ids.Account(2), 5))
	assert.Nil(t, err)

	edSig, err := ed.Sign(bodyBytes)
	assert.Nil(t, err)
	ecSig, err := ec.Sign(bodyBytes)
	assert.Nil(t, err)

	list := []SignedTransaction{
		{BodyBytes: bodyBytes, SigMap: []SigPair{{PublicKey: ed.PublicKey(), Signature: edSig}, {PublicKey: ec.PublicKey(), Signature: ecSig}}},
		{BodyBytes: bodyBytes},
	}
	raw, err := EncodeTransactionList(list)
	assert.Nil(t, err)

	got, err := DecodeTransactionList(raw)
	assert.Nil(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, bodyBytes, got[0].BodyBytes)
	assert.Len(t, got[0].SigMap, 2)
	assert.True(t, got[0].SigMap[0].PublicKey.Equal(ed.PublicKey()))
	assert.True(t, got[0].SigMap[1].PublicKey.Equal(ec.PublicKey()))
	assert.True(t, got[0].SigMap[1].PublicKey.Verify(got[0].BodyBytes, got[0].SigMap[1].Signature))
	assert.Empty(t, got[1].SigMap)

	again, err := EncodeTransactionList(got)
	assert.Nil(t, err)
	assert.Equal(t, raw, again)
}

func TestDecodeKeyRejectsExcessiveNesting(t *testing.T) {
	raw, err := EncodeKey(mustKey(t, keys.Ed25519).PublicKey())
	assert.Nil(t, err)
	for i := 0; i < keys.MaxKeyDepth; i++ {
		raw = appendMessage(nil, 6, appendMessage(nil, 1, raw))
	}
	_, err = DecodeKey(raw)
	assert.ErrorIs(t, err, keys.ErrKeyDepthExceeded)
}

func TestReceiptResponseRoundTrip(t *testing.T) {
	account := ids.Account(2024)
	scheduled := ids.NewTransactionIDWithValidStart(ids.Account(5), time.Unix(1700000001, 0).UTC()).AsScheduled()
	schedule := ids.ScheduleID{Num: 9}
	resp := Response{
		Kind:   QueryReceipt,
		Status: status.Ok,
		Receipt: &receipt.Receipt{
			Status:                 status.Success,
			AccountID:              &account,
			ScheduleID:             &schedule,
			ScheduledTransactionID: &scheduled,
		},
	}
	raw, err := EncodeResponse(resp)
	assert.Nil(t, err)

	got, err := DecodeResponse(raw)
	assert.Nil(t, err)
	assert.Equal(t, QueryReceipt, got.Kind)
	assert.Equal(t, status.Ok, got.Status)
	assert.Equal(t, status.Success, got.Receipt.Status)
	assert.Equal(t, account, *got.Receipt.AccountID)
	assert.Equal(t, schedule, *got.Receipt.ScheduleID)
	assert.True(t, scheduled.Equal(*got.Receipt.ScheduledTransactionID))
	assert.Nil(t, got.Receipt.FileID)
}

func TestRecordQueryCarriesPaymentAndResponseType(t *testing.T) {
	id := ids.NewTransactionIDWithValidStart(ids.Account(5), time.Unix(1700000002, 0).UTC())
	q := Query{Kind: QueryRecord, Payment: []byte{1, 2, 3}, ResponseType: CostAnswer, TransactionID: id}
	raw, err := EncodeQuery(q)
	assert.Nil(t, err)

	got, err := DecodeQuery(raw)
	assert.Nil(t, err)
	assert.Equal(t, QueryRecord, got.Kind)
	assert.Equal(t, []byte{1, 2, 3}, got.Payment)
	assert.Equal(t, CostAnswer, got.ResponseType)
	assert.True(t, id.Equal(got.TransactionID))
}

func TestTransactionResponse(t *testing.T) {
	code, cost, err := DecodeTransactionResponse(EncodeTransactionResponse(status.InvalidSignature, 17))
	assert.Nil(t, err)
	assert.Equal(t, status.InvalidSignature, code)
	assert.Equal(t, uint64(17), cost)
}
